// Package postgres supplies database-side health metrics and the analyzer
// queries over one pgx connection pool.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pgmedic/pgmedic/internal/core"
)

// Client owns the connection pool shared by the metrics source and the
// analyzer queries.
type Client struct {
	pool *pgxpool.Pool
}

// Connect opens a pool against the DSN and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*Client, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}
	// A diagnostics tool must not become a connection hog on the very
	// server it is inspecting.
	cfg.MaxConns = 2
	cfg.MinConns = 0

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Client{pool: pool}, nil
}

// Close releases the pool.
func (c *Client) Close() {
	c.pool.Close()
}

// Pool exposes the pool for the analyzer.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Sample implements core.MetricsSource with connection and blocking-session
// counts from pg_stat_activity. CPU and memory are zero; the host source
// fills those in.
func (c *Client) Sample(ctx context.Context) (core.Sample, error) {
	var connections, blocked int

	err := c.pool.QueryRow(ctx,
		`SELECT count(*) FROM pg_stat_activity WHERE pid <> pg_backend_pid()`,
	).Scan(&connections)
	if err != nil {
		return core.Sample{}, core.ErrMetricsUnavailable("counting connections").WithCause(err)
	}

	err = c.pool.QueryRow(ctx,
		`SELECT count(*) FROM pg_stat_activity
		 WHERE cardinality(pg_blocking_pids(pid)) > 0`,
	).Scan(&blocked)
	if err != nil {
		return core.Sample{}, core.ErrMetricsUnavailable("counting blocked sessions").WithCause(err)
	}

	return core.Sample{
		Timestamp:            time.Now(),
		ConnectionCount:      connections,
		BlockingSessionCount: blocked,
	}, nil
}
