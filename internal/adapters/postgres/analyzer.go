package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Analyzer runs the per-phase diagnostic queries.
type Analyzer struct {
	client *Client
}

// NewAnalyzer creates an analyzer over an existing client.
func NewAnalyzer(client *Client) *Analyzer {
	return &Analyzer{client: client}
}

// ConnectionActivity totals sessions by state.
type ConnectionActivity struct {
	ByState map[string]int `json:"by_state"`
	Total   int            `json:"total"`
}

// ConnectionActivity reports session totals from pg_stat_activity.
func (a *Analyzer) ConnectionActivity(ctx context.Context) (*ConnectionActivity, error) {
	rows, err := a.client.pool.Query(ctx, `
		SELECT coalesce(state, 'unknown'), count(*)
		FROM pg_stat_activity
		WHERE pid <> pg_backend_pid()
		GROUP BY 1 ORDER BY 2 DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying connection activity: %w", err)
	}
	defer rows.Close()

	out := &ConnectionActivity{ByState: make(map[string]int)}
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		out.ByState[state] = count
		out.Total += count
	}
	return out, rows.Err()
}

// BlockedSession is one blocked/blocking pair.
type BlockedSession struct {
	BlockedPID   int    `json:"blocked_pid"`
	BlockingPIDs []int  `json:"blocking_pids"`
	WaitEvent    string `json:"wait_event"`
	Query        string `json:"query"`
}

// BlockingLocks lists sessions currently blocked by another backend.
func (a *Analyzer) BlockingLocks(ctx context.Context) ([]BlockedSession, error) {
	rows, err := a.client.pool.Query(ctx, `
		SELECT pid,
		       pg_blocking_pids(pid),
		       coalesce(wait_event, ''),
		       left(coalesce(query, ''), 200)
		FROM pg_stat_activity
		WHERE cardinality(pg_blocking_pids(pid)) > 0
		ORDER BY pid`)
	if err != nil {
		return nil, fmt.Errorf("querying blocking locks: %w", err)
	}
	defer rows.Close()

	var out []BlockedSession
	for rows.Next() {
		var s BlockedSession
		if err := rows.Scan(&s.BlockedPID, &s.BlockingPIDs, &s.WaitEvent, &s.Query); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CacheHitRatio is per-database buffer cache effectiveness.
type CacheHitRatio struct {
	Database string  `json:"database"`
	Ratio    float64 `json:"ratio"`
}

// CacheHit reports buffer cache hit ratios per database.
func (a *Analyzer) CacheHit(ctx context.Context) ([]CacheHitRatio, error) {
	rows, err := a.client.pool.Query(ctx, `
		SELECT datname,
		       CASE WHEN blks_hit + blks_read = 0 THEN 1.0
		            ELSE blks_hit::float / (blks_hit + blks_read) END
		FROM pg_stat_database
		WHERE datname IS NOT NULL
		ORDER BY datname`)
	if err != nil {
		return nil, fmt.Errorf("querying cache hit ratios: %w", err)
	}
	defer rows.Close()

	var out []CacheHitRatio
	for rows.Next() {
		var r CacheHitRatio
		if err := rows.Scan(&r.Database, &r.Ratio); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SlowQuery is one statement from pg_stat_statements.
type SlowQuery struct {
	Query      string  `json:"query"`
	Calls      int64   `json:"calls"`
	MeanTimeMS float64 `json:"mean_time_ms"`
	TotalTimeS float64 `json:"total_time_s"`
}

// ErrStatStatementsMissing marks a server without the pg_stat_statements
// extension; the phase completes with a warning, not an error.
var ErrStatStatementsMissing = errors.New("pg_stat_statements is not installed")

// SlowQueries returns the top statements by mean execution time.
func (a *Analyzer) SlowQueries(ctx context.Context, limit int) ([]SlowQuery, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := a.client.pool.Query(ctx, `
		SELECT left(query, 200), calls, mean_exec_time, total_exec_time / 1000
		FROM pg_stat_statements
		ORDER BY mean_exec_time DESC
		LIMIT $1`, limit)
	if err != nil {
		var pgErr *pgconn.PgError
		// 42P01 undefined_table: the extension is not installed.
		if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
			return nil, ErrStatStatementsMissing
		}
		return nil, fmt.Errorf("querying slow statements: %w", err)
	}
	defer rows.Close()

	var out []SlowQuery
	for rows.Next() {
		var q SlowQuery
		if err := rows.Scan(&q.Query, &q.Calls, &q.MeanTimeMS, &q.TotalTimeS); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// IndexFinding is one suspicious index.
type IndexFinding struct {
	Table   string `json:"table"`
	Index   string `json:"index"`
	Problem string `json:"problem"` // unused | invalid
	SizeMB  int64  `json:"size_mb"`
}

// IndexHealth flags unused and invalid indexes.
func (a *Analyzer) IndexHealth(ctx context.Context) ([]IndexFinding, error) {
	rows, err := a.client.pool.Query(ctx, `
		SELECT s.relname,
		       s.indexrelname,
		       CASE WHEN NOT i.indisvalid THEN 'invalid' ELSE 'unused' END,
		       pg_relation_size(s.indexrelid) / 1024 / 1024
		FROM pg_stat_user_indexes s
		JOIN pg_index i ON i.indexrelid = s.indexrelid
		WHERE s.idx_scan = 0 OR NOT i.indisvalid
		ORDER BY pg_relation_size(s.indexrelid) DESC
		LIMIT 50`)
	if err != nil {
		return nil, fmt.Errorf("querying index health: %w", err)
	}
	defer rows.Close()

	var out []IndexFinding
	for rows.Next() {
		var f IndexFinding
		if err := rows.Scan(&f.Table, &f.Index, &f.Problem, &f.SizeMB); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// TableBloat is one table's dead-tuple ratio.
type TableBloat struct {
	Table          string  `json:"table"`
	LiveTuples     int64   `json:"live_tuples"`
	DeadTuples     int64   `json:"dead_tuples"`
	DeadRatio      float64 `json:"dead_ratio"`
	LastAutovacuum string  `json:"last_autovacuum,omitempty"`
}

// TableBloatStats reports tables with a noticeable dead-tuple share.
func (a *Analyzer) TableBloatStats(ctx context.Context) ([]TableBloat, error) {
	rows, err := a.client.pool.Query(ctx, `
		SELECT relname,
		       n_live_tup,
		       n_dead_tup,
		       CASE WHEN n_live_tup + n_dead_tup = 0 THEN 0
		            ELSE n_dead_tup::float / (n_live_tup + n_dead_tup) END,
		       coalesce(last_autovacuum::text, '')
		FROM pg_stat_user_tables
		WHERE n_dead_tup > 1000
		ORDER BY n_dead_tup DESC
		LIMIT 50`)
	if err != nil {
		return nil, fmt.Errorf("querying table bloat: %w", err)
	}
	defer rows.Close()

	var out []TableBloat
	for rows.Next() {
		var b TableBloat
		if err := rows.Scan(&b.Table, &b.LiveTuples, &b.DeadTuples, &b.DeadRatio, &b.LastAutovacuum); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
