// Package registry persists collection ownership in SQLite, so a later run
// can recognize collections an earlier run created and is allowed to delete.
package registry

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pgmedic/pgmedic/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteRegistry implements core.OwnershipRegistry with SQLite storage.
// Concurrent-process safety is delegated to SQLite (WAL journal).
type SQLiteRegistry struct {
	dbPath string
	db     *sql.DB
}

// Open creates (or reopens) the registry database at dbPath, applying
// pending migrations.
func Open(dbPath string) (*SQLiteRegistry, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating registry directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening registry database: %w", err)
	}

	r := &SQLiteRegistry{dbPath: dbPath, db: db}
	if err := r.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return r, nil
}

func (r *SQLiteRegistry) migrate() error {
	var version int
	err := r.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		version = 0
	}
	if version < 1 {
		if _, err := r.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (r *SQLiteRegistry) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// MarkManaged upserts an ownership row for a collection this run created.
func (r *SQLiteRegistry) MarkManaged(ctx context.Context, name string, counters []string, runID core.RunID) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return core.ErrState(core.CodeRegistry, "encoding counters").WithCause(err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO managed_collections (name, counters, run_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			counters = excluded.counters,
			run_id = excluded.run_id`,
		name, string(countersJSON), string(runID), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return core.ErrState(core.CodeRegistry, "recording managed collection").WithCause(err)
	}
	return nil
}

// IsManaged reports whether this tool created the named collection.
func (r *SQLiteRegistry) IsManaged(ctx context.Context, name string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		"SELECT 1 FROM managed_collections WHERE name = ?", name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, core.ErrState(core.CodeRegistry, "looking up ownership").WithCause(err)
	}
	return true, nil
}

// Unmark removes the ownership row. Removing an absent row is not an error.
func (r *SQLiteRegistry) Unmark(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM managed_collections WHERE name = ?", name)
	if err != nil {
		return core.ErrState(core.CodeRegistry, "removing ownership record").WithCause(err)
	}
	return nil
}

// List returns every ownership row, name-sorted.
func (r *SQLiteRegistry) List(ctx context.Context) ([]core.ManagedCollection, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, counters, run_id, created_at
		FROM managed_collections ORDER BY name`)
	if err != nil {
		return nil, core.ErrState(core.CodeRegistry, "listing ownership records").WithCause(err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.ManagedCollection
	for rows.Next() {
		var (
			row          core.ManagedCollection
			countersJSON string
			runID        string
			createdAt    string
		)
		if err := rows.Scan(&row.Name, &countersJSON, &runID, &createdAt); err != nil {
			return nil, core.ErrState(core.CodeRegistry, "scanning ownership record").WithCause(err)
		}
		if err := json.Unmarshal([]byte(countersJSON), &row.Counters); err != nil {
			return nil, core.ErrState(core.CodeRegistry, "decoding counters").WithCause(err)
		}
		row.RunID = core.RunID(runID)
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			row.CreatedAt = ts
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
