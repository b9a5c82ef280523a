// Package analysis orchestrates the diagnostic phases under the watch of the
// protection monitor.
package analysis

import (
	"context"
	"errors"

	"github.com/pgmedic/pgmedic/internal/adapters/postgres"
	"github.com/pgmedic/pgmedic/internal/adapters/system"
)

// PhaseFunc runs one diagnostic phase. A non-empty warning with a nil error
// means the phase completed but has something to flag in the report.
type PhaseFunc func(ctx context.Context) (findings any, warning string, err error)

// Phase is one entry in the ordered diagnostic table.
type Phase struct {
	Key   string
	Title string
	Run   PhaseFunc
}

// Phase keys, in execution order.
const (
	PhaseConnectionActivity = "connection_activity"
	PhaseBlockingLocks      = "blocking_locks"
	PhaseCacheHit           = "cache_hit"
	PhaseSlowQueries        = "slow_queries"
	PhaseIndexHealth        = "index_health"
	PhaseTableBloat         = "table_bloat"
	PhaseHostResources      = "host_resources"
)

// BuildPhases assembles the phase table. With a nil analyzer (no database
// configured) only the host phase remains.
func BuildPhases(analyzer *postgres.Analyzer, slowQueryLimit int) []Phase {
	var phases []Phase
	if analyzer != nil {
		phases = append(phases,
			Phase{PhaseConnectionActivity, "Connection activity", func(ctx context.Context) (any, string, error) {
				findings, err := analyzer.ConnectionActivity(ctx)
				return findings, "", err
			}},
			Phase{PhaseBlockingLocks, "Blocking locks", func(ctx context.Context) (any, string, error) {
				findings, err := analyzer.BlockingLocks(ctx)
				return findings, "", err
			}},
			Phase{PhaseCacheHit, "Cache hit ratio", func(ctx context.Context) (any, string, error) {
				findings, err := analyzer.CacheHit(ctx)
				return findings, "", err
			}},
			Phase{PhaseSlowQueries, "Slow queries", func(ctx context.Context) (any, string, error) {
				findings, err := analyzer.SlowQueries(ctx, slowQueryLimit)
				if errors.Is(err, postgres.ErrStatStatementsMissing) {
					return nil, "pg_stat_statements is not installed; slow query analysis skipped", nil
				}
				return findings, "", err
			}},
			Phase{PhaseIndexHealth, "Index health", func(ctx context.Context) (any, string, error) {
				findings, err := analyzer.IndexHealth(ctx)
				return findings, "", err
			}},
			Phase{PhaseTableBloat, "Table bloat", func(ctx context.Context) (any, string, error) {
				findings, err := analyzer.TableBloatStats(ctx)
				return findings, "", err
			}},
		)
	}
	phases = append(phases,
		Phase{PhaseHostResources, "Host resources", func(ctx context.Context) (any, string, error) {
			return system.Snapshot(ctx)
		}},
	)
	return phases
}
