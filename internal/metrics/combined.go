// Package metrics composes the host and database readings into the single
// MetricsSource the watchdog samples.
package metrics

import (
	"context"
	"time"

	"github.com/pgmedic/pgmedic/internal/core"
)

// Combined merges host CPU/memory readings with database connection counts.
// With no database source configured it degrades to host-only readings.
type Combined struct {
	host core.MetricsSource
	db   core.MetricsSource
}

// NewCombined builds the merged source. db may be nil.
func NewCombined(host, db core.MetricsSource) *Combined {
	return &Combined{host: host, db: db}
}

// Sample reads both halves. An error from either half fails the whole
// sample; the watchdog treats that as one skipped sample, never as a
// violation.
func (c *Combined) Sample(ctx context.Context) (core.Sample, error) {
	hostSample, err := c.host.Sample(ctx)
	if err != nil {
		return core.Sample{}, err
	}
	if c.db == nil {
		return hostSample, nil
	}

	dbSample, err := c.db.Sample(ctx)
	if err != nil {
		return core.Sample{}, err
	}

	return core.Sample{
		Timestamp:            time.Now(),
		CPUPercent:           hostSample.CPUPercent,
		MemoryPercent:        hostSample.MemoryPercent,
		ConnectionCount:      dbSample.ConnectionCount,
		BlockingSessionCount: dbSample.BlockingSessionCount,
	}, nil
}
