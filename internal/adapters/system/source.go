// Package system reads host-level health metrics through gopsutil.
package system

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/pgmedic/pgmedic/internal/core"
)

// Source implements core.MetricsSource with host CPU and memory readings.
// Connection and blocking-session counts are zero; a database source fills
// those in.
type Source struct{}

// New creates a host metrics source.
func New() *Source {
	return &Source{}
}

// Sample implements core.MetricsSource.
func (s *Source) Sample(ctx context.Context) (core.Sample, error) {
	// Interval 0 compares against the previous call instead of blocking for
	// a measurement window.
	cpuPct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return core.Sample{}, core.ErrMetricsUnavailable("reading cpu usage").WithCause(err)
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return core.Sample{}, core.ErrMetricsUnavailable("reading memory usage").WithCause(err)
	}

	sample := core.Sample{
		Timestamp:     time.Now(),
		MemoryPercent: vm.UsedPercent,
	}
	if len(cpuPct) > 0 {
		sample.CPUPercent = cpuPct[0]
	}
	return sample, nil
}
