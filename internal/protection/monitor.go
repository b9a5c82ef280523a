// Package protection implements the safety watchdog that samples server
// health in the background and aborts an analysis run that pushes the target
// out of its safe operating bounds.
package protection

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pgmedic/pgmedic/internal/core"
	"github.com/pgmedic/pgmedic/internal/logging"
)

// Options tunes the watchdog beyond the raw thresholds.
type Options struct {
	// Hysteresis is the number of consecutive breaching samples required to
	// abort. 1 (the default) aborts on the first breach.
	Hysteresis int

	// SampleTimeout bounds each Metrics Source call. Zero means one check
	// interval.
	SampleTimeout time.Duration

	// HistorySize bounds the retained sample ring.
	HistorySize int
}

const defaultHistorySize = 720

// Monitor is the per-run watchdog. The sampling goroutine is the sole writer
// of all guarded state; the orchestrator only reads.
type Monitor struct {
	thresholds    core.ThresholdConfig
	hysteresis    int
	sampleTimeout time.Duration
	historySize   int
	source        core.MetricsSource
	logger        *logging.Logger

	aborted atomic.Bool

	mu             sync.RWMutex
	state          core.ProtectionState
	violations     []core.ViolationEvent
	history        []core.Sample
	samplesTaken   int
	samplesSkipped int
	lastTimestamp  time.Time
	streak         int

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  time.Time
}

// Start validates the thresholds, spawns the sampling loop and returns a live
// monitor in state Monitoring. The only error it can return is a ConfigError.
func Start(thresholds core.ThresholdConfig, source core.MetricsSource, logger *logging.Logger, opts Options) (*Monitor, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.Hysteresis < 1 {
		opts.Hysteresis = 1
	}
	if opts.SampleTimeout <= 0 {
		opts.SampleTimeout = thresholds.CheckInterval
	}
	if opts.HistorySize < 1 {
		opts.HistorySize = defaultHistorySize
	}

	m := &Monitor{
		thresholds:    thresholds,
		hysteresis:    opts.Hysteresis,
		sampleTimeout: opts.SampleTimeout,
		historySize:   opts.HistorySize,
		source:        source,
		logger:        logger,
		state:         core.StateMonitoring,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		started:       time.Now(),
	}

	go m.loop()

	logger.Info("protection monitoring started",
		"interval", thresholds.CheckInterval,
		"max_cpu_percent", thresholds.MaxCPUPercent,
		"max_memory_percent", thresholds.MaxMemoryPercent,
		"max_connections", thresholds.MaxConnections,
		"max_blocking_sessions", thresholds.MaxBlockingSessions,
		"hysteresis", opts.Hysteresis,
	)
	return m, nil
}

// loop samples at every tick until stopped. At most one sample is in flight
// at a time; an overrunning call is abandoned at the timeout, never queued.
func (m *Monitor) loop() {
	defer close(m.doneCh)

	// First sample immediately so a server already in distress aborts the
	// run before the first phase, not one interval in.
	m.sampleOnce()

	ticker := time.NewTicker(m.thresholds.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sampleOnce()
		}
	}
}

func (m *Monitor) sampleOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), m.sampleTimeout)
	defer cancel()

	sample, err := m.source.Sample(ctx)
	if err != nil {
		m.mu.Lock()
		m.samplesSkipped++
		skipped := m.samplesSkipped
		m.mu.Unlock()
		m.logger.Warn("metrics sample skipped", "error", err, "skipped_total", skipped)
		return
	}

	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	m.record(sample)
}

// record appends the sample, evaluates thresholds and advances the breach
// streak. Runs only on the sampling goroutine.
func (m *Monitor) record(sample core.Sample) {
	m.mu.Lock()

	// Timestamps within one run are strictly increasing; a clock that did
	// not move gets nudged rather than violating the invariant.
	if !sample.Timestamp.After(m.lastTimestamp) {
		sample.Timestamp = m.lastTimestamp.Add(time.Nanosecond)
	}
	m.lastTimestamp = sample.Timestamp

	m.samplesTaken++
	m.history = append(m.history, sample)
	if len(m.history) > m.historySize {
		m.history = m.history[len(m.history)-m.historySize:]
	}

	events := Evaluate(sample, m.thresholds)
	m.violations = append(m.violations, events...)

	if len(events) == 0 {
		m.streak = 0
		m.mu.Unlock()
		return
	}

	m.streak++
	trip := m.streak >= m.hysteresis && m.state == core.StateMonitoring
	if trip {
		m.state = core.StateViolated
	}
	m.mu.Unlock()

	for _, ev := range events {
		m.logger.Warn("threshold violated",
			"metric", string(ev.Metric),
			"observed", ev.Observed,
			"threshold", ev.Threshold,
		)
	}

	if trip {
		m.aborted.Store(true)
		m.logger.Error("aborting analysis to protect the server",
			"consecutive_breaches", m.hysteresis,
			"violations", len(events),
		)
	}
}

// Evaluate flags every metric whose observed value strictly exceeds its
// threshold, in fixed metric order. A sample breaching several thresholds
// yields several events with the sample's timestamp.
func Evaluate(sample core.Sample, t core.ThresholdConfig) []core.ViolationEvent {
	var events []core.ViolationEvent
	if sample.CPUPercent > t.MaxCPUPercent {
		events = append(events, core.ViolationEvent{
			Timestamp: sample.Timestamp,
			Metric:    core.MetricCPUPercent,
			Observed:  sample.CPUPercent,
			Threshold: t.MaxCPUPercent,
		})
	}
	if sample.MemoryPercent > t.MaxMemoryPercent {
		events = append(events, core.ViolationEvent{
			Timestamp: sample.Timestamp,
			Metric:    core.MetricMemoryPercent,
			Observed:  sample.MemoryPercent,
			Threshold: t.MaxMemoryPercent,
		})
	}
	if sample.ConnectionCount > t.MaxConnections {
		events = append(events, core.ViolationEvent{
			Timestamp: sample.Timestamp,
			Metric:    core.MetricConnections,
			Observed:  float64(sample.ConnectionCount),
			Threshold: float64(t.MaxConnections),
		})
	}
	if sample.BlockingSessionCount > t.MaxBlockingSessions {
		events = append(events, core.ViolationEvent{
			Timestamp: sample.Timestamp,
			Metric:    core.MetricBlockingSessions,
			Observed:  float64(sample.BlockingSessionCount),
			Threshold: float64(t.MaxBlockingSessions),
		})
	}
	return events
}

// IsAborted is a non-blocking read of the abort flag.
func (m *Monitor) IsAborted() bool {
	return m.aborted.Load()
}

// State reports the current lifecycle state.
func (m *Monitor) State() core.ProtectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Violations returns a copy of the breach events in detection order.
func (m *Monitor) Violations() []core.ViolationEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.ViolationEvent, len(m.violations))
	copy(out, m.violations)
	return out
}

// History returns a copy of the bounded recent-sample ring.
func (m *Monitor) History() []core.Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.Sample, len(m.history))
	copy(out, m.history)
	return out
}

// SamplesTaken reports how many samples were recorded.
func (m *Monitor) SamplesTaken() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.samplesTaken
}

// SamplesSkipped reports how many sampling attempts failed or timed out.
func (m *Monitor) SamplesSkipped() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.samplesSkipped
}

// Stop signals the loop, waits for it to exit and moves the state to
// Stopped. Idempotent; any caller returns only after the goroutine is gone.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	<-m.doneCh

	m.mu.Lock()
	if m.state.CanTransition(core.StateStopped) {
		m.state = core.StateStopped
	}
	summary := m.summaryLocked()
	m.mu.Unlock()

	m.logger.Info("protection monitoring stopped",
		"samples_taken", summary.SamplesTaken,
		"samples_skipped", summary.SamplesSkipped,
		"violations", summary.ViolationCount,
		"peak_cpu_percent", summary.PeakCPUPercent,
		"peak_memory_percent", summary.PeakMemoryPercent,
		"duration", summary.Duration,
	)
}

// Summary condenses one monitoring run for the report.
type Summary struct {
	SamplesTaken      int           `json:"samples_taken"`
	SamplesSkipped    int           `json:"samples_skipped"`
	ViolationCount    int           `json:"violation_count"`
	PeakCPUPercent    float64       `json:"peak_cpu_percent"`
	PeakMemoryPercent float64       `json:"peak_memory_percent"`
	Duration          time.Duration `json:"duration"`
	Aborted           bool          `json:"aborted"`
}

// Summary returns the run summary so far.
func (m *Monitor) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.summaryLocked()
}

func (m *Monitor) summaryLocked() Summary {
	s := Summary{
		SamplesTaken:   m.samplesTaken,
		SamplesSkipped: m.samplesSkipped,
		ViolationCount: len(m.violations),
		Duration:       time.Since(m.started).Round(time.Millisecond),
		Aborted:        m.aborted.Load(),
	}
	for _, sample := range m.history {
		if sample.CPUPercent > s.PeakCPUPercent {
			s.PeakCPUPercent = sample.CPUPercent
		}
		if sample.MemoryPercent > s.PeakMemoryPercent {
			s.PeakMemoryPercent = sample.MemoryPercent
		}
	}
	return s
}
