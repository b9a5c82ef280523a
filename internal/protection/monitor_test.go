package protection

import (
	"errors"
	"testing"
	"time"

	"github.com/pgmedic/pgmedic/internal/core"
	"github.com/pgmedic/pgmedic/internal/logging"
	"github.com/pgmedic/pgmedic/internal/testutil"
)

func fastThresholds() core.ThresholdConfig {
	th := testThresholds()
	th.CheckInterval = time.Second
	return th
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestStart_RejectsInvalidThresholds(t *testing.T) {
	bad := fastThresholds()
	bad.MaxCPUPercent = 0
	_, err := Start(bad, &testutil.StaticMetricsSource{}, logging.NewNop(), Options{})
	if err == nil {
		t.Fatal("expected config error")
	}
	if !core.IsCategory(err, core.ErrCatConfig) {
		t.Fatalf("expected config category, got %v", err)
	}
}

func TestMonitor_HealthyRun(t *testing.T) {
	src := &testutil.StaticMetricsSource{Value: core.Sample{CPUPercent: 10, MemoryPercent: 20}}
	m, err := Start(fastThresholds(), src, logging.NewNop(), Options{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	if !waitFor(t, time.Second, func() bool { return m.SamplesTaken() >= 1 }) {
		t.Fatal("no sample recorded")
	}
	if m.IsAborted() {
		t.Error("healthy run should not abort")
	}
	if m.State() != core.StateMonitoring {
		t.Errorf("state = %s", m.State())
	}
	if len(m.Violations()) != 0 {
		t.Errorf("unexpected violations: %v", m.Violations())
	}
}

func TestMonitor_AbortsOnFirstBreach(t *testing.T) {
	// Scenario: thresholds {cpu:80, mem:85}, first sample {cpu:90, mem:50}.
	src := &testutil.StaticMetricsSource{Value: core.Sample{CPUPercent: 90, MemoryPercent: 50}}
	m, err := Start(fastThresholds(), src, logging.NewNop(), Options{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	if !waitFor(t, time.Second, m.IsAborted) {
		t.Fatal("expected abort after first breaching sample")
	}
	if m.State() != core.StateViolated {
		t.Errorf("state = %s, want violated", m.State())
	}

	violations := m.Violations()
	if len(violations) == 0 {
		t.Fatal("no violation recorded")
	}
	if violations[0].Metric != core.MetricCPUPercent {
		t.Errorf("metric = %s, want cpu_percent", violations[0].Metric)
	}
	if violations[0].Observed != 90 || violations[0].Threshold != 80 {
		t.Errorf("observed/threshold = %v/%v", violations[0].Observed, violations[0].Threshold)
	}
}

func TestMonitor_ViolatedNeverReturnsToMonitoring(t *testing.T) {
	src := testutil.NewScriptedMetricsSource(
		testutil.SampleStep{Sample: core.Sample{CPUPercent: 95}},
		testutil.SampleStep{Sample: core.Sample{CPUPercent: 5}},
	)
	m, err := Start(fastThresholds(), src, logging.NewNop(), Options{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	if !waitFor(t, time.Second, m.IsAborted) {
		t.Fatal("expected abort")
	}
	// Telemetry sampling continues, but the state stays Violated.
	waitFor(t, 1500*time.Millisecond, func() bool { return m.SamplesTaken() >= 2 })
	if m.State() != core.StateViolated {
		t.Errorf("state = %s after clean sample, want violated", m.State())
	}
	if !m.IsAborted() {
		t.Error("abort flag must stay set")
	}
}

func TestMonitor_MetricsErrorsAreSkippedNotViolations(t *testing.T) {
	// Scenario: three consecutive failed samples leave the monitor healthy.
	src := testutil.NewScriptedMetricsSource(
		testutil.SampleStep{Err: errors.New("connection refused")},
		testutil.SampleStep{Err: errors.New("connection refused")},
		testutil.SampleStep{Err: errors.New("connection refused")},
	)
	m, err := Start(fastThresholds(), src, logging.NewNop(), Options{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	if !waitFor(t, 3500*time.Millisecond, func() bool { return m.SamplesSkipped() >= 3 }) {
		t.Fatalf("skipped = %d, want >= 3", m.SamplesSkipped())
	}
	if len(m.Violations()) != 0 {
		t.Errorf("failed samples must not create violations: %v", m.Violations())
	}
	if m.State() != core.StateMonitoring {
		t.Errorf("state = %s, want monitoring", m.State())
	}
	if m.IsAborted() {
		t.Error("failed samples must not abort")
	}
}

func TestMonitor_SampleTimeoutSkips(t *testing.T) {
	src := testutil.NewScriptedMetricsSource(
		testutil.SampleStep{Delay: 5 * time.Second, Sample: core.Sample{CPUPercent: 99}},
	)
	m, err := Start(fastThresholds(), src, logging.NewNop(), Options{SampleTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	if !waitFor(t, time.Second, func() bool { return m.SamplesSkipped() >= 1 }) {
		t.Fatal("overrunning sample should be abandoned")
	}
	if m.IsAborted() {
		t.Error("an abandoned sample must not count as a breach")
	}
}

func TestMonitor_Hysteresis(t *testing.T) {
	// N=2: breach, clean (resets), breach, breach -> abort on the fourth.
	src := testutil.NewScriptedMetricsSource(
		testutil.SampleStep{Sample: core.Sample{CPUPercent: 95}},
		testutil.SampleStep{Sample: core.Sample{CPUPercent: 10}},
		testutil.SampleStep{Sample: core.Sample{CPUPercent: 95}},
		testutil.SampleStep{Sample: core.Sample{CPUPercent: 95}},
	)
	m, err := Start(fastThresholds(), src, logging.NewNop(), Options{Hysteresis: 2})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	// After breach + clean the streak is reset; no abort yet.
	if !waitFor(t, 2500*time.Millisecond, func() bool { return m.SamplesTaken() >= 2 }) {
		t.Fatal("timed out waiting for two samples")
	}
	if m.SamplesTaken() < 4 && m.IsAborted() {
		t.Fatal("aborted before two consecutive breaches")
	}

	if !waitFor(t, 3*time.Second, m.IsAborted) {
		t.Fatal("expected abort after two consecutive breaches")
	}
	// Every breaching sample is recorded even before the streak trips.
	if len(m.Violations()) < 2 {
		t.Errorf("violations = %d, want >= 2", len(m.Violations()))
	}
}

func TestMonitor_StopJoinsLoop(t *testing.T) {
	src := &testutil.StaticMetricsSource{Value: core.Sample{CPUPercent: 10}}
	m, err := Start(fastThresholds(), src, logging.NewNop(), Options{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	waitFor(t, time.Second, func() bool { return m.SamplesTaken() >= 1 })
	m.Stop()
	taken := m.SamplesTaken()

	time.Sleep(1200 * time.Millisecond)
	if m.SamplesTaken() != taken {
		t.Error("samples recorded after Stop returned")
	}
	if m.State() != core.StateStopped {
		t.Errorf("state = %s, want stopped", m.State())
	}

	// Idempotent.
	m.Stop()
	m.Stop()
}

func TestMonitor_StopFromViolated(t *testing.T) {
	src := &testutil.StaticMetricsSource{Value: core.Sample{CPUPercent: 99}}
	m, err := Start(fastThresholds(), src, logging.NewNop(), Options{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !waitFor(t, time.Second, m.IsAborted) {
		t.Fatal("expected abort")
	}
	m.Stop()
	if m.State() != core.StateStopped {
		t.Errorf("state = %s, want stopped", m.State())
	}
	if !m.IsAborted() {
		t.Error("abort flag survives Stop")
	}
}

func TestMonitor_ViolationTimestampsStrictlyIncrease(t *testing.T) {
	src := &testutil.StaticMetricsSource{Value: core.Sample{CPUPercent: 99}}
	m, err := Start(fastThresholds(), src, logging.NewNop(), Options{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	waitFor(t, 2500*time.Millisecond, func() bool { return len(m.Violations()) >= 2 })
	violations := m.Violations()
	for i := 1; i < len(violations); i++ {
		if !violations[i].Timestamp.After(violations[i-1].Timestamp) {
			t.Fatalf("timestamps not strictly increasing: %v then %v",
				violations[i-1].Timestamp, violations[i].Timestamp)
		}
	}
}

func TestMonitor_HistoryBounded(t *testing.T) {
	src := &testutil.StaticMetricsSource{Value: core.Sample{CPUPercent: 10}}
	m, err := Start(fastThresholds(), src, logging.NewNop(), Options{HistorySize: 2})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Stop()

	waitFor(t, 4*time.Second, func() bool { return m.SamplesTaken() >= 3 })
	if got := len(m.History()); got > 2 {
		t.Errorf("history length = %d, want <= 2", got)
	}
	if m.SamplesTaken() < 3 {
		t.Skipf("only %d samples in time budget", m.SamplesTaken())
	}
}

func TestMonitor_Summary(t *testing.T) {
	src := &testutil.StaticMetricsSource{Value: core.Sample{CPUPercent: 42, MemoryPercent: 33}}
	m, err := Start(fastThresholds(), src, logging.NewNop(), Options{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, func() bool { return m.SamplesTaken() >= 1 })
	m.Stop()

	s := m.Summary()
	if s.SamplesTaken < 1 {
		t.Errorf("samples taken = %d", s.SamplesTaken)
	}
	if s.PeakCPUPercent != 42 || s.PeakMemoryPercent != 33 {
		t.Errorf("peaks = %v/%v", s.PeakCPUPercent, s.PeakMemoryPercent)
	}
	if s.Aborted {
		t.Error("healthy run marked aborted")
	}
}

func TestNopHandle(t *testing.T) {
	var h core.ProtectionHandle = NopHandle{}
	if h.IsAborted() {
		t.Error("nop handle must never abort")
	}
	if h.Violations() != nil || h.History() != nil {
		t.Error("nop handle records nothing")
	}
	h.Stop()
	h.Stop()
}
