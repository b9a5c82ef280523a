package analysis

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/pgmedic/pgmedic/internal/core"
	"github.com/pgmedic/pgmedic/internal/report"
)

// stubHandle is a controllable watchdog handle.
type stubHandle struct {
	aborted    atomic.Bool
	violations []core.ViolationEvent
	stops      atomic.Int32
}

func (s *stubHandle) IsAborted() bool                   { return s.aborted.Load() }
func (s *stubHandle) Violations() []core.ViolationEvent { return s.violations }
func (s *stubHandle) State() core.ProtectionState {
	if s.aborted.Load() {
		return core.StateViolated
	}
	return core.StateMonitoring
}
func (s *stubHandle) History() []core.Sample { return nil }
func (s *stubHandle) SamplesTaken() int      { return 5 }
func (s *stubHandle) SamplesSkipped() int    { return 1 }
func (s *stubHandle) Stop()                  { s.stops.Add(1) }

// stubCollections records lifecycle calls.
type stubCollections struct {
	handle       core.CollectionHandle
	cleanupCalls int
	lastCleanup  core.CollectionHandle
}

func (s *stubCollections) StartOrReuseCollection(context.Context, []string) core.CollectionHandle {
	return s.handle
}

func (s *stubCollections) Cleanup(_ context.Context, h core.CollectionHandle, _ bool) error {
	s.cleanupCalls++
	s.lastCleanup = h
	return nil
}

func okPhase(key string) Phase {
	return Phase{Key: key, Title: key, Run: func(context.Context) (any, string, error) {
		return map[string]int{"ok": 1}, "", nil
	}}
}

func TestRunner_AllPhasesComplete(t *testing.T) {
	handle := &stubHandle{}
	r := NewRunner(
		Options{RunID: "run-test"},
		[]Phase{okPhase("one"), okPhase("two")},
		Deps{StartMonitor: func() (core.ProtectionHandle, error) { return handle, nil }},
	)

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Status != report.StatusCompleted {
		t.Errorf("status = %s", rep.Status)
	}
	if len(rep.Phases) != 2 {
		t.Fatalf("phases = %d", len(rep.Phases))
	}
	for _, p := range rep.Phases {
		if p.Status != report.PhaseCompleted {
			t.Errorf("phase %s status = %s", p.Key, p.Status)
		}
	}
	if handle.stops.Load() == 0 {
		t.Error("watchdog was never stopped")
	}
	if !rep.Protection.Enabled || rep.Protection.SamplesTaken != 5 {
		t.Errorf("protection summary = %+v", rep.Protection)
	}
}

func TestRunner_PhaseErrorDegradesAndContinues(t *testing.T) {
	phases := []Phase{
		{Key: "bad", Title: "bad", Run: func(context.Context) (any, string, error) {
			return nil, "", errors.New("query timeout")
		}},
		okPhase("good"),
	}
	r := NewRunner(Options{RunID: "run-test"}, phases,
		Deps{StartMonitor: func() (core.ProtectionHandle, error) { return &stubHandle{}, nil }})

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Status != report.StatusCompleted {
		t.Errorf("phase errors must not abort the run, status = %s", rep.Status)
	}
	if rep.Phases[0].Status != report.PhaseFailed {
		t.Errorf("bad phase status = %s", rep.Phases[0].Status)
	}
	if rep.Phases[1].Status != report.PhaseCompleted {
		t.Errorf("good phase status = %s", rep.Phases[1].Status)
	}
	if len(rep.Warnings) != 1 {
		t.Errorf("warnings = %v", rep.Warnings)
	}
}

func TestRunner_AbortSkipsRemainingPhases(t *testing.T) {
	handle := &stubHandle{violations: []core.ViolationEvent{
		{Metric: core.MetricCPUPercent, Observed: 95, Threshold: 80},
	}}
	phases := []Phase{
		{Key: "first", Title: "first", Run: func(context.Context) (any, string, error) {
			handle.aborted.Store(true)
			return nil, "", nil
		}},
		okPhase("second"),
		okPhase("third"),
	}
	collections := &stubCollections{handle: core.CollectionHandle{Name: "pgmedic_x", Owner: core.OwnerManaged}}
	r := NewRunner(Options{RunID: "run-test", AutoCleanup: true}, phases,
		Deps{
			StartMonitor: func() (core.ProtectionHandle, error) { return handle, nil },
			Collections:  collections,
		})

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Status != report.StatusAbortedForSafety {
		t.Errorf("status = %s", rep.Status)
	}
	if got := rep.SkippedPhases; len(got) != 2 || got[0] != "second" || got[1] != "third" {
		t.Errorf("skipped = %v", got)
	}
	if len(rep.Violations) != 1 {
		t.Errorf("violations = %v", rep.Violations)
	}
	if collections.cleanupCalls != 1 {
		t.Errorf("cleanup calls = %d, want 1 even on abort", collections.cleanupCalls)
	}
}

func TestRunner_WarningPhaseCompletes(t *testing.T) {
	phases := []Phase{
		{Key: "soft", Title: "soft", Run: func(context.Context) (any, string, error) {
			return nil, "extension missing", nil
		}},
	}
	r := NewRunner(Options{RunID: "run-test"}, phases,
		Deps{StartMonitor: func() (core.ProtectionHandle, error) { return &stubHandle{}, nil }})

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Phases[0].Status != report.PhaseCompleted {
		t.Errorf("status = %s", rep.Phases[0].Status)
	}
	if rep.Phases[0].Warning != "extension missing" {
		t.Errorf("warning = %q", rep.Phases[0].Warning)
	}
}

func TestRunner_ProtectionDisabled(t *testing.T) {
	r := NewRunner(Options{RunID: "run-test"}, []Phase{okPhase("one")}, Deps{})

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Status != report.StatusCompleted {
		t.Errorf("status = %s", rep.Status)
	}
	if rep.Protection.Enabled {
		t.Error("protection summary should say disabled")
	}
	found := false
	for _, w := range rep.Warnings {
		if w == "protection monitoring was disabled for this run" {
			found = true
		}
	}
	if !found {
		t.Errorf("warnings = %v", rep.Warnings)
	}
}

func TestRunner_SkipPhasesByConfig(t *testing.T) {
	r := NewRunner(Options{RunID: "run-test", SkipPhases: []string{"two"}},
		[]Phase{okPhase("one"), okPhase("two")},
		Deps{StartMonitor: func() (core.ProtectionHandle, error) { return &stubHandle{}, nil }})

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Phases[1].Status != report.PhaseSkipped {
		t.Errorf("configured skip not honored: %+v", rep.Phases[1])
	}
	if len(rep.SkippedPhases) != 0 {
		t.Errorf("config skips must not count as abort skips: %v", rep.SkippedPhases)
	}
}

func TestRunner_DegradedCollectionWarns(t *testing.T) {
	collections := &stubCollections{handle: core.CollectionHandle{
		Name: "pgmedic_x", Degraded: true, Reason: "backend unavailable",
	}}
	r := NewRunner(Options{RunID: "run-test"}, []Phase{okPhase("one")},
		Deps{
			StartMonitor: func() (core.ProtectionHandle, error) { return &stubHandle{}, nil },
			Collections:  collections,
		})

	rep, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rep.Status != report.StatusCompleted {
		t.Errorf("degraded collection must not fail the run, status = %s", rep.Status)
	}
	if rep.Collection == nil || !rep.Collection.Degraded {
		t.Errorf("collection handle missing from report: %+v", rep.Collection)
	}
	if len(rep.Warnings) == 0 {
		t.Error("degradation reason should be in warnings")
	}
}

func TestRunner_StartMonitorFailureIsTerminal(t *testing.T) {
	r := NewRunner(Options{RunID: "run-test"}, []Phase{okPhase("one")},
		Deps{StartMonitor: func() (core.ProtectionHandle, error) {
			return nil, core.ErrConfig(core.CodeInvalidThresholds, "bad thresholds")
		}})

	if _, err := r.Run(context.Background()); err == nil {
		t.Fatal("expected startup error")
	}
}
