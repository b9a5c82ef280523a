package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/pgmedic/pgmedic/internal/core"
	"github.com/pgmedic/pgmedic/internal/logging"
	"github.com/pgmedic/pgmedic/internal/protection"
	"github.com/pgmedic/pgmedic/internal/report"
)

// CollectionManager is the slice of the lifecycle controller the runner
// needs. Satisfied by perfmon.Controller.
type CollectionManager interface {
	StartOrReuseCollection(ctx context.Context, desired []string) core.CollectionHandle
	Cleanup(ctx context.Context, handle core.CollectionHandle, autoCleanupEnabled bool) error
}

// Observer receives run progress events. The status API implements this; a
// nil observer is fine.
type Observer interface {
	RunStarted(runID core.RunID, handle core.ProtectionHandle)
	PhaseStarted(key string)
	RunFinished(status string)
}

// Options configures one analysis run.
type Options struct {
	RunID      core.RunID
	ServerAddr string
	NightMode  bool
	StepDelay  time.Duration
	SkipPhases []string

	// Counters is the desired counter set handed to the lifecycle controller.
	Counters    []string
	AutoCleanup bool
}

// Deps are the collaborating subsystems. StartMonitor nil means protection is
// disabled; Collections nil means no collection lifecycle for this run.
type Deps struct {
	StartMonitor func() (core.ProtectionHandle, error)
	Collections  CollectionManager
	Observer     Observer
	Logger       *logging.Logger
}

// Runner executes the phase table for one run and owns the surrounding
// lifecycle: watchdog, collection, cleanup, report assembly.
type Runner struct {
	opts   Options
	phases []Phase
	deps   Deps
	logger *logging.Logger
}

// NewRunner builds a runner over an ordered phase table.
func NewRunner(opts Options, phases []Phase, deps Deps) *Runner {
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{opts: opts, phases: phases, deps: deps, logger: logger}
}

// Run executes the full lifecycle and returns the assembled report. The only
// error it returns is a failure to start the watchdog; everything later
// degrades into the report instead.
func (r *Runner) Run(ctx context.Context) (*report.Report, error) {
	started := time.Now().UTC()
	log := r.logger.WithRun(string(r.opts.RunID))

	protectionEnabled := r.deps.StartMonitor != nil
	var handle core.ProtectionHandle = protection.NopHandle{}
	if protectionEnabled {
		h, err := r.deps.StartMonitor()
		if err != nil {
			return nil, err
		}
		handle = h
	}
	// The loop must end even if a phase panics below.
	defer handle.Stop()

	if r.deps.Observer != nil {
		r.deps.Observer.RunStarted(r.opts.RunID, handle)
	}

	var warnings []string
	var collection *core.CollectionHandle
	if r.deps.Collections != nil {
		h := r.deps.Collections.StartOrReuseCollection(ctx, r.opts.Counters)
		collection = &h
		if h.Degraded {
			warnings = append(warnings, "collection unavailable: "+h.Reason)
		}
		defer func() {
			if err := r.deps.Collections.Cleanup(ctx, *collection, r.opts.AutoCleanup); err != nil {
				log.Warn("collection cleanup failed", "collection", collection.Name, "error", err)
			}
		}()
	}

	results, phaseWarnings, skipped := r.runPhases(ctx, log, handle)
	warnings = append(warnings, phaseWarnings...)

	// Stop before summarizing so the counters are final.
	handle.Stop()

	rep := &report.Report{
		RunID:         r.opts.RunID,
		ServerAddr:    r.opts.ServerAddr,
		StartedAt:     started,
		FinishedAt:    time.Now().UTC(),
		Status:        report.StatusCompleted,
		Phases:        results,
		Violations:    handle.Violations(),
		Warnings:      warnings,
		SkippedPhases: skipped,
		Collection:    collection,
		Protection:    report.SummarizeProtection(handle, protectionEnabled),
	}
	if handle.IsAborted() {
		rep.Status = report.StatusAbortedForSafety
	}
	if !protectionEnabled {
		rep.Warnings = append(rep.Warnings, "protection monitoring was disabled for this run")
	}

	if r.deps.Observer != nil {
		r.deps.Observer.RunFinished(rep.Status)
	}
	log.Info("analysis run finished", "status", rep.Status, "phases", len(results), "skipped", len(skipped))
	return rep, nil
}

// runPhases walks the table with an abort checkpoint before every phase.
func (r *Runner) runPhases(ctx context.Context, log *logging.Logger, guard core.Guard) ([]report.PhaseResult, []string, []string) {
	skipCfg := make(map[string]bool, len(r.opts.SkipPhases))
	for _, key := range r.opts.SkipPhases {
		skipCfg[key] = true
	}

	var (
		results  []report.PhaseResult
		warnings []string
		skipped  []string
	)
	ran := 0
	for _, phase := range r.phases {
		if guard.IsAborted() {
			log.Warn("run aborted, skipping remaining phases", "phase", phase.Key)
			results = append(results, report.PhaseResult{
				Key: phase.Key, Title: phase.Title, Status: report.PhaseSkipped,
			})
			skipped = append(skipped, phase.Key)
			continue
		}
		if skipCfg[phase.Key] {
			results = append(results, report.PhaseResult{
				Key: phase.Key, Title: phase.Title, Status: report.PhaseSkipped,
				Warning: "skipped by configuration",
			})
			continue
		}

		if r.opts.NightMode && ran > 0 && r.opts.StepDelay > 0 {
			select {
			case <-time.After(r.opts.StepDelay):
			case <-ctx.Done():
			}
			// A violation during the pause is caught by the checkpoint of
			// the next iteration, so re-check here before doing work.
			if guard.IsAborted() {
				results = append(results, report.PhaseResult{
					Key: phase.Key, Title: phase.Title, Status: report.PhaseSkipped,
				})
				skipped = append(skipped, phase.Key)
				continue
			}
		}

		if r.deps.Observer != nil {
			r.deps.Observer.PhaseStarted(phase.Key)
		}
		phaseLog := log.WithPhase(phase.Key)
		phaseLog.Info("phase started")

		result := report.PhaseResult{Key: phase.Key, Title: phase.Title, StartedAt: time.Now().UTC()}
		findings, warning, err := phase.Run(ctx)
		result.Duration = time.Since(result.StartedAt)
		ran++

		switch {
		case err != nil:
			result.Status = report.PhaseFailed
			result.Warning = err.Error()
			warnings = append(warnings, fmt.Sprintf("phase %s failed: %v", phase.Key, err))
			phaseLog.Error("phase failed", "error", err)
		default:
			result.Status = report.PhaseCompleted
			result.Findings = findings
			result.Warning = warning
			if warning != "" {
				warnings = append(warnings, warning)
				phaseLog.Warn("phase completed with warning", "warning", warning)
			} else {
				phaseLog.Info("phase completed", "duration", result.Duration)
			}
		}
		results = append(results, result)
	}
	return results, warnings, skipped
}
