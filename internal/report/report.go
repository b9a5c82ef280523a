// Package report assembles the final analysis report and renders it to JSON,
// YAML, Markdown and the terminal.
package report

import (
	"time"

	"github.com/pgmedic/pgmedic/internal/core"
)

// Run status values.
const (
	StatusCompleted        = "completed"
	StatusAbortedForSafety = "aborted_for_safety"
)

// Phase status values.
const (
	PhaseCompleted = "completed"
	PhaseFailed    = "failed"
	PhaseSkipped   = "skipped"
)

// PhaseResult is the outcome of one diagnostic phase.
type PhaseResult struct {
	Key       string        `json:"key" yaml:"key"`
	Title     string        `json:"title" yaml:"title"`
	Status    string        `json:"status" yaml:"status"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration_ns" yaml:"duration_ns"`
	Findings  any           `json:"findings,omitempty" yaml:"findings,omitempty"`
	Warning   string        `json:"warning,omitempty" yaml:"warning,omitempty"`
}

// ProtectionSummary condenses the watchdog's run into report numbers.
type ProtectionSummary struct {
	Enabled           bool                 `json:"enabled" yaml:"enabled"`
	FinalState        core.ProtectionState `json:"final_state" yaml:"final_state"`
	SamplesTaken      int                  `json:"samples_taken" yaml:"samples_taken"`
	SamplesSkipped    int                  `json:"samples_skipped" yaml:"samples_skipped"`
	ViolationCount    int                  `json:"violation_count" yaml:"violation_count"`
	PeakCPUPercent    float64              `json:"peak_cpu_percent" yaml:"peak_cpu_percent"`
	PeakMemoryPercent float64              `json:"peak_memory_percent" yaml:"peak_memory_percent"`
}

// Report is the complete result of one analysis run.
type Report struct {
	RunID         core.RunID             `json:"run_id" yaml:"run_id"`
	ServerAddr    string                 `json:"server_addr,omitempty" yaml:"server_addr,omitempty"`
	StartedAt     time.Time              `json:"started_at" yaml:"started_at"`
	FinishedAt    time.Time              `json:"finished_at" yaml:"finished_at"`
	Status        string                 `json:"status" yaml:"status"`
	Phases        []PhaseResult          `json:"phases" yaml:"phases"`
	Violations    []core.ViolationEvent  `json:"violations,omitempty" yaml:"violations,omitempty"`
	Warnings      []string               `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	SkippedPhases []string               `json:"skipped_phases,omitempty" yaml:"skipped_phases,omitempty"`
	Collection    *core.CollectionHandle `json:"collection,omitempty" yaml:"collection,omitempty"`
	Protection    ProtectionSummary      `json:"protection" yaml:"protection"`
}

// Aborted reports whether the run was cut short by the watchdog.
func (r *Report) Aborted() bool {
	return r.Status == StatusAbortedForSafety
}

// SummarizeProtection folds a finished watchdog handle into the report
// summary. Peaks come from the bounded history ring, so a very long run
// reports peaks over the retained window.
func SummarizeProtection(h core.ProtectionHandle, enabled bool) ProtectionSummary {
	s := ProtectionSummary{
		Enabled:        enabled,
		FinalState:     h.State(),
		SamplesTaken:   h.SamplesTaken(),
		SamplesSkipped: h.SamplesSkipped(),
		ViolationCount: len(h.Violations()),
	}
	for _, sample := range h.History() {
		if sample.CPUPercent > s.PeakCPUPercent {
			s.PeakCPUPercent = sample.CPUPercent
		}
		if sample.MemoryPercent > s.PeakMemoryPercent {
			s.PeakMemoryPercent = sample.MemoryPercent
		}
	}
	return s
}
