package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunID uniquely identifies one analysis run.
type RunID string

// NewRunID returns a timestamped run identifier, e.g. run-20250121-153045-a1b2c3d4.
func NewRunID(now time.Time) RunID {
	suffix := uuid.NewString()[:8]
	return RunID("run-" + now.UTC().Format("20060102-150405") + "-" + suffix)
}

// MetricKind names one guarded server metric.
type MetricKind string

const (
	MetricCPUPercent       MetricKind = "cpu_percent"
	MetricMemoryPercent    MetricKind = "memory_percent"
	MetricConnections      MetricKind = "connections"
	MetricBlockingSessions MetricKind = "blocking_sessions"
)

// Sample is one point-in-time health reading of the target server.
type Sample struct {
	Timestamp            time.Time `json:"timestamp"`
	CPUPercent           float64   `json:"cpu_percent"`
	MemoryPercent        float64   `json:"memory_percent"`
	ConnectionCount      int       `json:"connection_count"`
	BlockingSessionCount int       `json:"blocking_session_count"`
}

// ViolationEvent records a single threshold breach. Immutable once created.
type ViolationEvent struct {
	Timestamp time.Time  `json:"timestamp"`
	Metric    MetricKind `json:"metric"`
	Observed  float64    `json:"observed"`
	Threshold float64    `json:"threshold"`
}

func (v ViolationEvent) String() string {
	return fmt.Sprintf("%s %.1f exceeds limit %.1f", v.Metric, v.Observed, v.Threshold)
}

// ProtectionState represents the watchdog lifecycle.
type ProtectionState string

const (
	// StateIdle is the initial state before monitoring begins.
	StateIdle ProtectionState = "idle"

	// StateMonitoring means the sampling loop is live and no breach
	// has aborted the run.
	StateMonitoring ProtectionState = "monitoring"

	// StateViolated means a threshold breach aborted the run. Sampling
	// continues for telemetry, but the run never returns to Monitoring.
	StateViolated ProtectionState = "violated"

	// StateStopped is the terminal state after the loop has exited.
	StateStopped ProtectionState = "stopped"
)

// CanTransition reports whether moving from s to next is a legal state change.
// Violated never returns to Monitoring; Stopped is terminal.
func (s ProtectionState) CanTransition(next ProtectionState) bool {
	switch s {
	case StateIdle:
		return next == StateMonitoring
	case StateMonitoring:
		return next == StateViolated || next == StateStopped
	case StateViolated:
		return next == StateStopped
	default:
		return false
	}
}

// ThresholdConfig holds the safe operating bounds enforced by the watchdog.
type ThresholdConfig struct {
	MaxCPUPercent       float64
	MaxMemoryPercent    float64
	MaxConnections      int
	MaxBlockingSessions int
	CheckInterval       time.Duration
}

// DefaultThresholds returns the stock protection limits.
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		MaxCPUPercent:       80.0,
		MaxMemoryPercent:    85.0,
		MaxConnections:      500,
		MaxBlockingSessions: 10,
		CheckInterval:       5 * time.Second,
	}
}

// Validate rejects non-positive thresholds, percent limits above 100 and
// sub-second intervals. All offending fields are reported in one error.
func (t ThresholdConfig) Validate() error {
	var problems []string
	if t.MaxCPUPercent <= 0 || t.MaxCPUPercent > 100 {
		problems = append(problems, fmt.Sprintf("max_cpu_percent %.1f outside (0,100]", t.MaxCPUPercent))
	}
	if t.MaxMemoryPercent <= 0 || t.MaxMemoryPercent > 100 {
		problems = append(problems, fmt.Sprintf("max_memory_percent %.1f outside (0,100]", t.MaxMemoryPercent))
	}
	if t.MaxConnections <= 0 {
		problems = append(problems, fmt.Sprintf("max_connections %d must be positive", t.MaxConnections))
	}
	if t.MaxBlockingSessions <= 0 {
		problems = append(problems, fmt.Sprintf("max_blocking_sessions %d must be positive", t.MaxBlockingSessions))
	}
	if t.CheckInterval < time.Second {
		problems = append(problems, fmt.Sprintf("check_interval %s below 1s", t.CheckInterval))
	}
	if len(problems) > 0 {
		return ErrConfig(CodeInvalidThresholds, "invalid protection thresholds: "+strings.Join(problems, "; "))
	}
	return nil
}

// CollectionPolicy governs how the lifecycle controller treats external
// collections for one run.
type CollectionPolicy struct {
	Prefix         string
	MatchThreshold float64
	SmartReuse     bool
	AutoCleanup    bool
}

// DefaultCollectionPolicy returns the stock lifecycle policy.
func DefaultCollectionPolicy() CollectionPolicy {
	return CollectionPolicy{
		Prefix:         "pgmedic",
		MatchThreshold: 0.8,
		SmartReuse:     true,
		AutoCleanup:    true,
	}
}

// Validate rejects an empty prefix and a match threshold outside (0,1].
func (p CollectionPolicy) Validate() error {
	var problems []string
	if p.Prefix == "" {
		problems = append(problems, "collection_prefix must not be empty")
	}
	if p.MatchThreshold <= 0 || p.MatchThreshold > 1 {
		problems = append(problems, fmt.Sprintf("match_threshold %.2f outside (0,1]", p.MatchThreshold))
	}
	if len(problems) > 0 {
		return ErrConfig(CodeInvalidPolicy, "invalid collection policy: "+strings.Join(problems, "; "))
	}
	return nil
}

// CollectionOwner marks whether this tool created a collection and may
// therefore delete it.
type CollectionOwner string

const (
	// OwnerManaged marks a collection created by this tool. Only managed
	// collections are ever deleted.
	OwnerManaged CollectionOwner = "managed"

	// OwnerPreExisting marks a collection discovered on the host but not
	// created by this tool. Never deleted, regardless of configuration.
	OwnerPreExisting CollectionOwner = "pre_existing"
)

// CollectionStatus tracks the backend state of a collection.
type CollectionStatus string

const (
	CollectionRunning CollectionStatus = "running"
	CollectionStopped CollectionStatus = "stopped"
	CollectionDeleted CollectionStatus = "deleted"
)

// CollectionDescriptor describes one discovered or provisioned collection.
// Owner is assigned once at decision time and never changes afterwards.
type CollectionDescriptor struct {
	Name     string           `json:"name"`
	Counters []string         `json:"counters"`
	Owner    CollectionOwner  `json:"owner"`
	Status   CollectionStatus `json:"status"`
}

// MatchDecision is the reuse-vs-create outcome of scoring.
type MatchDecision string

const (
	DecisionReuse     MatchDecision = "reuse"
	DecisionCreateNew MatchDecision = "create_new"
)

// MatchResult carries the best similarity score over the discovered
// collections and the decision derived from it. Matched is set iff the
// decision is reuse.
type MatchResult struct {
	Score    float64
	Decision MatchDecision
	Matched  *CollectionDescriptor
}

// CollectionHandle is what provisioning hands the orchestrator. A degraded
// handle means the backend failed and the run proceeds without
// collection-derived data; Reason says why, for the final report.
type CollectionHandle struct {
	Name     string           `json:"name"`
	Owner    CollectionOwner  `json:"owner"`
	Status   CollectionStatus `json:"status"`
	Reused   bool             `json:"reused"`
	Degraded bool             `json:"degraded"`
	Reason   string           `json:"reason,omitempty"`
}

// ManagedCollection is one ownership registry row.
type ManagedCollection struct {
	Name      string
	Counters  []string
	RunID     RunID
	CreatedAt time.Time
}
