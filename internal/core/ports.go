// Package core defines the domain types, capability interfaces and error
// taxonomy shared across the safety and collection-lifecycle subsystems.
package core

import "context"

// MetricsSource supplies point-in-time server health readings. A failed or
// timed-out call costs one sample; it never aborts the run by itself.
type MetricsSource interface {
	// Sample returns a fresh reading. Implementations must honor ctx
	// cancellation and deadlines.
	Sample(ctx context.Context) (Sample, error)
}

// CollectionInfo is a provider-level listing row: a collection name and its
// raw, unnormalized counter list.
type CollectionInfo struct {
	Name     string
	Counters []string
}

// CollectionProvider is the external monitoring-collection backend. The
// resource behind it is shared OS state: other processes create, stop and
// delete collections too, so every call can fail or report not-found at any
// time.
type CollectionProvider interface {
	// List returns collections whose name starts with prefix. An empty
	// prefix lists everything the backend knows.
	List(ctx context.Context, prefix string) ([]CollectionInfo, error)

	// Create registers a new named collection recording the given counters.
	Create(ctx context.Context, name string, counters []string) error

	// Start begins data collection for a created collection.
	Start(ctx context.Context, name string) error

	// Stop halts data collection. Stopping an already-stopped or missing
	// collection returns a not-found error, not a panic.
	Stop(ctx context.Context, name string) error

	// Delete removes the collection and its recorded data.
	Delete(ctx context.Context, name string) error
}

// Guard is the abort signal the orchestrator polls between analysis phases.
type Guard interface {
	// IsAborted is a non-blocking read of the abort flag, callable from any
	// goroutine at any time.
	IsAborted() bool

	// Violations returns a copy of the breach events recorded so far, in
	// strict detection order.
	Violations() []ViolationEvent
}

// ProtectionHandle is the watchdog surface handed to the orchestrator for
// one run.
type ProtectionHandle interface {
	Guard

	// State reports the current lifecycle state.
	State() ProtectionState

	// History returns a copy of the bounded recent-sample ring.
	History() []Sample

	// SamplesTaken and SamplesSkipped report loop counters for the run
	// summary.
	SamplesTaken() int
	SamplesSkipped() int

	// Stop signals the sampling loop and returns once it has exited.
	// Idempotent; blocks at most about one check interval.
	Stop()
}

// OwnershipRegistry persists which collection names this tool created, so a
// later run can tell Managed leftovers apart from collections that belong to
// someone else.
type OwnershipRegistry interface {
	MarkManaged(ctx context.Context, name string, counters []string, runID RunID) error
	IsManaged(ctx context.Context, name string) (bool, error)
	Unmark(ctx context.Context, name string) error
	List(ctx context.Context) ([]ManagedCollection, error)
	Close() error
}
