package perfmon

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pgmedic/pgmedic/internal/core"
	"github.com/pgmedic/pgmedic/internal/logging"
)

// Controller decides whether an existing external collection can serve the
// current run or a new one must be provisioned, and owns the cleanup of
// anything it creates. All calls are synchronous, invoked from the
// orchestrator's control flow, never concurrently for one run.
type Controller struct {
	provider core.CollectionProvider
	registry core.OwnershipRegistry
	policy   core.CollectionPolicy
	runID    core.RunID
	logger   *logging.Logger

	mu      sync.Mutex
	cleaned map[string]bool
}

// NewController creates a lifecycle controller for one run.
func NewController(provider core.CollectionProvider, registry core.OwnershipRegistry, policy core.CollectionPolicy, runID core.RunID, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Controller{
		provider: provider,
		registry: registry,
		policy:   policy,
		runID:    runID,
		logger:   logger,
		cleaned:  make(map[string]bool),
	}
}

// Discover lists collections matching the configured prefix, normalizes
// their counter lists and classifies ownership against the registry. Results
// come back name-sorted for deterministic scoring.
func (c *Controller) Discover(ctx context.Context) ([]core.CollectionDescriptor, error) {
	infos, err := c.provider.List(ctx, c.policy.Prefix)
	if err != nil {
		return nil, core.ErrCollectionBackend(core.CodeCollectionList, "listing collections").WithCause(err)
	}

	descriptors := make([]core.CollectionDescriptor, 0, len(infos))
	for _, info := range infos {
		owner := core.OwnerPreExisting
		managed, err := c.registry.IsManaged(ctx, info.Name)
		if err != nil {
			// Registry trouble must never lead to deleting someone else's
			// collection; unknown means pre-existing.
			c.logger.Warn("ownership lookup failed, assuming pre-existing",
				"collection", info.Name, "error", err)
		} else if managed {
			owner = core.OwnerManaged
		}
		descriptors = append(descriptors, core.CollectionDescriptor{
			Name:     info.Name,
			Counters: NormalizeCounters(info.Counters),
			Owner:    owner,
			Status:   core.CollectionStopped,
		})
	}
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Name < descriptors[j].Name })
	return descriptors, nil
}

// Decide scores every discovered descriptor against the desired counter set
// and keeps the best. First-by-name wins ties. A best score at or above the
// policy threshold yields Reuse; anything else yields CreateNew.
func (c *Controller) Decide(desired []string, existing []core.CollectionDescriptor) core.MatchResult {
	desired = NormalizeCounters(desired)

	best := core.MatchResult{Decision: core.DecisionCreateNew}
	for i := range existing {
		score := Similarity(desired, existing[i].Counters)
		if score > best.Score {
			best.Score = score
			best.Matched = &existing[i]
		}
	}

	if best.Matched != nil && best.Score >= c.policy.MatchThreshold {
		best.Decision = core.DecisionReuse
		c.logger.Info("reusing existing collection",
			"collection", best.Matched.Name,
			"score", fmt.Sprintf("%.2f", best.Score),
			"threshold", c.policy.MatchThreshold,
		)
	} else {
		best.Matched = nil
		c.logger.Info("no reusable collection",
			"best_score", fmt.Sprintf("%.2f", best.Score),
			"threshold", c.policy.MatchThreshold,
		)
	}
	return best
}

// Provision turns a decision into a running collection. Backend failures
// degrade the handle instead of failing the run: the orchestrator proceeds
// without collection-derived data.
func (c *Controller) Provision(ctx context.Context, desired []string, result core.MatchResult) core.CollectionHandle {
	if result.Decision == core.DecisionReuse && result.Matched != nil {
		return c.provisionReuse(ctx, *result.Matched)
	}
	return c.provisionNew(ctx, desired)
}

func (c *Controller) provisionReuse(ctx context.Context, d core.CollectionDescriptor) core.CollectionHandle {
	handle := core.CollectionHandle{
		Name:   d.Name,
		Owner:  d.Owner,
		Status: core.CollectionRunning,
		Reused: true,
	}

	// The collection may have been stopped, or deleted by another process
	// between discovery and now.
	if err := c.provider.Start(ctx, d.Name); err != nil {
		backendErr := core.ErrCollectionBackend(core.CodeCollectionStart, "starting reused collection").WithCause(err)
		c.logger.Warn("collection reuse degraded", "collection", d.Name, "error", backendErr)
		return core.CollectionHandle{
			Name:     d.Name,
			Owner:    d.Owner,
			Status:   core.CollectionStopped,
			Degraded: true,
			Reason:   backendErr.Error(),
		}
	}

	c.logger.Info("collection started", "collection", d.Name, "reused", true)
	return handle
}

func (c *Controller) provisionNew(ctx context.Context, desired []string) core.CollectionHandle {
	name := fmt.Sprintf("%s_%s", c.policy.Prefix, c.runID)
	counters := NormalizeCounters(desired)

	if err := c.provider.Create(ctx, name, counters); err != nil {
		backendErr := core.ErrCollectionBackend(core.CodeCollectionCreate, "creating collection").WithCause(err)
		c.logger.Warn("collection provisioning degraded", "collection", name, "error", backendErr)
		return core.CollectionHandle{Name: name, Degraded: true, Reason: backendErr.Error()}
	}

	// Registered before Start so a failed Start still leaves a cleanable
	// record for a later run.
	if err := c.registry.MarkManaged(ctx, name, counters, c.runID); err != nil {
		c.logger.Warn("failed to record collection ownership", "collection", name, "error", err)
	}

	handle := core.CollectionHandle{
		Name:   name,
		Owner:  core.OwnerManaged,
		Status: core.CollectionRunning,
	}

	if err := c.provider.Start(ctx, name); err != nil {
		backendErr := core.ErrCollectionBackend(core.CodeCollectionStart, "starting collection").WithCause(err)
		c.logger.Warn("collection start degraded", "collection", name, "error", backendErr)
		handle.Status = core.CollectionStopped
		handle.Degraded = true
		handle.Reason = backendErr.Error()
		return handle
	}

	c.logger.Info("collection started", "collection", name, "reused", false)
	return handle
}

// StartOrReuseCollection is the orchestrator-facing composition: discover,
// decide, provision. With smart reuse disabled by policy, discovery and
// scoring are skipped entirely and every run provisions a new collection.
func (c *Controller) StartOrReuseCollection(ctx context.Context, desired []string) core.CollectionHandle {
	if !c.policy.SmartReuse {
		return c.provisionNew(ctx, desired)
	}

	existing, err := c.Discover(ctx)
	if err != nil {
		c.logger.Warn("collection discovery degraded", "error", err)
		return core.CollectionHandle{Degraded: true, Reason: err.Error()}
	}

	return c.Provision(ctx, desired, c.Decide(desired, existing))
}

// Cleanup stops and deletes the collection behind a Managed handle when auto
// cleanup is enabled, and removes its registry row. PreExisting handles are
// never touched, whatever the flag says. Idempotent: per handle at most one
// Delete is ever issued, and a collection already removed externally counts
// as clean.
func (c *Controller) Cleanup(ctx context.Context, handle core.CollectionHandle, autoCleanupEnabled bool) error {
	if handle.Owner != core.OwnerManaged || !autoCleanupEnabled || handle.Name == "" {
		return nil
	}

	c.mu.Lock()
	if c.cleaned[handle.Name] {
		c.mu.Unlock()
		return nil
	}
	c.cleaned[handle.Name] = true
	c.mu.Unlock()

	if err := c.provider.Stop(ctx, handle.Name); err != nil && !core.IsCollectionNotFound(err) {
		c.logger.Warn("failed to stop collection before delete", "collection", handle.Name, "error", err)
	}

	if err := c.provider.Delete(ctx, handle.Name); err != nil {
		if core.IsCollectionNotFound(err) {
			c.logger.Info("collection already removed externally", "collection", handle.Name)
		} else {
			backendErr := core.ErrCollectionBackend(core.CodeCollectionDelete, "deleting collection").WithCause(err)
			c.logger.Warn("collection cleanup failed", "collection", handle.Name, "error", backendErr)
			return backendErr
		}
	} else {
		c.logger.Info("collection deleted", "collection", handle.Name)
	}

	if err := c.registry.Unmark(ctx, handle.Name); err != nil {
		c.logger.Warn("failed to remove ownership record", "collection", handle.Name, "error", err)
	}
	return nil
}
