// Package testutil provides hand-rolled fakes for the capability interfaces.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pgmedic/pgmedic/internal/core"
)

// ScriptedMetricsSource replays a fixed script of samples and errors. Once
// the script is exhausted it keeps returning the last entry.
type ScriptedMetricsSource struct {
	mu     sync.Mutex
	script []SampleStep
	pos    int
	calls  int
}

// SampleStep is one scripted reading.
type SampleStep struct {
	Sample core.Sample
	Err    error
	// Delay makes the call block, for exercising sample timeouts.
	Delay time.Duration
}

// NewScriptedMetricsSource creates a source replaying the given steps.
func NewScriptedMetricsSource(steps ...SampleStep) *ScriptedMetricsSource {
	return &ScriptedMetricsSource{script: steps}
}

// Sample implements core.MetricsSource.
func (s *ScriptedMetricsSource) Sample(ctx context.Context) (core.Sample, error) {
	s.mu.Lock()
	step := s.script[s.pos]
	if s.pos < len(s.script)-1 {
		s.pos++
	}
	s.calls++
	s.mu.Unlock()

	if step.Delay > 0 {
		select {
		case <-time.After(step.Delay):
		case <-ctx.Done():
			return core.Sample{}, ctx.Err()
		}
	}
	if step.Err != nil {
		return core.Sample{}, step.Err
	}
	sample := step.Sample
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}
	return sample, nil
}

// Calls reports how many times Sample was invoked.
func (s *ScriptedMetricsSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// StaticMetricsSource always returns the same sample, or Err if set.
type StaticMetricsSource struct {
	Value core.Sample
	Err   error
}

// Sample implements core.MetricsSource.
func (s *StaticMetricsSource) Sample(context.Context) (core.Sample, error) {
	if s.Err != nil {
		return core.Sample{}, s.Err
	}
	sample := s.Value
	sample.Timestamp = time.Now()
	return sample, nil
}

// FakeProvider is an in-memory CollectionProvider that counts every call and
// can be primed with existing collections and per-verb failures.
type FakeProvider struct {
	mu          sync.Mutex
	collections map[string]*fakeCollection

	ListErr   error
	CreateErr error
	StartErr  error
	StopErr   error
	DeleteErr error

	ListCalls   int
	CreateCalls int
	StartCalls  int
	StopCalls   int
	DeleteCalls int
}

type fakeCollection struct {
	counters []string
	running  bool
}

// NewFakeProvider creates an empty fake provider.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{collections: make(map[string]*fakeCollection)}
}

// Prime registers an existing collection without counting a Create call.
func (p *FakeProvider) Prime(name string, counters []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collections[name] = &fakeCollection{counters: counters}
}

// Remove drops a collection, simulating an external process deleting it.
func (p *FakeProvider) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.collections, name)
}

// Has reports whether the named collection currently exists.
func (p *FakeProvider) Has(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.collections[name]
	return ok
}

// Running reports whether the named collection is collecting.
func (p *FakeProvider) Running(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.collections[name]
	return ok && c.running
}

// List implements core.CollectionProvider.
func (p *FakeProvider) List(_ context.Context, prefix string) ([]core.CollectionInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListCalls++
	if p.ListErr != nil {
		return nil, p.ListErr
	}
	var out []core.CollectionInfo
	for name, c := range p.collections {
		if strings.HasPrefix(name, prefix) {
			out = append(out, core.CollectionInfo{Name: name, Counters: append([]string(nil), c.counters...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Create implements core.CollectionProvider.
func (p *FakeProvider) Create(_ context.Context, name string, counters []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CreateCalls++
	if p.CreateErr != nil {
		return p.CreateErr
	}
	p.collections[name] = &fakeCollection{counters: append([]string(nil), counters...)}
	return nil
}

// Start implements core.CollectionProvider.
func (p *FakeProvider) Start(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartCalls++
	if p.StartErr != nil {
		return p.StartErr
	}
	c, ok := p.collections[name]
	if !ok {
		return core.ErrCollectionNotFound(name)
	}
	c.running = true
	return nil
}

// Stop implements core.CollectionProvider.
func (p *FakeProvider) Stop(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StopCalls++
	if p.StopErr != nil {
		return p.StopErr
	}
	c, ok := p.collections[name]
	if !ok {
		return core.ErrCollectionNotFound(name)
	}
	c.running = false
	return nil
}

// Delete implements core.CollectionProvider.
func (p *FakeProvider) Delete(_ context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DeleteCalls++
	if p.DeleteErr != nil {
		return p.DeleteErr
	}
	if _, ok := p.collections[name]; !ok {
		return core.ErrCollectionNotFound(name)
	}
	delete(p.collections, name)
	return nil
}

// MemoryRegistry is an in-memory OwnershipRegistry.
type MemoryRegistry struct {
	mu   sync.Mutex
	rows map[string]core.ManagedCollection
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{rows: make(map[string]core.ManagedCollection)}
}

// MarkManaged implements core.OwnershipRegistry.
func (r *MemoryRegistry) MarkManaged(_ context.Context, name string, counters []string, runID core.RunID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[name] = core.ManagedCollection{
		Name:      name,
		Counters:  append([]string(nil), counters...),
		RunID:     runID,
		CreatedAt: time.Now(),
	}
	return nil
}

// IsManaged implements core.OwnershipRegistry.
func (r *MemoryRegistry) IsManaged(_ context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rows[name]
	return ok, nil
}

// Unmark implements core.OwnershipRegistry.
func (r *MemoryRegistry) Unmark(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, name)
	return nil
}

// List implements core.OwnershipRegistry.
func (r *MemoryRegistry) List(context.Context) ([]core.ManagedCollection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.ManagedCollection, 0, len(r.rows))
	for _, row := range r.rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Close implements core.OwnershipRegistry.
func (r *MemoryRegistry) Close() error { return nil }
