// Package recorder is the portable collection backend: a collection is a
// directory on disk holding a manifest and a JSONL spool of counter samples,
// recorded by an in-process goroutine. Other processes see (and may delete)
// the same directories, so every call tolerates external interference.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/pgmedic/pgmedic/internal/core"
	"github.com/pgmedic/pgmedic/internal/logging"
)

const (
	manifestFile = "manifest.json"
	samplesFile  = "samples.jsonl"

	statusCreated = "created"
	statusRunning = "running"
	statusStopped = "stopped"
)

// Manifest describes one spool collection.
type Manifest struct {
	Name      string    `json:"name"`
	Counters  []string  `json:"counters"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Row is one recorded JSONL sample.
type Row struct {
	Timestamp time.Time          `json:"timestamp"`
	Values    map[string]float64 `json:"values"`
}

// Provider implements core.CollectionProvider over a spool directory.
type Provider struct {
	spoolDir string
	interval time.Duration
	logger   *logging.Logger

	mu       sync.Mutex
	samplers map[string]*sampler

	watcher *fsnotify.Watcher
	closeCh chan struct{}
}

type sampler struct {
	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures the provider.
type Option func(*Provider)

// WithInterval sets the recording interval.
func WithInterval(d time.Duration) Option {
	return func(p *Provider) { p.interval = d }
}

// New creates a recorder provider rooted at spoolDir. A directory watcher
// notices collections deleted externally mid-run and halts their samplers.
func New(spoolDir string, logger *logging.Logger, opts ...Option) (*Provider, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := os.MkdirAll(spoolDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating spool directory: %w", err)
	}

	p := &Provider{
		spoolDir: spoolDir,
		interval: 15 * time.Second,
		logger:   logger,
		samplers: make(map[string]*sampler),
		closeCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating spool watcher: %w", err)
	}
	if err := watcher.Add(spoolDir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching spool directory: %w", err)
	}
	p.watcher = watcher
	go p.watch()

	return p, nil
}

// watch halts the sampler of any collection directory removed behind our
// back; the next provider call on it reports not-found.
func (p *Provider) watch() {
	for {
		select {
		case <-p.closeCh:
			return
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if p.stopSampler(name) {
				p.logger.Warn("collection removed externally, sampler halted", "collection", name)
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("spool watcher error", "error", err)
		}
	}
}

// Close halts the watcher and every sampler.
func (p *Provider) Close() error {
	close(p.closeCh)
	err := p.watcher.Close()

	p.mu.Lock()
	names := make([]string, 0, len(p.samplers))
	for name := range p.samplers {
		names = append(names, name)
	}
	p.mu.Unlock()
	for _, name := range names {
		p.stopSampler(name)
	}
	return err
}

func (p *Provider) dir(name string) string {
	return filepath.Join(p.spoolDir, name)
}

// List scans spool manifests by prefix, name-sorted.
func (p *Provider) List(_ context.Context, prefix string) ([]core.CollectionInfo, error) {
	entries, err := os.ReadDir(p.spoolDir)
	if err != nil {
		return nil, core.ErrCollectionBackend(core.CodeCollectionList, "reading spool directory").WithCause(err)
	}

	var infos []core.CollectionInfo
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		m, err := p.readManifest(entry.Name())
		if err != nil {
			p.logger.Warn("skipping unreadable collection", "collection", entry.Name(), "error", err)
			continue
		}
		infos = append(infos, core.CollectionInfo{Name: m.Name, Counters: m.Counters})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

// Create registers a new collection directory with an atomic manifest write.
func (p *Provider) Create(_ context.Context, name string, counters []string) error {
	dir := p.dir(name)
	if _, err := os.Stat(dir); err == nil {
		return core.ErrCollectionBackend(core.CodeCollectionCreate,
			fmt.Sprintf("collection already exists: %s", name))
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return core.ErrCollectionBackend(core.CodeCollectionCreate, "creating collection directory").WithCause(err)
	}
	m := Manifest{
		Name:      name,
		Counters:  counters,
		Status:    statusCreated,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.writeManifest(m); err != nil {
		return core.ErrCollectionBackend(core.CodeCollectionCreate, "writing manifest").WithCause(err)
	}
	return nil
}

// Start launches the sampling goroutine for a created collection.
func (p *Provider) Start(_ context.Context, name string) error {
	m, err := p.readManifest(name)
	if err != nil {
		if os.IsNotExist(err) {
			return core.ErrCollectionNotFound(name)
		}
		return core.ErrCollectionBackend(core.CodeCollectionStart, "reading manifest").WithCause(err)
	}

	p.mu.Lock()
	if _, running := p.samplers[name]; running {
		p.mu.Unlock()
		return nil
	}
	s := &sampler{stopCh: make(chan struct{}), doneCh: make(chan struct{})}
	p.samplers[name] = s
	p.mu.Unlock()

	m.Status = statusRunning
	if err := p.writeManifest(m); err != nil {
		p.logger.Warn("failed to update manifest status", "collection", name, "error", err)
	}

	go p.record(name, m.Counters, s)
	return nil
}

// Stop halts the sampler and flips the manifest status.
func (p *Provider) Stop(_ context.Context, name string) error {
	m, err := p.readManifest(name)
	if err != nil {
		if os.IsNotExist(err) {
			return core.ErrCollectionNotFound(name)
		}
		return core.ErrCollectionBackend(core.CodeCollectionStop, "reading manifest").WithCause(err)
	}

	p.stopSampler(name)

	m.Status = statusStopped
	if err := p.writeManifest(m); err != nil {
		return core.ErrCollectionBackend(core.CodeCollectionStop, "writing manifest").WithCause(err)
	}
	return nil
}

// Delete stops the sampler and removes the collection directory.
func (p *Provider) Delete(_ context.Context, name string) error {
	if _, err := os.Stat(p.dir(name)); os.IsNotExist(err) {
		return core.ErrCollectionNotFound(name)
	}
	p.stopSampler(name)
	if err := os.RemoveAll(p.dir(name)); err != nil {
		return core.ErrCollectionBackend(core.CodeCollectionDelete, "removing collection directory").WithCause(err)
	}
	return nil
}

// stopSampler signals and joins the named sampler. Reports whether one was
// running.
func (p *Provider) stopSampler(name string) bool {
	p.mu.Lock()
	s, ok := p.samplers[name]
	if ok {
		delete(p.samplers, name)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	close(s.stopCh)
	<-s.doneCh
	return true
}

// record appends one JSONL row per interval until stopped.
func (p *Provider) record(name string, counters []string, s *sampler) {
	defer close(s.doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			row := Row{Timestamp: time.Now().UTC(), Values: readCounters(counters)}
			if err := p.appendRow(name, row); err != nil {
				p.logger.Warn("failed to append sample", "collection", name, "error", err)
			}
		}
	}
}

// readCounters resolves the requested counter identifiers against host
// readings. Counters the host cannot serve are recorded as absent, not zero.
func readCounters(counters []string) map[string]float64 {
	values := make(map[string]float64, len(counters))
	var (
		cpuPct   float64
		cpuOK    bool
		vm       *mem.VirtualMemoryStat
		loadAvg  *load.AvgStat
		cpuRead  bool
		memRead  bool
		loadRead bool
	)

	for _, c := range counters {
		key := strings.ToLower(c)
		switch {
		case strings.Contains(key, "processor time"):
			if !cpuRead {
				cpuRead = true
				if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
					cpuPct, cpuOK = pct[0], true
				}
			}
			if cpuOK {
				values[c] = cpuPct
			}
		case strings.Contains(key, "available mbytes"):
			if !memRead {
				memRead = true
				vm, _ = mem.VirtualMemory()
			}
			if vm != nil {
				values[c] = float64(vm.Available) / 1024 / 1024
			}
		case strings.Contains(key, "pages/sec"):
			if !memRead {
				memRead = true
				vm, _ = mem.VirtualMemory()
			}
			if vm != nil {
				values[c] = float64(vm.SwapCached)
			}
		case strings.Contains(key, "processor queue"):
			if !loadRead {
				loadRead = true
				loadAvg, _ = load.Avg()
			}
			if loadAvg != nil {
				values[c] = loadAvg.Load1
			}
		}
	}
	return values
}

func (p *Provider) readManifest(name string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(filepath.Join(p.dir(name), manifestFile))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decoding manifest: %w", err)
	}
	return m, nil
}

func (p *Provider) writeManifest(m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(filepath.Join(p.dir(m.Name), manifestFile), data, 0o640)
}

func (p *Provider) appendRow(name string, row Row) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(p.dir(name), samplesFile),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	_, err = f.Write(append(data, '\n'))
	return err
}
