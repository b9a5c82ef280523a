// Package logman drives Windows performance data collector sets through the
// logman command-line tool. The exec boundary is a single injectable runner;
// everything around it (argument builders, output parsing) is pure.
package logman

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/pgmedic/pgmedic/internal/core"
	"github.com/pgmedic/pgmedic/internal/logging"
)

// runner executes one logman invocation and returns its combined output.
type runner func(ctx context.Context, args ...string) (string, error)

const defaultCommandTimeout = 30 * time.Second

// Provider implements core.CollectionProvider over logman.
type Provider struct {
	run             runner
	commandTimeout  time.Duration
	intervalSeconds int
	logger          *logging.Logger
}

// Option configures the provider.
type Option func(*Provider)

// WithCommandTimeout bounds each logman invocation.
func WithCommandTimeout(d time.Duration) Option {
	return func(p *Provider) { p.commandTimeout = d }
}

// WithSampleInterval sets the collector's sample interval in seconds.
func WithSampleInterval(seconds int) Option {
	return func(p *Provider) { p.intervalSeconds = seconds }
}

// withRunner replaces the exec boundary, for tests.
func withRunner(r runner) Option {
	return func(p *Provider) { p.run = r }
}

// New creates a logman-backed provider.
func New(logger *logging.Logger, opts ...Option) *Provider {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Provider{
		run:             execLogman,
		commandTimeout:  defaultCommandTimeout,
		intervalSeconds: 15,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func execLogman(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "logman", args...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func (p *Provider) exec(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.commandTimeout)
	defer cancel()
	p.logger.Debug("logman", "args", strings.Join(args, " "))
	return p.run(ctx, args...)
}

// List returns data collector sets whose name starts with prefix, with their
// counter lists resolved via a per-set detail query.
func (p *Provider) List(ctx context.Context, prefix string) ([]core.CollectionInfo, error) {
	out, err := p.exec(ctx, queryArgs()...)
	if err != nil {
		return nil, wrapErr(core.CodeCollectionList, "logman query failed", out, err)
	}

	var infos []core.CollectionInfo
	for _, name := range parseQueryNames(out) {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		detail, err := p.exec(ctx, queryDetailArgs(name)...)
		if err != nil {
			// The set can disappear between the two queries; skip it.
			p.logger.Warn("collection detail query failed", "collection", name, "error", err)
			continue
		}
		infos = append(infos, core.CollectionInfo{
			Name:     name,
			Counters: parseCounters(detail),
		})
	}
	return infos, nil
}

// Create registers a new counter data collector set.
func (p *Provider) Create(ctx context.Context, name string, counters []string) error {
	out, err := p.exec(ctx, createArgs(name, counters, p.intervalSeconds)...)
	if err != nil {
		return wrapErr(core.CodeCollectionCreate, "logman create failed", out, err)
	}
	return nil
}

// Start begins data collection.
func (p *Provider) Start(ctx context.Context, name string) error {
	out, err := p.exec(ctx, startArgs(name)...)
	if err != nil {
		return wrapErr(core.CodeCollectionStart, "logman start failed", out, err)
	}
	return nil
}

// Stop halts data collection.
func (p *Provider) Stop(ctx context.Context, name string) error {
	out, err := p.exec(ctx, stopArgs(name)...)
	if err != nil {
		if isNotFound(out) {
			return core.ErrCollectionNotFound(name)
		}
		return wrapErr(core.CodeCollectionStop, "logman stop failed", out, err)
	}
	return nil
}

// Delete removes the data collector set.
func (p *Provider) Delete(ctx context.Context, name string) error {
	out, err := p.exec(ctx, deleteArgs(name)...)
	if err != nil {
		if isNotFound(out) {
			return core.ErrCollectionNotFound(name)
		}
		return wrapErr(core.CodeCollectionDelete, "logman delete failed", out, err)
	}
	return nil
}

func wrapErr(code, msg, output string, err error) error {
	detail := strings.TrimSpace(output)
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}
	return core.ErrCollectionBackend(code, msg).WithCause(err)
}

// isNotFound matches logman's not-found message, which survives across the
// verbs and most Windows locales shipped in English.
func isNotFound(output string) bool {
	return strings.Contains(strings.ToLower(output), "not found")
}

// parseQueryNames extracts set names from `logman query` tabular output:
//
//	Data Collector Set                      Type                          Status
//	-------------------------------------------------------------------------------
//	pgmedic_run-1                           Counter                       Running
//
// Names are the first column; the header, separator and trailing status line
// are skipped.
func parseQueryNames(output string) []string {
	var names []string
	inTable := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "---") {
			inTable = true
			continue
		}
		if !inTable {
			continue
		}
		if strings.HasPrefix(trimmed, "The command ") {
			break
		}
		// First column ends at the first run of two or more spaces.
		if idx := strings.Index(line, "  "); idx > 0 {
			names = append(names, strings.TrimSpace(line[:idx]))
		} else {
			names = append(names, trimmed)
		}
	}
	return names
}

// parseCounters extracts the counter list from `logman query <name>` detail
// output. Counters follow a "Performance counters:" label, one per line,
// each starting with a backslash.
func parseCounters(output string) []string {
	var counters []string
	collecting := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)

		if collecting {
			if strings.HasPrefix(trimmed, `\`) {
				counters = append(counters, trimmed)
				continue
			}
			if trimmed == "" {
				break
			}
			collecting = false
		}

		if idx := strings.Index(trimmed, ":"); idx >= 0 {
			label := strings.ToLower(strings.TrimSpace(trimmed[:idx]))
			rest := strings.TrimSpace(trimmed[idx+1:])
			if label == "performance counters" || label == "counters" {
				collecting = true
				if strings.HasPrefix(rest, `\`) {
					counters = append(counters, rest)
				}
			}
		}
	}
	return counters
}
