package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/pgmedic/pgmedic/internal/adapters/logman"
	"github.com/pgmedic/pgmedic/internal/adapters/recorder"
	"github.com/pgmedic/pgmedic/internal/adapters/registry"
	"github.com/pgmedic/pgmedic/internal/config"
	"github.com/pgmedic/pgmedic/internal/core"
	"github.com/pgmedic/pgmedic/internal/logging"
)

// buildProvider selects the collection backend from the perfmon section. A
// "none" provider returns nil; callers skip the collection lifecycle then.
// The returned closer is non-nil only when the backend holds resources.
func buildProvider(cfg *config.Config, logger *logging.Logger) (core.CollectionProvider, func() error, error) {
	switch cfg.Perfmon.Provider {
	case "none":
		return nil, nil, nil
	case "logman":
		return logman.New(logger), nil, nil
	case "recorder":
		p, err := recorder.New(cfg.Perfmon.SpoolDir, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("starting recorder backend: %w", err)
		}
		return p, p.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown perfmon provider %q", cfg.Perfmon.Provider)
}

// openRegistry opens the ownership registry under the data directory.
func openRegistry(cfg *config.Config) (*registry.SQLiteRegistry, error) {
	return registry.Open(filepath.Join(cfg.Analysis.DataDir, "registry.db"))
}
