package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pgmedic/pgmedic/internal/adapters/postgres"
	"github.com/pgmedic/pgmedic/internal/adapters/system"
	"github.com/pgmedic/pgmedic/internal/config"
	"github.com/pgmedic/pgmedic/internal/logging"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the environment pgmedic needs to run",
	Long:  "Verify database connectivity, the collection backend, the ownership registry and the metrics sources.",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type doctorCheck struct {
	name     string
	optional bool
	run      func(ctx context.Context, cfg *config.Config, logger *logging.Logger) error
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.NewNop() // checks report through stdout, not the log

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	checks := []doctorCheck{
		{"database connectivity", true, checkDatabase},
		{"host metrics source", false, checkHostMetrics},
		{"collection backend", false, checkProvider},
		{"ownership registry", false, checkRegistry},
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Checking environment...")
	fmt.Fprintln(cmd.OutOrStdout())

	ok := true
	for _, check := range checks {
		err := check.run(ctx, cfg, logger)
		switch {
		case err == nil:
			fmt.Fprintf(cmd.OutOrStdout(), "  ✓ %s\n", check.name)
		case check.optional:
			fmt.Fprintf(cmd.OutOrStdout(), "  ○ %s: %v\n", check.name, err)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "  ✗ %s: %v\n", check.name, err)
			ok = false
		}
	}

	fmt.Fprintln(cmd.OutOrStdout())
	if !ok {
		return fmt.Errorf("environment checks failed")
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Everything looks good.")
	return nil
}

func checkDatabase(ctx context.Context, cfg *config.Config, _ *logging.Logger) error {
	if cfg.Server.DSN == "" {
		return fmt.Errorf("no DSN configured; analysis will be host-only")
	}
	client, err := postgres.Connect(ctx, cfg.Server.DSN)
	if err != nil {
		return err
	}
	client.Close()
	return nil
}

func checkHostMetrics(ctx context.Context, _ *config.Config, _ *logging.Logger) error {
	sample, err := system.New().Sample(ctx)
	if err != nil {
		return err
	}
	if sample.MemoryPercent <= 0 {
		return fmt.Errorf("memory reading came back empty")
	}
	return nil
}

func checkProvider(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	provider, closeProvider, err := buildProvider(cfg, logger)
	if err != nil {
		return err
	}
	if closeProvider != nil {
		defer func() { _ = closeProvider() }()
	}
	if provider == nil {
		return fmt.Errorf("provider is configured off")
	}
	_, err = provider.List(ctx, cfg.Perfmon.CollectionPrefix)
	return err
}

func checkRegistry(ctx context.Context, cfg *config.Config, _ *logging.Logger) error {
	reg, err := openRegistry(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close() }()

	// A write probe; doctor must notice a read-only data directory.
	const probe = "pgmedic_doctor_probe"
	if err := reg.MarkManaged(ctx, probe, nil, "run-doctor"); err != nil {
		return err
	}
	return reg.Unmark(ctx, probe)
}
