package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pgmedic/pgmedic/internal/adapters/postgres"
	"github.com/pgmedic/pgmedic/internal/adapters/system"
	"github.com/pgmedic/pgmedic/internal/analysis"
	"github.com/pgmedic/pgmedic/internal/api"
	"github.com/pgmedic/pgmedic/internal/core"
	"github.com/pgmedic/pgmedic/internal/metrics"
	"github.com/pgmedic/pgmedic/internal/perfmon"
	"github.com/pgmedic/pgmedic/internal/protection"
	"github.com/pgmedic/pgmedic/internal/report"
)

const slowQueryLimit = 10

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run the full diagnostic analysis against the configured server",
	RunE:  runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.String("server", "", "PostgreSQL DSN of the server under diagnosis")
	f.String("output-dir", "", "directory for report files")
	f.StringSlice("format", nil, "report formats (json, yaml, markdown)")
	f.Bool("night-mode", false, "pace phases with a delay for off-hours runs")
	f.String("status-addr", "", "listen address for the status API (empty = off)")
	f.StringSlice("skip-phases", nil, "phase keys to skip")

	_ = vip.BindPFlag("server.dsn", f.Lookup("server"))
	_ = vip.BindPFlag("analysis.output_dir", f.Lookup("output-dir"))
	_ = vip.BindPFlag("analysis.formats", f.Lookup("format"))
	_ = vip.BindPFlag("analysis.night_mode", f.Lookup("night-mode"))
	_ = vip.BindPFlag("api.status_addr", f.Lookup("status-addr"))
	_ = vip.BindPFlag("analysis.skip_phases", f.Lookup("skip-phases"))

	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	formats := make([]report.Format, 0, len(cfg.Analysis.Formats))
	for _, name := range cfg.Analysis.Formats {
		f, err := report.ParseFormat(name)
		if err != nil {
			return err
		}
		formats = append(formats, f)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := core.NewRunID(time.Now())
	logger.Info("starting analysis run", "run_id", runID)

	var client *postgres.Client
	if cfg.Server.DSN != "" {
		client, err = postgres.Connect(ctx, cfg.Server.DSN)
		if err != nil {
			return fmt.Errorf("connecting to server: %w", err)
		}
		defer client.Close()
	} else {
		logger.Warn("no server DSN configured, running host-only analysis")
	}

	var dbSource core.MetricsSource
	var analyzer *postgres.Analyzer
	if client != nil {
		dbSource = client
		analyzer = postgres.NewAnalyzer(client)
	}
	source := metrics.NewCombined(system.New(), dbSource)

	var startMonitor func() (core.ProtectionHandle, error)
	if cfg.Protection.Enabled {
		thresholds := cfg.Protection.Thresholds()
		opts := protection.Options{
			Hysteresis:    cfg.Protection.HysteresisCount,
			SampleTimeout: cfg.Protection.SampleTimeout(),
			HistorySize:   cfg.Protection.HistorySize,
		}
		startMonitor = func() (core.ProtectionHandle, error) {
			return protection.Start(thresholds, source, logger, opts)
		}
	}

	var manager analysis.CollectionManager
	provider, closeProvider, err := buildProvider(cfg, logger)
	if err != nil {
		return err
	}
	if closeProvider != nil {
		defer func() { _ = closeProvider() }()
	}
	if provider != nil {
		reg, err := openRegistry(cfg)
		if err != nil {
			return fmt.Errorf("opening ownership registry: %w", err)
		}
		defer func() { _ = reg.Close() }()
		manager = perfmon.NewController(provider, reg, cfg.Perfmon.Policy(), runID, logger)
	}

	tracker := api.NewTracker()
	runner := analysis.NewRunner(
		analysis.Options{
			RunID:       runID,
			ServerAddr:  logger.Sanitize(cfg.Server.DSN),
			NightMode:   cfg.Analysis.NightMode,
			StepDelay:   cfg.Analysis.StepDelay(),
			SkipPhases:  cfg.Analysis.SkipPhases,
			Counters:    cfg.Perfmon.Counters,
			AutoCleanup: cfg.Perfmon.AutoCleanup,
		},
		analysis.BuildPhases(analyzer, slowQueryLimit),
		analysis.Deps{
			StartMonitor: startMonitor,
			Collections:  manager,
			Observer:     tracker,
			Logger:       logger,
		},
	)

	// The status API lives exactly as long as the run.
	apiCtx, cancelAPI := context.WithCancel(ctx)
	defer cancelAPI()
	var g errgroup.Group
	if cfg.API.StatusAddr != "" {
		srv := api.NewServer(cfg.API.StatusAddr, tracker, logger)
		g.Go(func() error { return srv.Run(apiCtx) })
	}

	rep, runErr := runner.Run(ctx)
	cancelAPI()
	if err := g.Wait(); err != nil {
		logger.Warn("status api shutdown", "error", err)
	}
	if runErr != nil {
		return runErr
	}

	paths, err := report.WriteFiles(rep, cfg.Analysis.OutputDir, formats)
	if err != nil {
		return fmt.Errorf("writing report files: %w", err)
	}

	fmt.Fprint(cmd.OutOrStdout(), report.TerminalSummary(rep, paths))

	if rep.Aborted() {
		return errors.New("analysis aborted for safety; see report for violations")
	}
	return nil
}
