// Package cmd holds the pgmedic CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pgmedic/pgmedic/internal/config"
	"github.com/pgmedic/pgmedic/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string

	// Version info - set via SetVersion()
	appVersion string
	appCommit  string
	appDate    string

	// Shared viper instance so flag bindings participate in config
	// precedence.
	vip = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "pgmedic",
	Short: "PostgreSQL production diagnostics with a safety watchdog",
	Long: `pgmedic analyzes the health of a production PostgreSQL server phase by
phase while a protection monitor samples server load in the background and
aborts the run the moment configured safety thresholds are breached.

Counter collections created on the host are tracked in a local registry, so
pgmedic only ever cleans up what it created itself.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: pgmedic.yaml in the working directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")

	// Bind flags to viper (errors are nil when flag exists)
	_ = vip.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = vip.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// loadConfig resolves the effective configuration from flags, environment,
// file and defaults.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(vip)
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	return loader.Load()
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg *config.Config) *logging.Logger {
	lc := logging.DefaultConfig()
	lc.Level = cfg.Logging.Level
	lc.Format = cfg.Logging.Format
	if cfg.Logging.Output == "stdout" {
		lc.Output = os.Stdout
	}
	return logging.New(lc)
}
