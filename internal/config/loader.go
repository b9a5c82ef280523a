package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from defaults, an optional YAML file
// and the environment.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// NewLoaderWithViper creates a loader using an existing viper instance, so
// CLI flag bindings participate in precedence.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
//  1. CLI flags (bound via viper.BindPFlag)
//  2. Environment variables (section.key -> SECTION_KEY, no program prefix,
//     so PROTECTION_MAX_CPU_PERCENT binds protection.max_cpu_percent)
//  3. pgmedic.yaml in the working directory
//  4. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("pgmedic")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := NewValidator().Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("logging.level", "info")
	l.v.SetDefault("logging.format", "auto")
	l.v.SetDefault("logging.output", "stderr")

	l.v.SetDefault("server.dsn", "")

	l.v.SetDefault("protection.enabled", true)
	l.v.SetDefault("protection.max_cpu_percent", 80.0)
	l.v.SetDefault("protection.max_memory_percent", 85.0)
	l.v.SetDefault("protection.max_connections", 500)
	l.v.SetDefault("protection.max_blocking_sessions", 10)
	l.v.SetDefault("protection.check_interval_seconds", 5)
	l.v.SetDefault("protection.hysteresis_count", 1)
	l.v.SetDefault("protection.sample_timeout_seconds", 0)
	l.v.SetDefault("protection.history_size", 720)

	l.v.SetDefault("perfmon.enable_smart_reuse", true)
	l.v.SetDefault("perfmon.collection_prefix", "pgmedic")
	l.v.SetDefault("perfmon.auto_cleanup", true)
	l.v.SetDefault("perfmon.match_threshold", 0.8)
	l.v.SetDefault("perfmon.provider", "recorder")
	l.v.SetDefault("perfmon.counters", DefaultCounters())
	l.v.SetDefault("perfmon.spool_dir", ".pgmedic/collections")

	l.v.SetDefault("analysis.output_dir", ".pgmedic/runs")
	l.v.SetDefault("analysis.formats", []string{"json", "markdown"})
	l.v.SetDefault("analysis.night_mode", false)
	l.v.SetDefault("analysis.step_delay_seconds", 30)
	l.v.SetDefault("analysis.data_dir", ".pgmedic")
	l.v.SetDefault("analysis.skip_phases", []string{})

	l.v.SetDefault("api.status_addr", "")
}
