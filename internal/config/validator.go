package config

import (
	"fmt"
	"strings"

	"github.com/pgmedic/pgmedic/internal/core"
)

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// Validator validates a loaded configuration, collecting every problem
// before reporting.
type Validator struct {
	errors []ValidationError
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks the whole configuration and returns one ConfigError listing
// every offending field, or nil.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLogging(&cfg.Logging)
	v.validateProtection(&cfg.Protection)
	v.validatePerfmon(&cfg.Perfmon)
	v.validateAnalysis(&cfg.Analysis)

	if len(v.errors) == 0 {
		return nil
	}
	msgs := make([]string, len(v.errors))
	for i, e := range v.errors {
		msgs[i] = e.Error()
	}
	return core.ErrConfig(core.CodeInvalidConfig, "config validation: "+strings.Join(msgs, "; "))
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{Field: field, Value: value, Message: msg})
}

func (v *Validator) validateLogging(cfg *LoggingConfig) {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		v.addError("logging.level", cfg.Level, "must be one of: debug, info, warn, error")
	}
	switch cfg.Format {
	case "auto", "text", "json":
	default:
		v.addError("logging.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateProtection(cfg *ProtectionConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.MaxCPUPercent <= 0 || cfg.MaxCPUPercent > 100 {
		v.addError("protection.max_cpu_percent", cfg.MaxCPUPercent, "must be in (0, 100]")
	}
	if cfg.MaxMemoryPercent <= 0 || cfg.MaxMemoryPercent > 100 {
		v.addError("protection.max_memory_percent", cfg.MaxMemoryPercent, "must be in (0, 100]")
	}
	if cfg.MaxConnections <= 0 {
		v.addError("protection.max_connections", cfg.MaxConnections, "must be positive")
	}
	if cfg.MaxBlockingSessions <= 0 {
		v.addError("protection.max_blocking_sessions", cfg.MaxBlockingSessions, "must be positive")
	}
	if cfg.CheckIntervalSeconds < 1 {
		v.addError("protection.check_interval_seconds", cfg.CheckIntervalSeconds, "must be at least 1")
	}
	if cfg.HysteresisCount < 1 {
		v.addError("protection.hysteresis_count", cfg.HysteresisCount, "must be at least 1")
	}
	if cfg.SampleTimeoutSeconds < 0 {
		v.addError("protection.sample_timeout_seconds", cfg.SampleTimeoutSeconds, "must not be negative")
	}
	if cfg.HistorySize < 1 {
		v.addError("protection.history_size", cfg.HistorySize, "must be at least 1")
	}
}

func (v *Validator) validatePerfmon(cfg *PerfmonConfig) {
	switch cfg.Provider {
	case "logman", "recorder", "none":
	default:
		v.addError("perfmon.provider", cfg.Provider, "must be one of: logman, recorder, none")
	}
	if cfg.Provider == "none" {
		return
	}
	if cfg.CollectionPrefix == "" {
		v.addError("perfmon.collection_prefix", cfg.CollectionPrefix, "must not be empty")
	}
	if cfg.MatchThreshold <= 0 || cfg.MatchThreshold > 1 {
		v.addError("perfmon.match_threshold", cfg.MatchThreshold, "must be in (0, 1]")
	}
	if len(cfg.Counters) == 0 {
		v.addError("perfmon.counters", cfg.Counters, "must name at least one counter")
	}
}

func (v *Validator) validateAnalysis(cfg *AnalysisConfig) {
	if cfg.OutputDir == "" {
		v.addError("analysis.output_dir", cfg.OutputDir, "must not be empty")
	}
	if cfg.DataDir == "" {
		v.addError("analysis.data_dir", cfg.DataDir, "must not be empty")
	}
	for _, f := range cfg.Formats {
		switch f {
		case "json", "yaml", "markdown":
		default:
			v.addError("analysis.formats", f, "must be one of: json, yaml, markdown")
		}
	}
	if cfg.NightMode && cfg.StepDelaySeconds < 0 {
		v.addError("analysis.step_delay_seconds", cfg.StepDelaySeconds, "must not be negative")
	}
}
