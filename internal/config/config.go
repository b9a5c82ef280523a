// Package config loads and validates pgmedic configuration from defaults, an
// optional YAML file and environment variables.
package config

import (
	"time"

	"github.com/pgmedic/pgmedic/internal/core"
)

// Config holds all application configuration.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	Server     ServerConfig     `mapstructure:"server"`
	Protection ProtectionConfig `mapstructure:"protection"`
	Perfmon    PerfmonConfig    `mapstructure:"perfmon"`
	Analysis   AnalysisConfig   `mapstructure:"analysis"`
	API        APIConfig        `mapstructure:"api"`
}

// LoggingConfig configures the slog setup.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// ServerConfig points at the database under diagnosis. An empty DSN degrades
// the run to host-only metrics and skips the database phases.
type ServerConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ProtectionConfig configures the safety watchdog.
type ProtectionConfig struct {
	Enabled              bool    `mapstructure:"enabled"`
	MaxCPUPercent        float64 `mapstructure:"max_cpu_percent"`
	MaxMemoryPercent     float64 `mapstructure:"max_memory_percent"`
	MaxConnections       int     `mapstructure:"max_connections"`
	MaxBlockingSessions  int     `mapstructure:"max_blocking_sessions"`
	CheckIntervalSeconds int     `mapstructure:"check_interval_seconds"`
	HysteresisCount      int     `mapstructure:"hysteresis_count"`
	SampleTimeoutSeconds int     `mapstructure:"sample_timeout_seconds"`
	HistorySize          int     `mapstructure:"history_size"`
}

// Thresholds converts the watchdog section into the domain threshold config.
func (p ProtectionConfig) Thresholds() core.ThresholdConfig {
	return core.ThresholdConfig{
		MaxCPUPercent:       p.MaxCPUPercent,
		MaxMemoryPercent:    p.MaxMemoryPercent,
		MaxConnections:      p.MaxConnections,
		MaxBlockingSessions: p.MaxBlockingSessions,
		CheckInterval:       time.Duration(p.CheckIntervalSeconds) * time.Second,
	}
}

// SampleTimeout returns the per-sample metrics timeout; unset means one check
// interval.
func (p ProtectionConfig) SampleTimeout() time.Duration {
	if p.SampleTimeoutSeconds <= 0 {
		return time.Duration(p.CheckIntervalSeconds) * time.Second
	}
	return time.Duration(p.SampleTimeoutSeconds) * time.Second
}

// PerfmonConfig configures the collection lifecycle.
type PerfmonConfig struct {
	EnableSmartReuse bool     `mapstructure:"enable_smart_reuse"`
	CollectionPrefix string   `mapstructure:"collection_prefix"`
	AutoCleanup      bool     `mapstructure:"auto_cleanup"`
	MatchThreshold   float64  `mapstructure:"match_threshold"`
	Provider         string   `mapstructure:"provider"`
	Counters         []string `mapstructure:"counters"`
	SpoolDir         string   `mapstructure:"spool_dir"`
}

// Policy converts the perfmon section into the domain collection policy.
func (p PerfmonConfig) Policy() core.CollectionPolicy {
	return core.CollectionPolicy{
		Prefix:         p.CollectionPrefix,
		MatchThreshold: p.MatchThreshold,
		SmartReuse:     p.EnableSmartReuse,
		AutoCleanup:    p.AutoCleanup,
	}
}

// AnalysisConfig configures the diagnostic run itself.
type AnalysisConfig struct {
	OutputDir        string   `mapstructure:"output_dir"`
	Formats          []string `mapstructure:"formats"`
	NightMode        bool     `mapstructure:"night_mode"`
	StepDelaySeconds int      `mapstructure:"step_delay_seconds"`
	DataDir          string   `mapstructure:"data_dir"`
	SkipPhases       []string `mapstructure:"skip_phases"`
}

// StepDelay returns the inter-phase pause applied in night mode.
func (a AnalysisConfig) StepDelay() time.Duration {
	return time.Duration(a.StepDelaySeconds) * time.Second
}

// APIConfig configures the optional status API.
type APIConfig struct {
	StatusAddr string `mapstructure:"status_addr"`
}

// DefaultCounters is the stock counter set recorded by a new collection,
// after the perfmon defaults of the original tool.
func DefaultCounters() []string {
	return []string{
		`\processor(_total)\% processor time`,
		`\system\processor queue length`,
		`\memory\available mbytes`,
		`\memory\pages/sec`,
		`\logicaldisk(*)\avg. disk sec/read`,
		`\logicaldisk(*)\avg. disk sec/write`,
		`\logicaldisk(*)\disk reads/sec`,
		`\logicaldisk(*)\disk writes/sec`,
	}
}
