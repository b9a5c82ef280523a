package core

import (
	"strings"
	"testing"
	"time"
)

func TestProtectionState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to ProtectionState
		want     bool
	}{
		{StateIdle, StateMonitoring, true},
		{StateIdle, StateViolated, false},
		{StateIdle, StateStopped, false},
		{StateMonitoring, StateViolated, true},
		{StateMonitoring, StateStopped, true},
		{StateMonitoring, StateIdle, false},
		{StateViolated, StateStopped, true},
		{StateViolated, StateMonitoring, false},
		{StateViolated, StateIdle, false},
		{StateStopped, StateMonitoring, false},
		{StateStopped, StateViolated, false},
		{StateStopped, StateIdle, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestThresholdConfig_Validate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Fatalf("default thresholds should validate: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*ThresholdConfig)
	}{
		{"zero cpu", func(c *ThresholdConfig) { c.MaxCPUPercent = 0 }},
		{"negative cpu", func(c *ThresholdConfig) { c.MaxCPUPercent = -5 }},
		{"cpu above 100", func(c *ThresholdConfig) { c.MaxCPUPercent = 120 }},
		{"memory above 100", func(c *ThresholdConfig) { c.MaxMemoryPercent = 100.5 }},
		{"zero connections", func(c *ThresholdConfig) { c.MaxConnections = 0 }},
		{"zero blocking", func(c *ThresholdConfig) { c.MaxBlockingSessions = 0 }},
		{"sub-second interval", func(c *ThresholdConfig) { c.CheckInterval = 500 * time.Millisecond }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultThresholds()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !IsCategory(err, ErrCatConfig) {
				t.Fatalf("expected config category, got %v", GetCategory(err))
			}
		})
	}
}

func TestThresholdConfig_ValidateReportsAllProblems(t *testing.T) {
	cfg := ThresholdConfig{
		MaxCPUPercent:       -1,
		MaxMemoryPercent:    200,
		MaxConnections:      0,
		MaxBlockingSessions: -3,
		CheckInterval:       0,
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"max_cpu_percent", "max_memory_percent", "max_connections", "max_blocking_sessions", "check_interval"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected message to mention %s, got %q", want, msg)
		}
	}
}

func TestCollectionPolicy_Validate(t *testing.T) {
	if err := DefaultCollectionPolicy().Validate(); err != nil {
		t.Fatalf("default policy should validate: %v", err)
	}

	bad := DefaultCollectionPolicy()
	bad.Prefix = ""
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected empty prefix to be rejected")
	}

	bad = DefaultCollectionPolicy()
	bad.MatchThreshold = 0
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected zero match threshold to be rejected")
	}

	bad = DefaultCollectionPolicy()
	bad.MatchThreshold = 1.2
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected match threshold above 1 to be rejected")
	}

	ok := DefaultCollectionPolicy()
	ok.MatchThreshold = 1.0
	if err := ok.Validate(); err != nil {
		t.Fatalf("match threshold 1.0 should be accepted: %v", err)
	}
}

func TestNewRunID(t *testing.T) {
	now := time.Date(2025, 1, 21, 15, 30, 45, 0, time.UTC)
	id := string(NewRunID(now))
	if !strings.HasPrefix(id, "run-20250121-153045-") {
		t.Fatalf("unexpected run id format: %s", id)
	}
	if other := string(NewRunID(now)); other == id {
		t.Fatalf("expected distinct suffixes for two ids, got %s twice", id)
	}
}

func TestViolationEvent_String(t *testing.T) {
	v := ViolationEvent{Metric: MetricCPUPercent, Observed: 90, Threshold: 80}
	s := v.String()
	if !strings.Contains(s, "cpu_percent") || !strings.Contains(s, "90.0") || !strings.Contains(s, "80.0") {
		t.Fatalf("unexpected string: %q", s)
	}
}
