package core

import (
	"errors"
	"testing"
)

func TestDomainError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := (&DomainError{
		Category: ErrCatCollection,
		Code:     "CODE",
		Message:  "message",
	}).WithCause(cause)

	if err.Unwrap() != cause {
		t.Fatalf("expected cause to be unwrapped")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to match cause")
	}

	match := &DomainError{Category: ErrCatCollection, Code: "CODE"}
	if !errors.Is(err, match) {
		t.Fatalf("expected errors.Is to match category and code")
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := &DomainError{Category: ErrCatAnalysis, Code: "X", Message: "msg"}
	err.WithDetail("k", "v")
	if err.Details == nil || err.Details["k"] != "v" {
		t.Fatalf("expected details to be set")
	}
}

func TestErrorFactories(t *testing.T) {
	if ErrConfig("C", "m").Retryable {
		t.Fatalf("config should not be retryable")
	}
	if !ErrMetricsUnavailable("m").Retryable {
		t.Fatalf("metrics should be retryable")
	}
	if ErrCollectionBackend(CodeCollectionCreate, "m").Retryable {
		t.Fatalf("collection backend should not be retryable")
	}
	if ErrAnalysis("C", "m").Retryable {
		t.Fatalf("analysis should not be retryable")
	}
	if ErrState("C", "m").Retryable {
		t.Fatalf("state should not be retryable")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(ErrMetricsUnavailable("m")) {
		t.Fatalf("expected retryable error")
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("expected non-domain error to be non-retryable")
	}
}

func TestGetCategory(t *testing.T) {
	if GetCategory(ErrMetricsUnavailable("m")) != ErrCatMetrics {
		t.Fatalf("expected metrics category")
	}
	if GetCategory(errors.New("plain")) != ErrCatInternal {
		t.Fatalf("expected internal category for non-domain error")
	}
	if !IsCategory(ErrConfig("C", "m"), ErrCatConfig) {
		t.Fatalf("expected category match")
	}
}

func TestIsCollectionNotFound(t *testing.T) {
	if !IsCollectionNotFound(ErrCollectionNotFound("pgmedic_x")) {
		t.Fatalf("expected not-found to be detected")
	}
	wrapped := ErrCollectionBackend(CodeCollectionStop, "stop failed").
		WithCause(ErrCollectionNotFound("pgmedic_x"))
	if !IsCollectionNotFound(wrapped) {
		t.Fatalf("expected wrapped not-found to be detected")
	}
	if IsCollectionNotFound(ErrCollectionBackend(CodeCollectionList, "boom")) {
		t.Fatalf("expected generic backend error to not match")
	}
	if IsCollectionNotFound(errors.New("plain")) {
		t.Fatalf("expected plain error to not match")
	}
}
