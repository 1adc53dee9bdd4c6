package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestDomainError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := (&DomainError{
		Category: ErrCatValidation,
		Code:     "CODE",
		Message:  "message",
	}).WithCause(cause)

	if err.Unwrap() != cause {
		t.Fatalf("expected cause to be unwrapped")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to match cause")
	}

	match := &DomainError{Category: ErrCatValidation, Code: "CODE"}
	if !errors.Is(err, match) {
		t.Fatalf("expected errors.Is to match category and code")
	}
}

func TestDomainError_WithDetail(t *testing.T) {
	err := &DomainError{Category: ErrCatExecution, Code: "X", Message: "msg"}
	err.WithDetail("k", "v")
	if err.Details == nil || err.Details["k"] != "v" {
		t.Fatalf("expected details to be set")
	}
}

func TestErrorFactories(t *testing.T) {
	if ErrValidation("C", "m").Retryable {
		t.Fatalf("validation should not be retryable")
	}
	if ErrExecution("C", "m").Retryable {
		t.Fatalf("execution should not be retryable")
	}
	if !ErrTimeout("m").Retryable {
		t.Fatalf("timeout should be retryable")
	}
	if ErrState("C", "m").Retryable {
		t.Fatalf("state should not be retryable")
	}
	if ErrAuth("m").Retryable {
		t.Fatalf("auth should not be retryable")
	}
	if !ErrUnavailable("queue", errors.New("down")).Retryable {
		t.Fatalf("unavailable should be retryable")
	}
}

func TestErrNotFound_SameMessageForMissingAndForeign(t *testing.T) {
	missing := ErrNotFound("project", "p1")
	foreign := ErrNotFound("project", "p1")
	if missing.Error() != foreign.Error() {
		t.Fatalf("messages differ: %q vs %q", missing.Error(), foreign.Error())
	}
}

func TestGetCategory(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", ErrNotFound("session", "s1"))
	if got := GetCategory(wrapped); got != ErrCatNotFound {
		t.Fatalf("GetCategory = %s, want not_found", got)
	}
	if got := GetCategory(errors.New("plain")); got != ErrCatInternal {
		t.Fatalf("GetCategory(plain) = %s, want internal", got)
	}
	if !IsCategory(ErrAuth("nope"), ErrCatAuth) {
		t.Fatalf("expected auth category")
	}
}
