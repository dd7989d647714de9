package corerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOfUnwraps(t *testing.T) {
	base := New(NotFound, "file.csv")
	wrapped := fmt.Errorf("loading context: %w", base)

	k, ok := KindOf(wrapped)
	if !ok || k != NotFound {
		t.Fatalf("KindOf(wrapped) = %v, %v; want NotFound, true", k, ok)
	}
	if !Is(wrapped, NotFound) {
		t.Fatalf("Is(wrapped, NotFound) = false")
	}
}

func TestTransientVsTerminal(t *testing.T) {
	if !Transient(New(ModelUnavailable, "dial tcp: timeout")) {
		t.Error("ModelUnavailable should be transient")
	}
	if Transient(New(ExecutionFailed, "division by zero")) {
		t.Error("ExecutionFailed must never be treated as transient")
	}
	if !TerminalForJob(New(WallTimeout, "exceeded 1800s")) {
		t.Error("WallTimeout must be terminal for the job")
	}
	if TerminalForJob(New(ExecutionFailed, "division by zero")) {
		t.Error("ExecutionFailed must not be terminal; it is an observation")
	}
}

func TestUnrelatedErrorIsNeither(t *testing.T) {
	err := errors.New("plain error")
	if _, ok := KindOf(err); ok {
		t.Error("plain error should not resolve a Kind")
	}
}
