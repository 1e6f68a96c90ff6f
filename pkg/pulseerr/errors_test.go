package pulseerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_MessageFormatting(t *testing.T) {
	t.Parallel()

	err := Validation("behavior.latency.min_ms", "must be <= max_ms", "swap the bounds")
	want := "behavior.latency.min_ms: must be <= max_ms"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
	if err.Suggestion != "swap the bounds" {
		t.Errorf("suggestion lost: %q", err.Suggestion)
	}
}

func TestError_WrapsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("yaml: line 3: mapping values are not allowed")
	err := Parsing("svc.yaml", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if !IsKind(err, KindParsing) {
		t.Error("expected KindParsing")
	}
}

func TestIsKind_ThroughWrapping(t *testing.T) {
	t.Parallel()

	inner := DuplicateName("svc1")
	outer := fmt.Errorf("loading definitions: %w", inner)

	if !IsKind(outer, KindDuplicateName) {
		t.Error("expected IsKind to see through fmt.Errorf wrapping")
	}
	if IsKind(outer, KindRuntime) {
		t.Error("wrong kind matched")
	}
}

func TestSuggestionOf(t *testing.T) {
	t.Parallel()

	err := Runtime("script evaluation failed", "check script syntax")
	if got := SuggestionOf(fmt.Errorf("handler: %w", err)); got != "check script syntax" {
		t.Errorf("expected suggestion, got %q", got)
	}
	if got := SuggestionOf(errors.New("plain")); got != "" {
		t.Errorf("expected empty suggestion for plain error, got %q", got)
	}
}
