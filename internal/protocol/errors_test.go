package protocol

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrProtoBadRequest,
		ErrMalformedGraph,
		ErrValidationFailed,
		ErrIntegrationConflict,
		ErrNoPath,
		ErrInvalidDestination,
		ErrUnreachable,
		ErrInvalidOrigin,
		ErrNotAvailable,
		ErrNotVisited,
		ErrNoActive,
		ErrMalformedOutput,
		ErrNarrationUnavailable,
		ErrSummaryUnavailable,
		ErrBadRequest,
		ErrInternal,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestCodeOf_WalksWrappedChain(t *testing.T) {
	base := &MalformedError{Schema: "narration", Err: errors.New("boom")}
	wrapped := fmt.Errorf("turn 3: %w", base)
	if got := CodeOf(wrapped); got != ErrMalformedOutput {
		t.Fatalf("CodeOf=%q want %q", got, ErrMalformedOutput)
	}
	if got := CodeOf(errors.New("plain")); got != ErrInternal {
		t.Fatalf("CodeOf(plain)=%q want %q", got, ErrInternal)
	}
	if got := CodeOf(nil); got != "" {
		t.Fatalf("CodeOf(nil)=%q want empty", got)
	}
}
