package failure

import (
	"errors"
	"fmt"
	"testing"
)

func TestPhaseOf_WrappedError(t *testing.T) {
	base := Acquisition(PhaseQuery, "results did not load", errors.New("timeout"))
	wrapped := fmt.Errorf("attempt 3: %w", base)
	if got := PhaseOf(wrapped); got != PhaseQuery {
		t.Fatalf("expected phase %q, got %q", PhaseQuery, got)
	}
	if got := KindOf(wrapped); got != KindAcquisition {
		t.Fatalf("expected kind %q, got %q", KindAcquisition, got)
	}
}

func TestPhaseOf_UntaggedIsInternal(t *testing.T) {
	if got := PhaseOf(errors.New("boom")); got != PhaseInternal {
		t.Fatalf("expected internal phase, got %q", got)
	}
}

func TestNotFound_IsTerminal(t *testing.T) {
	err := NotFound(PhaseQuery, "no results")
	if err.Retryable() {
		t.Fatalf("not-found failure must not be retryable")
	}
	if !IsNotFound(fmt.Errorf("wrap: %w", err)) {
		t.Fatalf("expected IsNotFound through wrapping")
	}
	if !errors.Is(err, ErrNoResults) {
		t.Fatalf("expected errors.Is ErrNoResults")
	}
	transient := Acquisition(PhaseNavigation, "marker missing", nil)
	if !transient.Retryable() {
		t.Fatalf("acquisition failure should be retryable")
	}
}

func TestPublic_HidesInternalDetail(t *testing.T) {
	err := Internal(errors.New("nil pointer in /srv/secret/path.go"))
	if got := Public(err); got != "internal error" {
		t.Fatalf("leaked detail: %q", got)
	}
	if got := Public(errors.New("raw")); got != "internal error" {
		t.Fatalf("untagged error leaked: %q", got)
	}
	if got := Public(Validation("name too short", nil)); got != "name too short" {
		t.Fatalf("unexpected validation message %q", got)
	}
}

func TestError_Format(t *testing.T) {
	err := Acquisition(PhaseDownload, "no matching file", errors.New("deadline"))
	if got := err.Error(); got != "download: no matching file: deadline" {
		t.Fatalf("unexpected message %q", got)
	}
}
