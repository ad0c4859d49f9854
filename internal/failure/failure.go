package failure

import (
	"errors"
	"strings"
)

// Kind groups failures by how callers are expected to react to them.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAcquisition   Kind = "acquisition"
	KindExtraction    Kind = "extraction"
	KindSummarization Kind = "summarization"
	KindInternal      Kind = "internal"
)

// Phase names the step that produced a failure. Acquisition failures carry
// the stage that raised them; every other kind has a single phase.
type Phase string

const (
	PhaseValidation     Phase = "validation"
	PhaseNavigation     Phase = "navigation"
	PhaseEntry          Phase = "entry"
	PhaseQuery          Phase = "query"
	PhaseLinkResolution Phase = "link-resolution"
	PhaseDownload       Phase = "download"
	PhaseExtraction     Phase = "extraction"
	PhaseSummarization  Phase = "summarization"
	PhaseInternal       Phase = "internal_error"
)

// ErrNoResults marks a registry search that completed but matched nothing.
var ErrNoResults = errors.New("no matching registry entries")

// Error is the tagged failure passed across package boundaries. Callers
// recover it with errors.As or the helpers below.
type Error struct {
	Kind    Kind
	Phase   Phase
	Message string
	// NotFound is set when the failure is an expected "nothing there" outcome
	// rather than an infrastructure problem.
	NotFound bool
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Phase))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether running the acquisition workflow again could
// plausibly change the outcome.
func (e *Error) Retryable() bool {
	return e.Kind == KindAcquisition && !e.NotFound
}

func Validation(msg string, err error) *Error {
	return &Error{Kind: KindValidation, Phase: PhaseValidation, Message: msg, Err: err}
}

func Acquisition(phase Phase, msg string, err error) *Error {
	return &Error{Kind: KindAcquisition, Phase: phase, Message: msg, Err: err}
}

// NotFound builds an acquisition failure for a search that returned nothing.
func NotFound(phase Phase, msg string) *Error {
	return &Error{Kind: KindAcquisition, Phase: phase, Message: msg, NotFound: true, Err: ErrNoResults}
}

func Extraction(msg string, err error) *Error {
	return &Error{Kind: KindExtraction, Phase: PhaseExtraction, Message: msg, Err: err}
}

func Summarization(msg string, err error) *Error {
	return &Error{Kind: KindSummarization, Phase: PhaseSummarization, Message: msg, Err: err}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Phase: PhaseInternal, Message: "internal error", Err: err}
}

// PhaseOf returns the phase tag of err, or PhaseInternal when err carries none.
func PhaseOf(err error) Phase {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Phase
	}
	return PhaseInternal
}

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsNotFound reports whether err is a tagged "nothing found" outcome.
func IsNotFound(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.NotFound
}

// Public returns a message safe to hand to an external caller. Internal
// failures never expose their cause.
func Public(err error) string {
	var fe *Error
	if !errors.As(err, &fe) || fe.Kind == KindInternal {
		return "internal error"
	}
	if fe.Message != "" {
		return fe.Message
	}
	return fe.Error()
}
