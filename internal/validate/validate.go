package validate

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hyperifyio/regdoc/internal/failure"
)

const (
	MinNameRunes = 3
	MaxNameRunes = 200
)

var (
	ErrEmptyName      = errors.New("organization name is empty")
	ErrNameLength     = errors.New("organization name length out of range")
	ErrForbiddenInput = errors.New("organization name contains forbidden characters")
)

var (
	markupRe    = regexp.MustCompile(`[<>"'{}]`)
	traversalRe = regexp.MustCompile(`\.\.[/\\]`)
	controlRe   = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// SearchTarget is an organization name that passed OrganizationName. The zero
// value is not a valid target.
type SearchTarget struct {
	name string
}

func (t SearchTarget) String() string { return t.name }

// IsZero reports whether t was never validated.
func (t SearchTarget) IsZero() bool { return t.name == "" }

// OrganizationName trims raw and checks it against the registry search rules:
// 3 to 200 characters, no markup characters, no path traversal sequences and
// no control characters. Failures are tagged with the validation phase.
func OrganizationName(raw string) (SearchTarget, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return SearchTarget{}, failure.Validation("organization name is required", ErrEmptyName)
	}
	n := utf8.RuneCountInString(name)
	if n < MinNameRunes || n > MaxNameRunes {
		msg := fmt.Sprintf("organization name must be between %d and %d characters", MinNameRunes, MaxNameRunes)
		return SearchTarget{}, failure.Validation(msg, ErrNameLength)
	}
	switch {
	case markupRe.MatchString(name):
		return SearchTarget{}, failure.Validation("organization name contains markup characters", ErrForbiddenInput)
	case traversalRe.MatchString(name):
		return SearchTarget{}, failure.Validation("organization name contains a path sequence", ErrForbiddenInput)
	case controlRe.MatchString(name):
		return SearchTarget{}, failure.Validation("organization name contains control characters", ErrForbiddenInput)
	}
	return SearchTarget{name: name}, nil
}
