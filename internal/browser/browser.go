package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RefAttr is the attribute both session implementations stamp on elements
// returned from Query so later actions can address them again.
const RefAttr = "data-regdoc-ref"

var (
	// ErrDetached is returned when an element handle no longer resolves in
	// the current document, typically after a navigation.
	ErrDetached = errors.New("element is no longer attached")
	// ErrClosed is returned by any call on a released session.
	ErrClosed = errors.New("session closed")
)

// Match selects how Query.Text is compared with an element.
type Match int

const (
	// MatchNone ignores Text; the CSS selector alone decides.
	MatchNone Match = iota
	MatchExact
	MatchContains
	MatchContainsFold
)

// Query describes one element lookup: a CSS selector plus an optional text
// filter applied to the element's visible text and the listed attributes.
type Query struct {
	CSS   string
	Text  string
	Match Match
	Attrs []string
}

func CSS(selector string) Query { return Query{CSS: selector} }

// LinkText matches anchors whose visible text equals text.
func LinkText(text string) Query { return Query{CSS: "a", Text: text, Match: MatchExact} }

// PartialLinkText matches anchors whose visible text contains text.
func PartialLinkText(text string) Query { return Query{CSS: "a", Text: text, Match: MatchContains} }

// Named matches form controls by name attribute.
func Named(name string) Query { return Query{CSS: fmt.Sprintf("[name=%q]", name)} }

func (q Query) String() string {
	if q.Match == MatchNone || q.Text == "" {
		return q.CSS
	}
	mode := map[Match]string{MatchExact: "=", MatchContains: "~", MatchContainsFold: "~i"}[q.Match]
	if len(q.Attrs) > 0 {
		return fmt.Sprintf("%s text|%s%s%q", q.CSS, strings.Join(q.Attrs, "|"), mode, q.Text)
	}
	return fmt.Sprintf("%s text%s%q", q.CSS, mode, q.Text)
}

// Matches applies the text filter of q to el. The CSS part is assumed to
// have been applied by the session already.
func (q Query) Matches(el Element) bool {
	if q.Match == MatchNone || q.Text == "" {
		return true
	}
	if q.match(el.Text) {
		return true
	}
	for _, a := range q.Attrs {
		if q.match(el.Attr(a)) {
			return true
		}
	}
	return false
}

func (q Query) match(s string) bool {
	s = strings.TrimSpace(s)
	switch q.Match {
	case MatchExact:
		return s == q.Text
	case MatchContains:
		return strings.Contains(s, q.Text)
	case MatchContainsFold:
		return strings.Contains(strings.ToLower(s), strings.ToLower(q.Text))
	}
	return false
}

// Filter returns the elements of els that satisfy q's text filter.
func Filter(q Query, els []Element) []Element {
	out := els[:0:0]
	for _, el := range els {
		if q.Matches(el) {
			out = append(out, el)
		}
	}
	return out
}

// Element is a snapshot of a DOM element taken at query time. Ref is only
// meaningful to the session that produced it.
type Element struct {
	Ref   string            `json:"ref"`
	Tag   string            `json:"tag"`
	Text  string            `json:"text"`
	Attrs map[string]string `json:"attrs"`
	// Ancestry holds "tag.class" entries for the nearest ancestors, nearest
	// first, separated by spaces.
	Ancestry string `json:"ancestry"`
}

func (e Element) Attr(name string) string {
	if e.Attrs == nil {
		return ""
	}
	return e.Attrs[name]
}

func (e Element) String() string {
	label := e.Text
	if label == "" {
		label = e.Attr("value")
	}
	if r := []rune(label); len(r) > 40 {
		label = string(r[:40])
	}
	return fmt.Sprintf("<%s #%s %q>", e.Tag, e.Ref, label)
}

// Page is the set of page interactions the acquisition stages rely on.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// WaitReady blocks until the document finished loading or ctx ends.
	WaitReady(ctx context.Context) error
	Query(ctx context.Context, q Query) ([]Element, error)
	URL(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	// Fill clears a text control and types text into it.
	Fill(ctx context.Context, el Element, text string) error
	PressEnter(ctx context.Context, el Element) error
	// ClickDirect performs a native click after scrolling el into view.
	ClickDirect(ctx context.Context, el Element) error
	// ClickScript invokes the element's click() from page script.
	ClickScript(ctx context.Context, el Element) error
	// ClickPointer dispatches synthetic mouse events at el's centre.
	ClickPointer(ctx context.Context, el Element) error
}

// Session is a Page bound to a browser instance and a download directory.
// Sessions are owned by exactly one workflow attempt.
type Session interface {
	Page
	DownloadDir() string
	Close() error
}

// Factory creates sessions whose downloads land in downloadDir.
type Factory interface {
	NewSession(ctx context.Context, downloadDir string) (Session, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, downloadDir string) (Session, error)

func (f FactoryFunc) NewSession(ctx context.Context, downloadDir string) (Session, error) {
	return f(ctx, downloadDir)
}
