package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hyperifyio/regdoc/internal/failure"
	"github.com/hyperifyio/regdoc/internal/normalize"
	"github.com/hyperifyio/regdoc/internal/validate"
)

const (
	DefaultHighThreshold = 100
	DefaultLowThreshold  = 25
	DefaultTimeout       = 60 * time.Second
)

var (
	ErrNoBackends     = errors.New("no extraction backends configured")
	ErrAllFailed      = errors.New("all extraction backends failed")
	ErrBackendTimeout = errors.New("backend timed out")
)

// Candidate is one backend's result.
type Candidate struct {
	Backend  string        `json:"backend"`
	Text     string        `json:"-"`
	Length   int           `json:"length"`
	Words    int           `json:"words"`
	Pages    int           `json:"pages"`
	Duration time.Duration `json:"duration"`
	OK       bool          `json:"ok"`
	Err      error         `json:"-"`
}

// Stats summarizes the winning extraction.
type Stats struct {
	RawLength     int           `json:"raw_length"`
	CleanedLength int           `json:"cleaned_length"`
	WordCount     int           `json:"word_count"`
	Duration      time.Duration `json:"processing_time"`
	Pages         int           `json:"pages_processed"`
}

// Outcome is the arbitration result: the winner, its normalized text and
// every candidate in backend order.
type Outcome struct {
	Winner     Candidate
	Candidates []Candidate
	Text       string
	Stats      Stats
}

// Arbitrator runs competing backends over one document and picks a winner.
type Arbitrator struct {
	Backends []Backend
	// High and Low are exclusive character thresholds; zero means default.
	High int
	Low  int
	// Timeout bounds each backend separately.
	Timeout  time.Duration
	MaxBytes int64
	// Normalize cleans the winning text; normalize.Text when nil.
	Normalize func(string) string
	Logger    *zerolog.Logger
}

func (a *Arbitrator) logger() *zerolog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return &log.Logger
}

// Extract validates the document at path, runs every backend concurrently
// and returns the selected candidate. It fails only when the document is
// rejected or no backend succeeds.
func (a *Arbitrator) Extract(ctx context.Context, path string) (Outcome, error) {
	if _, err := validate.DocumentFile(path, a.MaxBytes); err != nil {
		return Outcome{}, err
	}
	if len(a.Backends) == 0 {
		return Outcome{}, failure.Extraction("no text extraction available", ErrNoBackends)
	}
	cands := a.run(ctx, path)

	high, low := a.High, a.Low
	if high <= 0 {
		high = DefaultHighThreshold
	}
	if low <= 0 {
		low = DefaultLowThreshold
	}
	i, ok := Select(cands, high, low)
	if !ok {
		errs := make([]error, 0, len(cands))
		for _, c := range cands {
			errs = append(errs, fmt.Errorf("%s: %w", c.Backend, c.Err))
		}
		return Outcome{Candidates: cands}, failure.Extraction("no backend could read the document", errors.Join(append([]error{ErrAllFailed}, errs...)...))
	}
	win := cands[i]
	clean := a.Normalize
	if clean == nil {
		clean = normalize.Text
	}
	text := clean(win.Text)
	out := Outcome{
		Winner:     win,
		Candidates: cands,
		Text:       text,
		Stats: Stats{
			RawLength:     win.Length,
			CleanedLength: utf8.RuneCountInString(text),
			WordCount:     len(strings.Fields(text)),
			Duration:      win.Duration,
			Pages:         win.Pages,
		},
	}
	a.logger().Info().Str("backend", win.Backend).Int("raw_length", win.Length).
		Int("cleaned_length", out.Stats.CleanedLength).Int("words", out.Stats.WordCount).Msg("extraction selected")
	return out, nil
}

// run executes all backends and waits for each to finish or time out. A
// failing backend never cancels the others.
func (a *Arbitrator) run(ctx context.Context, path string) []Candidate {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cands := make([]Candidate, len(a.Backends))
	var g errgroup.Group
	for i, b := range a.Backends {
		g.Go(func() error {
			cands[i] = a.runOne(ctx, b, path, timeout)
			return nil
		})
	}
	_ = g.Wait()
	return cands
}

func (a *Arbitrator) runOne(ctx context.Context, b Backend, path string, timeout time.Duration) (c Candidate) {
	c.Backend = b.Name()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.OK, c.Err = false, fmt.Errorf("panic: %v", r)
		}
		c.Duration = time.Since(start)
		ev := a.logger().Debug()
		if !c.OK {
			ev = a.logger().Warn().Err(c.Err)
		}
		ev.Str("backend", c.Backend).Int("length", c.Length).Dur("duration", c.Duration).Msg("backend finished")
	}()

	raw, err := b.Extract(ctx, path)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s: %w", ErrBackendTimeout, timeout, err)
		}
		c.Err = err
		return c
	}
	c.OK = true
	c.Text = raw.Text
	c.Pages = raw.Pages
	// page markers do not count as content
	body := normalize.StripPageMarkers(raw.Text)
	c.Length = utf8.RuneCountInString(strings.TrimSpace(body))
	c.Words = len(strings.Fields(body))
	return c
}

// Select returns the index of the winning candidate. In order of
// preference: the longest output if it exceeds high; the fastest output that
// exceeds low; the first successful candidate. ok is false when no candidate
// succeeded.
func Select(cands []Candidate, high, low int) (idx int, ok bool) {
	longest, fastest, first := -1, -1, -1
	for i, c := range cands {
		if !c.OK {
			continue
		}
		if first < 0 {
			first = i
		}
		if longest < 0 || c.Length > cands[longest].Length {
			longest = i
		}
		if c.Length > low && (fastest < 0 || c.Duration < cands[fastest].Duration) {
			fastest = i
		}
	}
	switch {
	case first < 0:
		return -1, false
	case cands[longest].Length > high:
		return longest, true
	case fastest >= 0:
		return fastest, true
	}
	return first, true
}
