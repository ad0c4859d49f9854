package locate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/regdoc/internal/browser"
)

// ErrNotFound is returned when no strategy of a set yields an element.
var ErrNotFound = errors.New("no locator strategy matched")

// Strategy is one way of finding an element. Accept, when set, narrows the
// raw matches; returning nothing makes the strategy miss.
type Strategy struct {
	Name   string
	Query  browser.Query
	Accept func([]browser.Element) []browser.Element
}

// Set is an ordered list of strategies probed until one matches.
type Set struct {
	Name       string
	Strategies []Strategy
	Logger     *zerolog.Logger
}

// Hit is the outcome of a successful resolution.
type Hit struct {
	Strategy string
	Elements []browser.Element
}

// First returns the first matched element. Callers take the first candidate
// and do no further disambiguation.
func (h Hit) First() browser.Element { return h.Elements[0] }

// WithLogger returns a copy of s that logs to l.
func (s Set) WithLogger(l *zerolog.Logger) Set {
	s.Logger = l
	return s
}

func (s Set) logger() *zerolog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return &log.Logger
}

// Resolve probes every strategy once, in order, and returns the first that
// matches. A failing query does not stop later strategies.
func (s Set) Resolve(ctx context.Context, p browser.Page) (Hit, error) {
	var lastErr error
	for _, st := range s.Strategies {
		if err := ctx.Err(); err != nil {
			return Hit{}, err
		}
		els, err := p.Query(ctx, st.Query)
		if err != nil {
			lastErr = err
			s.logger().Debug().Err(err).Str("set", s.Name).Str("strategy", st.Name).Msg("locator query failed")
			continue
		}
		if st.Accept != nil {
			els = st.Accept(els)
		}
		if len(els) == 0 {
			continue
		}
		s.logger().Debug().Str("set", s.Name).Str("strategy", st.Name).Int("matches", len(els)).Msg("locator matched")
		return Hit{Strategy: st.Name, Elements: els}, nil
	}
	if lastErr != nil {
		return Hit{}, fmt.Errorf("%s: %w (last query error: %v)", s.Name, ErrNotFound, lastErr)
	}
	return Hit{}, fmt.Errorf("%s: %w", s.Name, ErrNotFound)
}

// Await repeats Resolve every interval until it matches or timeout elapses.
func (s Set) Await(ctx context.Context, p browser.Page, timeout, interval time.Duration) (Hit, error) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var lastErr error
	for {
		hit, err := s.Resolve(ctx, p)
		if err == nil {
			return hit, nil
		}
		if ctx.Err() == nil {
			lastErr = err
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			if lastErr == nil {
				lastErr = fmt.Errorf("%s: %w", s.Name, ErrNotFound)
			}
			return Hit{}, fmt.Errorf("after %s: %w", timeout, lastErr)
		case <-t.C:
		}
	}
}

// PreferContainer builds an Accept filter that keeps matches nested in an
// ancestor whose tag or class mentions one of markers. A single unqualified
// match is still accepted; several unqualified matches are ambiguous.
func PreferContainer(markers ...string) func([]browser.Element) []browser.Element {
	return func(els []browser.Element) []browser.Element {
		var in []browser.Element
		for _, el := range els {
			anc := strings.ToLower(el.Ancestry)
			for _, m := range markers {
				if strings.Contains(anc, m) {
					in = append(in, el)
					break
				}
			}
		}
		if len(in) > 0 {
			return in
		}
		if len(els) == 1 {
			return els
		}
		return nil
	}
}
