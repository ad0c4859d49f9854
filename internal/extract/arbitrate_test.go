package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyperifyio/regdoc/internal/failure"
	"github.com/hyperifyio/regdoc/internal/validate"
)

type stubBackend struct {
	name  string
	text  string
	err   error
	delay time.Duration
	panic bool
}

func (s stubBackend) Name() string { return s.name }

func (s stubBackend) Extract(ctx context.Context, _ string) (Raw, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Raw{}, ctx.Err()
		}
	}
	if s.panic {
		panic("corrupt xref table")
	}
	if s.err != nil {
		return Raw{}, s.err
	}
	return Raw{Text: s.text, Pages: 1}, nil
}

func text(n int) string { return strings.Repeat("x", n) }

func pdfFile(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(p, []byte("%PDF-1.4 stub"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func arbitrator(backends ...Backend) *Arbitrator {
	nop := zerolog.Nop()
	return &Arbitrator{Backends: backends, Timeout: time.Second, Logger: &nop}
}

func TestArbitrator_LongestAboveHighWins(t *testing.T) {
	a := arbitrator(
		stubBackend{name: "a", text: text(5)},
		stubBackend{name: "b", text: text(40)},
		stubBackend{name: "c", text: text(250), delay: 20 * time.Millisecond},
	)
	out, err := a.Extract(context.Background(), pdfFile(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Winner.Backend != "c" || out.Winner.Length != 250 {
		t.Fatalf("expected the 250 character output, got %s/%d", out.Winner.Backend, out.Winner.Length)
	}
	if len(out.Candidates) != 3 || out.Candidates[0].Backend != "a" {
		t.Fatalf("candidates should keep backend order: %+v", out.Candidates)
	}
	if out.Stats.RawLength != 250 || out.Stats.WordCount != 1 {
		t.Fatalf("unexpected stats %+v", out.Stats)
	}
}

func TestArbitrator_QualifyingBackendBelowHigh(t *testing.T) {
	a := arbitrator(
		stubBackend{name: "short", text: text(5)},
		stubBackend{name: "decent", text: text(40), delay: 10 * time.Millisecond},
	)
	out, err := a.Extract(context.Background(), pdfFile(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Winner.Backend != "decent" {
		t.Fatalf("expected the qualifying backend, got %s", out.Winner.Backend)
	}
}

func TestArbitrator_AllFail(t *testing.T) {
	a := arbitrator(
		stubBackend{name: "a", err: errors.New("exit status 1")},
		stubBackend{name: "b", panic: true},
	)
	_, err := a.Extract(context.Background(), pdfFile(t))
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("expected ErrAllFailed, got %v", err)
	}
	if failure.KindOf(err) != failure.KindExtraction || failure.PhaseOf(err) != failure.PhaseExtraction {
		t.Fatalf("expected extraction failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "panic") {
		t.Fatalf("backend errors should be reported, got %v", err)
	}
}

func TestArbitrator_TimeoutIsolated(t *testing.T) {
	a := arbitrator(
		stubBackend{name: "hang", text: text(500), delay: time.Second},
		stubBackend{name: "quick", text: text(120)},
	)
	a.Timeout = 30 * time.Millisecond
	out, err := a.Extract(context.Background(), pdfFile(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Winner.Backend != "quick" {
		t.Fatalf("expected quick backend, got %s", out.Winner.Backend)
	}
	if !errors.Is(out.Candidates[0].Err, ErrBackendTimeout) {
		t.Fatalf("expected timeout on hanging backend, got %v", out.Candidates[0].Err)
	}
}

func TestArbitrator_NormalizesWinner(t *testing.T) {
	a := arbitrator(stubBackend{name: "a", text: "\n\n--- PAGE 1 ---\n\nVereins-\nregister   Muster\r\n" + text(120)})
	out, err := a.Extract(context.Background(), pdfFile(t))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out.Text, "Vereinsregister Muster xxx") {
		t.Fatalf("expected normalized text, got %q", out.Text)
	}
}

func TestArbitrator_RejectsDocument(t *testing.T) {
	dir := t.TempDir()
	txt := filepath.Join(dir, "doc.txt")
	if err := os.WriteFile(txt, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	a := arbitrator(stubBackend{name: "a", text: text(200)})
	if _, err := a.Extract(context.Background(), txt); !errors.Is(err, validate.ErrNotPDF) {
		t.Fatalf("expected ErrNotPDF, got %v", err)
	}
	a.MaxBytes = 4
	if _, err := a.Extract(context.Background(), pdfFile(t)); !errors.Is(err, validate.ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestSelect(t *testing.T) {
	ms := time.Millisecond
	cases := []struct {
		name  string
		cands []Candidate
		want  int
		ok    bool
	}{
		{"longest above high", []Candidate{
			{OK: true, Length: 5, Duration: ms},
			{OK: true, Length: 40, Duration: 2 * ms},
			{OK: true, Length: 250, Duration: 9 * ms},
		}, 2, true},
		{"fastest qualifying", []Candidate{
			{OK: true, Length: 90, Duration: 8 * ms},
			{OK: true, Length: 30, Duration: 3 * ms},
			{OK: true, Length: 10, Duration: ms},
		}, 1, true},
		{"first success", []Candidate{
			{OK: false, Length: 0},
			{OK: true, Length: 10, Duration: 5 * ms},
			{OK: true, Length: 20, Duration: ms},
		}, 1, true},
		{"thresholds are exclusive", []Candidate{
			{OK: true, Length: 25, Duration: ms},
			{OK: true, Length: 100, Duration: 2 * ms},
		}, 1, true},
		{"failed ignored", []Candidate{
			{OK: false, Length: 900},
			{OK: true, Length: 150},
		}, 1, true},
		{"all successes empty", []Candidate{
			{OK: false, Length: 0},
			{OK: true, Length: 0, Duration: 4 * ms},
			{OK: true, Length: 0, Duration: ms},
		}, 1, true},
		{"none", []Candidate{{OK: false}, {OK: false}}, -1, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Select(tc.cands, DefaultHighThreshold, DefaultLowThreshold)
			if got != tc.want || ok != tc.ok {
				t.Fatalf("Select = %d,%v want %d,%v", got, ok, tc.want, tc.ok)
			}
		})
	}
}
