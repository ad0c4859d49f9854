package acquire

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyperifyio/regdoc/internal/browser"
	"github.com/hyperifyio/regdoc/internal/failure"
	"github.com/hyperifyio/regdoc/internal/stage"
	"github.com/hyperifyio/regdoc/internal/validate"
)

const base = "https://registry.test/"

const homePage = `<html><body><ul class="nav-menu"><li><a href="/normalesuche">Normale Suche</a></li></ul></body></html>`

const searchPage = `<html><body>
<form action="/sucheErgebnisse" method="post">
  <textarea name="schlagwoerter"></textarea>
  <button type="submit" name="btnSuche">Suchen</button>
</form></body></html>`

const resultsPage = `<html><body><h2>Suchergebnis</h2><table><tr><td>
<a href="/doc/chronologisch.pdf" title="Chronologischer Abdruck">CD</a>
</td></tr></table></body></html>`

const emptyResultsPage = `<html><body><p>Keine Treffer gefunden.</p></body></html>`

// countingFactory wraps a factory and records session lifetimes.
type countingFactory struct {
	inner  browser.Factory
	opened atomic.Int32
	closed atomic.Int32
}

func (f *countingFactory) NewSession(ctx context.Context, dir string) (browser.Session, error) {
	s, err := f.inner.NewSession(ctx, dir)
	if err != nil {
		return nil, err
	}
	f.opened.Add(1)
	return &countedSession{Session: s, f: f}, nil
}

type countedSession struct {
	browser.Session
	f *countingFactory
}

func (s *countedSession) Close() error {
	s.f.closed.Add(1)
	return s.Session.Close()
}

func registry(results string, pdf []byte) *countingFactory {
	return &countingFactory{inner: browser.StaticFactory{
		Pages: map[string]string{
			base:                     homePage,
			base + "normalesuche":    searchPage,
			base + "sucheErgebnisse": results,
		},
		Files: map[string][]byte{base + "doc/chronologisch.pdf": pdf},
	}}
}

type sleepLog struct{ waits []time.Duration }

func (s *sleepLog) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func newOrchestrator(t *testing.T, f browser.Factory, sl *sleepLog) *Orchestrator {
	t.Helper()
	logger := zerolog.Nop()
	to := stage.Timeouts{
		PageLoad:    time.Second,
		Marker:      100 * time.Millisecond,
		EntryVerify: 100 * time.Millisecond,
		Control:     100 * time.Millisecond,
		Results:     100 * time.Millisecond,
		Download:    500 * time.Millisecond,
		Poll:        10 * time.Millisecond,
	}
	return &Orchestrator{
		Sessions:     f,
		Site:         stage.Registry(base),
		Timeouts:     to,
		DownloadRoot: t.TempDir(),
		Sleep:        sl.sleep,
		Now:          func() time.Time { return time.Unix(1700000000, 0) },
		Logger:       &logger,
	}
}

func target(t *testing.T, name string) validate.SearchTarget {
	t.Helper()
	st, err := validate.OrganizationName(name)
	if err != nil {
		t.Fatal(err)
	}
	return st
}

func TestAcquire_PromotesDocument(t *testing.T) {
	f := registry(resultsPage, []byte("%PDF-1.4 chronological"))
	sl := &sleepLog{}
	o := newOrchestrator(t, f, sl)
	out, err := o.Acquire(context.Background(), target(t, "Musterverein e.V."))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Attempts) != 1 || len(sl.waits) != 0 {
		t.Fatalf("expected a single attempt without backoff, got %d attempts, waits %v", len(out.Attempts), sl.waits)
	}
	if got := filepath.Base(out.Document.Path); got != "Musterverein_e.V_CD_1700000000.pdf" {
		t.Fatalf("unexpected artifact name %q", got)
	}
	if out.Document.Size != int64(len("%PDF-1.4 chronological")) {
		t.Fatalf("unexpected size %d", out.Document.Size)
	}
	if _, err := os.Stat(filepath.Join(o.DownloadRoot, attemptsDir, out.Attempts[0].ID)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("attempt directory should be removed, stat err=%v", err)
	}
	if !regexp.MustCompile(`^[0-9a-f-]{36}$`).MatchString(out.Attempts[0].ID) {
		t.Fatalf("expected uuid attempt id, got %q", out.Attempts[0].ID)
	}
	if f.opened.Load() != 1 || f.closed.Load() != 1 {
		t.Fatalf("sessions opened=%d closed=%d", f.opened.Load(), f.closed.Load())
	}
}

// scripted is a stage that records runs and fails on demand.
type scripted struct {
	name stage.Name
	fail bool
	runs *int
}

func (s scripted) Name() stage.Name { return s.name }

func (s scripted) Run(context.Context, *stage.Env) stage.Result {
	*s.runs++
	if s.fail {
		return stage.Result{Err: failure.Acquisition(s.name.Phase(), "scripted failure", nil)}
	}
	return stage.Result{OK: true}
}

func TestAcquire_RetriesWithLinearBackoff(t *testing.T) {
	f := registry(resultsPage, nil)
	sl := &sleepLog{}
	o := newOrchestrator(t, f, sl)
	o.BackoffUnit = 10 * time.Second
	runs := make([]int, 4)
	o.Stages = func() []stage.Stage {
		return []stage.Stage{
			scripted{name: stage.Navigation, runs: &runs[0]},
			scripted{name: stage.SearchEntry, fail: true, runs: &runs[1]},
			scripted{name: stage.QuerySubmission, runs: &runs[2]},
			scripted{name: stage.DocumentLinkResolution, runs: &runs[3]},
		}
	}
	out, err := o.Acquire(context.Background(), target(t, "Musterverein"))
	if err == nil {
		t.Fatalf("expected failure")
	}
	if failure.PhaseOf(err) != failure.PhaseEntry {
		t.Fatalf("expected entry phase, got %q", failure.PhaseOf(err))
	}
	if len(out.Attempts) != DefaultMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", DefaultMaxAttempts, len(out.Attempts))
	}
	want := []time.Duration{10 * time.Second, 20 * time.Second}
	if len(sl.waits) != len(want) || sl.waits[0] != want[0] || sl.waits[1] != want[1] {
		t.Fatalf("expected backoff %v, got %v", want, sl.waits)
	}
	if runs[0] != 3 || runs[1] != 3 || runs[2] != 0 || runs[3] != 0 {
		t.Fatalf("stages after a failure must not run, runs=%v", runs)
	}
	if f.opened.Load() != 3 || f.closed.Load() != 3 {
		t.Fatalf("sessions opened=%d closed=%d", f.opened.Load(), f.closed.Load())
	}
}

func TestAcquire_NoResultsNeverSeeksLink(t *testing.T) {
	f := registry(emptyResultsPage, []byte("%PDF-1.4"))
	sl := &sleepLog{}
	o := newOrchestrator(t, f, sl)
	out, err := o.Acquire(context.Background(), target(t, "Unbekannt GmbH"))
	if err == nil {
		t.Fatalf("expected failure")
	}
	if failure.PhaseOf(err) != failure.PhaseQuery || !failure.IsNotFound(err) {
		t.Fatalf("expected query not-found, got %v", err)
	}
	for _, att := range out.Attempts {
		if n := len(att.Stages); n != 3 {
			t.Fatalf("attempt %d ran %d stages", att.Index, n)
		}
	}
	if len(sl.waits) != DefaultMaxAttempts-1 {
		t.Fatalf("expected retries, waits=%v", sl.waits)
	}
}

func TestAcquire_RejectsNonPDFDownload(t *testing.T) {
	f := registry(resultsPage, []byte("<html>session expired</html>"))
	o := newOrchestrator(t, f, &sleepLog{})
	o.MaxAttempts = 1
	_, err := o.Acquire(context.Background(), target(t, "Musterverein"))
	if !errors.Is(err, ErrNotPDF) {
		t.Fatalf("expected ErrNotPDF, got %v", err)
	}
	if failure.PhaseOf(err) != failure.PhaseDownload {
		t.Fatalf("expected download phase, got %q", failure.PhaseOf(err))
	}
}

func TestAcquire_CancelStopsBeforeNextAttempt(t *testing.T) {
	f := registry(emptyResultsPage, nil)
	o := newOrchestrator(t, f, &sleepLog{})
	ctx, cancel := context.WithCancel(context.Background())
	o.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}
	out, err := o.Acquire(ctx, target(t, "Musterverein"))
	if err == nil || len(out.Attempts) != 1 {
		t.Fatalf("expected one attempt then stop, got %d (%v)", len(out.Attempts), err)
	}
}

func TestAcquire_SessionStartFailure(t *testing.T) {
	f := browser.FactoryFunc(func(context.Context, string) (browser.Session, error) {
		return nil, errors.New("chrome not found")
	})
	o := newOrchestrator(t, f, &sleepLog{})
	o.MaxAttempts = 2
	out, err := o.Acquire(context.Background(), target(t, "Musterverein"))
	if failure.PhaseOf(err) != failure.PhaseNavigation || len(out.Attempts) != 2 {
		t.Fatalf("expected navigation failure over two attempts, got %v (%d)", err, len(out.Attempts))
	}
}

func TestBackoff(t *testing.T) {
	o := &Orchestrator{}
	if o.Backoff(2) != 2*DefaultBackoffUnit {
		t.Fatalf("unexpected default backoff %v", o.Backoff(2))
	}
}

func TestAcquire_SessionGetsAbsoluteDownloadDir(t *testing.T) {
	t.Chdir(t.TempDir())
	inner := registry(resultsPage, []byte("%PDF-1.4 doc"))
	var dirs []string
	f := browser.FactoryFunc(func(ctx context.Context, dir string) (browser.Session, error) {
		dirs = append(dirs, dir)
		return inner.NewSession(ctx, dir)
	})
	o := newOrchestrator(t, f, &sleepLog{})
	o.DownloadRoot = "downloads"
	out, err := o.Acquire(context.Background(), target(t, "Musterverein"))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if len(dirs) != 1 || !filepath.IsAbs(dirs[0]) {
		t.Fatalf("expected one absolute session download dir, got %v", dirs)
	}
	if _, err := os.Stat(out.Document.Path); err != nil {
		t.Fatalf("promoted document missing: %v", err)
	}
}
