package acquire

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/regdoc/internal/browser"
	"github.com/hyperifyio/regdoc/internal/download"
	"github.com/hyperifyio/regdoc/internal/failure"
	"github.com/hyperifyio/regdoc/internal/stage"
	"github.com/hyperifyio/regdoc/internal/validate"
)

const (
	DefaultMaxAttempts = 3
	DefaultBackoffUnit = 10 * time.Second
	// DocumentCode labels persisted artifacts with the document type fetched.
	DocumentCode = "CD"
	attemptsDir  = ".attempts"
)

// ErrNotPDF is reported when the downloaded file lacks a PDF header.
var ErrNotPDF = errors.New("downloaded file is not a PDF")

// Document is the acquired artifact at its stable location.
type Document struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Attempt records one pass through the workflow.
type Attempt struct {
	ID       string
	Index    int
	Stages   []stage.Result
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Outcome is the result of Acquire: the document on success plus every
// attempt made.
type Outcome struct {
	Document Document
	Attempts []Attempt
}

// Orchestrator runs the staged acquisition workflow with coarse retry: any
// stage failure abandons the attempt, and the next attempt starts from the
// first stage with a fresh session.
type Orchestrator struct {
	Sessions     browser.Factory
	Site         stage.Site
	Timeouts     stage.Timeouts
	MaxAttempts  int
	BackoffUnit  time.Duration
	DownloadRoot string
	// Suffix is the expected artifact extension, ".pdf" when empty.
	Suffix string
	// Stages builds fresh stage instances per attempt; stage.Workflow when nil.
	Stages func() []stage.Stage
	// Sleep waits between attempts; a context-aware timer when nil.
	Sleep  func(ctx context.Context, d time.Duration) error
	Now    func() time.Time
	Logger *zerolog.Logger
}

func (o *Orchestrator) logger() zerolog.Logger {
	if o.Logger != nil {
		return *o.Logger
	}
	return log.Logger
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) suffix() string {
	if o.Suffix == "" {
		return ".pdf"
	}
	return o.Suffix
}

// Backoff returns the delay before attempt k+1, proportional to k.
func (o *Orchestrator) Backoff(k int) time.Duration {
	unit := o.BackoffUnit
	if unit <= 0 {
		unit = DefaultBackoffUnit
	}
	return time.Duration(k) * unit
}

// Acquire fetches the registry document for target. It returns the tagged
// failure of the last attempt when every attempt fails. Cancelling ctx stops
// the loop before the next attempt starts.
func (o *Orchestrator) Acquire(ctx context.Context, target validate.SearchTarget) (Outcome, error) {
	var out Outcome
	if target.IsZero() {
		return out, failure.Validation("organization name is required", validate.ErrEmptyName)
	}
	if o.Sessions == nil {
		return out, failure.Internal(errors.New("no browser session factory configured"))
	}
	max := o.MaxAttempts
	if max <= 0 {
		max = DefaultMaxAttempts
	}
	logger := o.logger()

	var lastErr error
	for i := 1; i <= max; i++ {
		att, artifact := o.attempt(ctx, i, target)
		if att.Err == nil {
			doc, err := o.promote(artifact, target)
			_ = os.RemoveAll(filepath.Dir(artifact.Path))
			if err == nil {
				out.Attempts = append(out.Attempts, att)
				out.Document = doc
				logger.Info().Int("attempt", i).Str("path", doc.Path).Int64("bytes", doc.Size).Msg("document acquired")
				return out, nil
			}
			att.Err = err
		}
		out.Attempts = append(out.Attempts, att)
		lastErr = att.Err
		logger.Warn().Err(att.Err).Int("attempt", i).Int("max_attempts", max).
			Str("phase", string(failure.PhaseOf(att.Err))).Msg("acquisition attempt failed")
		if i == max {
			break
		}
		if err := o.sleep(ctx, o.Backoff(i)); err != nil {
			logger.Info().Err(err).Msg("acquisition cancelled before next attempt")
			break
		}
	}
	return out, fmt.Errorf("acquire %q after %d attempt(s): %w", target, len(out.Attempts), lastErr)
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if o.Sleep != nil {
		return o.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// attempt runs one pass with its own session and download directory. The
// session is released on every exit path.
func (o *Orchestrator) attempt(ctx context.Context, index int, target validate.SearchTarget) (att Attempt, artifact download.File) {
	att = Attempt{ID: uuid.NewString(), Index: index, Started: o.now()}
	logger := o.logger().With().Int("attempt", index).Str("attempt_id", att.ID).Logger()
	dir := filepath.Join(o.DownloadRoot, attemptsDir, att.ID)
	// Chrome resolves download paths on its own side.
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	current := stage.Navigation
	defer func() {
		if r := recover(); r != nil {
			att.Err = failure.Acquisition(current.Phase(), "driver fault", fmt.Errorf("panic: %v", r))
		}
		if att.Err != nil {
			_ = os.RemoveAll(dir)
		}
		att.Duration = o.now().Sub(att.Started)
	}()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		att.Err = failure.Acquisition(failure.PhaseDownload, "could not prepare download directory", err)
		return att, artifact
	}
	sess, err := o.Sessions.NewSession(ctx, dir)
	if err != nil {
		att.Err = failure.Acquisition(failure.PhaseNavigation, "browser session could not be started", err)
		return att, artifact
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logger.Debug().Err(cerr).Msg("session close failed")
		}
	}()

	env := &stage.Env{
		Page:     sess,
		Target:   target,
		Site:     o.Site,
		Timeouts: o.Timeouts,
		Detector: &download.Detector{
			Dir:      sess.DownloadDir(),
			Suffix:   o.suffix(),
			Timeout:  o.Timeouts.Download,
			Interval: o.Timeouts.Poll,
			Logger:   &logger,
		},
		Logger: logger,
	}
	build := o.Stages
	if build == nil {
		build = stage.Workflow
	}
	for _, s := range build() {
		current = s.Name()
		res := stage.NewExecutor(s).Run(ctx, env)
		att.Stages = append(att.Stages, res)
		if !res.OK {
			att.Err = res.Err
			return att, artifact
		}
		if res.Artifact != nil {
			artifact = *res.Artifact
		}
	}
	if artifact.Path == "" {
		att.Err = failure.Acquisition(failure.PhaseDownload, "workflow finished without a document", nil)
		return att, artifact
	}
	if o.suffix() == ".pdf" {
		if err := checkPDF(artifact.Path); err != nil {
			att.Err = failure.Acquisition(failure.PhaseDownload, "downloaded file is not a PDF", err)
		}
	}
	return att, artifact
}

// promote moves the artifact out of its attempt directory to a stable,
// name-addressable path under DownloadRoot.
func (o *Orchestrator) promote(f download.File, target validate.SearchTarget) (Document, error) {
	at := o.now()
	stem := fmt.Sprintf("%s_%s_%d", validate.SafeName(target.String(), 25), DocumentCode, at.Unix())
	dest := filepath.Join(o.DownloadRoot, stem+o.suffix())
	for n := 2; ; n++ {
		if _, err := os.Stat(dest); errors.Is(err, os.ErrNotExist) {
			break
		}
		dest = filepath.Join(o.DownloadRoot, fmt.Sprintf("%s_%d%s", stem, n, o.suffix()))
	}
	if err := os.Rename(f.Path, dest); err != nil {
		return Document{}, failure.Acquisition(failure.PhaseDownload, "could not store document", err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return Document{}, failure.Acquisition(failure.PhaseDownload, "could not store document", err)
	}
	return Document{Path: dest, Size: info.Size(), AcquiredAt: at}, nil
}

func checkPDF(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	head := make([]byte, 5)
	if _, err := io.ReadFull(f, head); err != nil {
		return fmt.Errorf("%w: %v", ErrNotPDF, err)
	}
	if !bytes.Equal(head, []byte("%PDF-")) {
		return ErrNotPDF
	}
	return nil
}
