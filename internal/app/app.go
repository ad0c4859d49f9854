package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/regdoc/internal/acquire"
	"github.com/hyperifyio/regdoc/internal/browser"
	"github.com/hyperifyio/regdoc/internal/cache"
	"github.com/hyperifyio/regdoc/internal/extract"
	"github.com/hyperifyio/regdoc/internal/failure"
	"github.com/hyperifyio/regdoc/internal/llm"
	"github.com/hyperifyio/regdoc/internal/metrics"
	"github.com/hyperifyio/regdoc/internal/stage"
	"github.com/hyperifyio/regdoc/internal/summarize"
	"github.com/hyperifyio/regdoc/internal/validate"
)

// StageComplete is the Result stage of a successful run.
const StageComplete = "complete"

// Acquirer fetches the registry document for a validated name.
type Acquirer interface {
	Acquire(ctx context.Context, target validate.SearchTarget) (acquire.Outcome, error)
}

// Extractor turns a document on disk into normalized text.
type Extractor interface {
	Extract(ctx context.Context, path string) (extract.Outcome, error)
}

// Summarizer condenses normalized text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (summarize.Summary, error)
}

// ProcessingStats describes how a result was produced.
type ProcessingStats struct {
	TotalSeconds     float64 `json:"total_time"`
	QualityScore     int     `json:"quality_score"`
	WordCount        int     `json:"word_count"`
	ExtractionMethod string  `json:"extraction_method"`
	SummaryMethod    string  `json:"summary_method"`
	PagesProcessed   int     `json:"pages_processed"`
	TextLength       int     `json:"text_length"`
	Attempts         int     `json:"attempts,omitempty"`
}

// Result is the outcome of one pipeline run. It is always populated, also
// when the run fails; Stage then names the failing phase.
type Result struct {
	Success      bool             `json:"success"`
	Stage        string           `json:"stage"`
	Error        string           `json:"error,omitempty"`
	Organization string           `json:"company_name,omitempty"`
	Filename     string           `json:"filename,omitempty"`
	FileSize     string           `json:"file_size,omitempty"`
	FilePath     string           `json:"file_path,omitempty"`
	Summary      string           `json:"summary,omitempty"`
	SummaryPath  string           `json:"summary_path,omitempty"`
	Stats        *ProcessingStats `json:"processing_stats,omitempty"`
	Facts        *summarize.Facts `json:"extracted_info,omitempty"`
}

// App wires acquisition, extraction and summarization together. It is safe
// for concurrent use.
type App struct {
	cfg        Config
	acquirer   Acquirer
	extractor  Extractor
	summarizer Summarizer
	metrics    *metrics.Collector
	now        func() time.Time
	logger     zerolog.Logger
}

// Option customizes the collaborators New builds from Config.
type Option func(*options)

type options struct {
	sessions browser.Factory
	backends []extract.Backend
	client   llm.Client
	logger   *zerolog.Logger
	now      func() time.Time
}

// WithSessions replaces the Chrome session factory.
func WithSessions(f browser.Factory) Option { return func(o *options) { o.sessions = f } }

// WithBackends replaces the default extraction backends.
func WithBackends(b ...extract.Backend) Option { return func(o *options) { o.backends = b } }

// WithLLMClient replaces the OpenAI-compatible client built from Config.
func WithLLMClient(c llm.Client) Option { return func(o *options) { o.client = c } }

func WithLogger(l zerolog.Logger) Option { return func(o *options) { o.logger = &l } }

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// New validates cfg, applies cache hygiene and builds the pipeline.
func New(ctx context.Context, cfg Config, opts ...Option) (*App, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := log.Logger
	if o.logger != nil {
		logger = *o.logger
	}
	now := time.Now
	if o.now != nil {
		now = o.now
	}

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	var llmCache *cache.LLMCache
	if cfg.CacheDir != "" {
		if cfg.CacheClear {
			if err := cache.ClearDir(cfg.CacheDir); err != nil {
				logger.Warn().Err(err).Msg("cache clear failed")
			}
		}
		if cfg.CacheMaxAge > 0 {
			if n, err := cache.PurgeLLMCacheByAge(cfg.CacheDir, cfg.CacheMaxAge); err != nil {
				logger.Warn().Err(err).Msg("cache purge failed")
			} else if n > 0 {
				logger.Info().Int("removed", n).Msg("purged stale LLM cache entries")
			}
		}
		if cfg.CacheMaxBytes > 0 || cfg.CacheMaxCount > 0 {
			if _, err := cache.EnforceLLMCacheLimits(cfg.CacheDir, cfg.CacheMaxBytes, cfg.CacheMaxCount); err != nil {
				logger.Warn().Err(err).Msg("cache limit enforcement failed")
			}
		}
		llmCache = &cache.LLMCache{Dir: cfg.CacheDir, StrictPerms: cfg.CacheStrictPerms}
	}

	sessions := o.sessions
	if sessions == nil {
		sessions = browser.ChromeFactory{Options: browser.ChromeOptions{
			Headless:       cfg.Headless,
			ExecPath:       cfg.BrowserPath,
			UserAgent:      cfg.UserAgent,
			AcceptLanguage: cfg.AcceptLanguage,
			Logger:         &logger,
		}}
	}
	backends := o.backends
	if backends == nil {
		backends = extract.DefaultBackends(extract.Options{
			Pdftotext: cfg.PdftotextPath,
			Pdftoppm:  cfg.PdftoppmPath,
			Tesseract: cfg.TesseractPath,
			OCRLang:   cfg.OCRLang,
			EnableOCR: cfg.EnableOCR,
			Logger:    &logger,
		})
	}
	client := o.client
	if client == nil && strings.TrimSpace(cfg.LLMModel) != "" {
		p := llm.New(cfg.LLMBaseURL, cfg.LLMAPIKey, newLLMHTTPClient())
		preflight(ctx, p, logger)
		client = p
	}

	a := &App{
		cfg: cfg,
		acquirer: &acquire.Orchestrator{
			Sessions:     sessions,
			Site:         stage.Registry(cfg.RegistryURL),
			Timeouts:     cfg.Timeouts,
			MaxAttempts:  cfg.MaxAttempts,
			BackoffUnit:  cfg.BackoffUnit,
			DownloadRoot: cfg.DownloadDir,
			Suffix:       cfg.DownloadSuffix,
			Now:          now,
			Logger:       &logger,
		},
		extractor: &extract.Arbitrator{
			Backends: backends,
			High:     cfg.HighThreshold,
			Low:      cfg.LowThreshold,
			Timeout:  cfg.ExtractTimeout,
			MaxBytes: cfg.MaxDocumentBytes,
			Logger:   &logger,
		},
		summarizer: &summarize.Summarizer{
			Client:    client,
			Model:     cfg.LLMModel,
			Cache:     llmCache,
			CacheOnly: cfg.LLMCacheOnly,
			Logger:    &logger,
		},
		metrics: metrics.New("regdoc"),
		now:     now,
		logger:  logger,
	}
	return a, nil
}

// preflight lists models as a best-effort connectivity check. Failures only
// warn; summarization falls back to the extractive method when the model is
// unreachable.
func preflight(ctx context.Context, l llm.ModelLister, logger zerolog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	models, err := l.ListModels(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("LLM model list failed; continuing")
		return
	}
	if len(models.Models) > 0 {
		logger.Info().Int("count", len(models.Models)).Msg("LLM models available")
	} else {
		logger.Warn().Msg("LLM returned zero models")
	}
}

func (a *App) Config() Config { return a.cfg }

// Process runs validation, acquisition, extraction, normalization and
// summarization for an organization name.
func (a *App) Process(ctx context.Context, name string) (res Result, err error) {
	start := a.now()
	defer func() { a.observe("lookup", res, start) }()
	defer a.recoverInto(&res, &err)
	res.Organization = strings.TrimSpace(name)

	target, err := validate.OrganizationName(name)
	if err != nil {
		return a.fail(res, err), err
	}
	res.Organization = target.String()
	logger := a.logger.With().Str("organization", target.String()).Logger()
	logger.Info().Msg("processing started")

	acq, err := a.acquirer.Acquire(ctx, target)
	if err != nil {
		res = a.fail(res, err)
		res.Stats = &ProcessingStats{Attempts: len(acq.Attempts), TotalSeconds: a.since(start)}
		return res, err
	}
	return a.processDocument(ctx, res, acq.Document.Path, len(acq.Attempts), start)
}

// ProcessFile runs extraction and summarization for a PDF already on disk,
// skipping acquisition.
func (a *App) ProcessFile(ctx context.Context, path string) (res Result, err error) {
	start := a.now()
	defer func() { a.observe("file", res, start) }()
	defer a.recoverInto(&res, &err)
	if _, err := validate.DocumentFile(path, a.cfg.MaxDocumentBytes); err != nil {
		res.Filename = filepath.Base(path)
		return a.fail(res, err), err
	}
	return a.processDocument(ctx, res, path, 0, start)
}

func (a *App) processDocument(ctx context.Context, res Result, path string, attempts int, start time.Time) (Result, error) {
	res.Filename = filepath.Base(path)
	res.FilePath = path
	if info, err := os.Stat(path); err == nil {
		res.FileSize = validate.HumanSize(info.Size())
	}

	ext, err := a.extractor.Extract(ctx, path)
	if err != nil {
		return a.fail(res, err), err
	}
	sum, err := a.summarizer.Summarize(ctx, ext.Text)
	if err != nil {
		return a.fail(res, err), err
	}
	if res.Organization == "" {
		res.Organization = sum.Facts.Organization
	}

	res.Success = true
	res.Stage = StageComplete
	res.Summary = sum.Formatted
	facts := sum.Facts
	res.Facts = &facts
	res.Stats = &ProcessingStats{
		QualityScore:     sum.Quality,
		WordCount:        sum.WordCount,
		ExtractionMethod: ext.Winner.Backend,
		SummaryMethod:    sum.Method,
		PagesProcessed:   ext.Stats.Pages,
		TextLength:       ext.Stats.CleanedLength,
		Attempts:         attempts,
	}

	if a.cfg.OutputDir != "" {
		p, err := a.writeOutputs(res, ext, sum, start)
		if err != nil {
			err = failure.Internal(fmt.Errorf("write summary: %w", err))
			return a.fail(res, err), err
		}
		res.SummaryPath = p
	}
	res.Stats.TotalSeconds = a.since(start)
	a.logger.Info().Str("organization", res.Organization).Str("backend", ext.Winner.Backend).
		Int("quality", sum.Quality).Float64("seconds", res.Stats.TotalSeconds).Msg("processing complete")
	return res, nil
}

// writeOutputs persists the summary text, its manifest sidecar and, when
// enabled, a summary PDF. It returns the summary text path.
func (a *App) writeOutputs(res Result, ext extract.Outcome, sum summarize.Summary, start time.Time) (string, error) {
	if err := os.MkdirAll(a.cfg.OutputDir, 0o755); err != nil {
		return "", err
	}
	name := res.Organization
	if name == "" {
		name = strings.TrimSuffix(res.Filename, filepath.Ext(res.Filename))
	}
	base := fmt.Sprintf("%s_%d", validate.SafeName(name, 25), a.now().Unix())
	txtPath := filepath.Join(a.cfg.OutputDir, base+".txt")
	if err := os.WriteFile(txtPath, []byte(sum.Formatted+"\n"), 0o644); err != nil {
		return "", err
	}

	sha, n, err := fileSHA256Hex(res.FilePath)
	if err != nil {
		return "", err
	}
	meta := manifestMeta{
		Organization:  res.Organization,
		Method:        sum.Method,
		Winner:        ext.Winner.Backend,
		SummarySHA256: computeSHA256Hex(sum.Formatted),
		TotalMS:       milliseconds(a.now().Sub(start)),
		GeneratedAt:   a.now().UTC(),
	}
	if sum.Method == summarize.MethodModel {
		meta.Model = a.cfg.LLMModel
		meta.LLMBaseURL = a.cfg.LLMBaseURL
	}
	if res.Stats != nil {
		meta.Attempts = res.Stats.Attempts
	}
	data, err := marshalManifestJSON(meta, manifestDocument{Path: res.FilePath, SHA256: sha, Bytes: n}, manifestBackends(ext.Candidates))
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(deriveManifestSidecarPath(txtPath), data, 0o644); err != nil {
		return "", err
	}

	if a.cfg.OutputPDF {
		if err := writeSummaryPDF(res.Organization, sum.Formatted, filepath.Join(a.cfg.OutputDir, base+".pdf")); err != nil {
			// the text summary is already on disk
			a.logger.Warn().Err(err).Msg("summary PDF not written")
		}
	}
	return txtPath, nil
}

func (a *App) fail(res Result, err error) Result {
	res.Success = false
	res.Stage = string(failure.PhaseOf(err))
	res.Error = failure.Public(err)
	ev := a.logger.Warn()
	if failure.KindOf(err) == failure.KindInternal {
		ev = a.logger.Error()
	}
	ev.Err(err).Str("stage", res.Stage).Str("organization", res.Organization).Msg("processing failed")
	return res
}

func (a *App) recoverInto(res *Result, err *error) {
	if r := recover(); r != nil {
		e := failure.Internal(fmt.Errorf("panic: %v", r))
		*res = a.fail(*res, e)
		*err = e
	}
}

func (a *App) observe(mode string, res Result, start time.Time) {
	a.metrics.ObserveRun(mode, res.Stage, res.Success, a.now().Sub(start))
	if res.Stats != nil {
		a.metrics.ObserveAttempts(res.Stats.Attempts)
		if res.Success {
			a.metrics.ObserveWinner(res.Stats.ExtractionMethod)
		}
	}
}

func (a *App) since(t time.Time) float64 {
	return a.now().Sub(t).Seconds()
}

// ExitCode maps a pipeline error to the CLI exit status: 0 on success, 2
// for input or not-found outcomes, 1 for everything else.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case failure.KindOf(err) == failure.KindValidation, failure.IsNotFound(err),
		errors.Is(err, summarize.ErrTooShort):
		return 2
	}
	return 1
}
