package app

import (
	"errors"
	"strings"
	"time"

	"github.com/hyperifyio/regdoc/internal/acquire"
	"github.com/hyperifyio/regdoc/internal/extract"
	"github.com/hyperifyio/regdoc/internal/stage"
	"github.com/hyperifyio/regdoc/internal/validate"
)

// Config holds the resolved settings for one process. Values are layered as
// defaults < config file < environment < flags.
type Config struct {
	RegistryURL string

	// Browser
	Headless       bool
	BrowserPath    string
	UserAgent      string
	AcceptLanguage string

	// Workflow
	MaxAttempts int
	BackoffUnit time.Duration
	Timeouts    stage.Timeouts

	// Download
	DownloadDir      string
	DownloadSuffix   string
	MaxDocumentBytes int64

	// Extraction
	ExtractTimeout time.Duration
	HighThreshold  int
	LowThreshold   int
	PdftotextPath  string
	PdftoppmPath   string
	TesseractPath  string
	OCRLang        string
	EnableOCR      bool

	// LLM
	LLMBaseURL   string
	LLMModel     string
	LLMAPIKey    string
	LLMCacheOnly bool

	// Cache
	CacheDir         string
	CacheMaxAge      time.Duration
	CacheMaxBytes    int64
	CacheMaxCount    int
	CacheClear       bool
	CacheStrictPerms bool

	// Output
	OutputDir string
	OutputPDF bool

	// Server
	ServerAddr string
	RateLimit  float64
	RateBurst  int

	Verbose bool
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		RegistryURL:      stage.DefaultHomeURL,
		Headless:         true,
		AcceptLanguage:   "de-DE,de,en-US,en",
		MaxAttempts:      acquire.DefaultMaxAttempts,
		BackoffUnit:      acquire.DefaultBackoffUnit,
		Timeouts:         stage.DefaultTimeouts(),
		DownloadDir:      "downloads",
		DownloadSuffix:   ".pdf",
		MaxDocumentBytes: validate.MaxDocumentBytes,
		ExtractTimeout:   extract.DefaultTimeout,
		HighThreshold:    extract.DefaultHighThreshold,
		LowThreshold:     extract.DefaultLowThreshold,
		PdftotextPath:    "pdftotext",
		PdftoppmPath:     "pdftoppm",
		TesseractPath:    "tesseract",
		OCRLang:          "deu",
		CacheDir:         ".regdoc-cache",
		OutputDir:        "summaries",
		ServerAddr:       ":5000",
		RateLimit:        1,
		RateBurst:        3,
	}
}

// ValidateConfig rejects settings the pipeline cannot run with.
func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.RegistryURL) == "" {
		return errors.New("config: registry.url is required")
	}
	if cfg.MaxAttempts < 1 {
		return errors.New("config: workflow.maxAttempts must be at least 1")
	}
	if cfg.BackoffUnit < 0 {
		return errors.New("config: workflow.backoffUnit must not be negative")
	}
	t := cfg.Timeouts
	for _, d := range []time.Duration{t.PageLoad, t.Marker, t.EntryVerify, t.Control, t.Results, t.Download, t.Poll, cfg.ExtractTimeout} {
		if d < 0 {
			return errors.New("config: timeouts must not be negative")
		}
	}
	if strings.TrimSpace(cfg.DownloadDir) == "" {
		return errors.New("config: download.dir is required")
	}
	if cfg.MaxDocumentBytes < 0 {
		return errors.New("config: download.maxBytes must not be negative")
	}
	if cfg.HighThreshold < 0 || cfg.LowThreshold < 0 {
		return errors.New("config: extraction thresholds must not be negative")
	}
	if cfg.LowThreshold > cfg.HighThreshold {
		return errors.New("config: extract.lowThreshold must not exceed extract.highThreshold")
	}
	if cfg.CacheMaxAge < 0 || cfg.CacheMaxBytes < 0 || cfg.CacheMaxCount < 0 {
		return errors.New("config: negative cache limits are not allowed")
	}
	if cfg.RateLimit < 0 || cfg.RateBurst < 0 {
		return errors.New("config: negative rate limits are not allowed")
	}
	return nil
}
