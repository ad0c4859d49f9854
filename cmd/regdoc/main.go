package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/regdoc/internal/app"
)

// cliOptions are the flags that select a mode rather than configure the
// pipeline.
type cliOptions struct {
	configPath string
	envFiles   string
	file       string
	serve      bool
	jsonOut    bool
	version    bool
	name       string
}

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout)
	stop()
	os.Exit(code)
}

// run executes one CLI invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdout io.Writer) int {
	cfg, opts, err := parseConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		log.Error().Err(err).Msg("invalid arguments")
		return 2
	}
	if opts.version {
		fmt.Fprintf(stdout, "regdoc %s (%s, %s)\n", app.BuildVersion, app.BuildCommit, app.BuildDate)
		return 0
	}
	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	if !opts.serve && opts.file == "" && opts.name == "" {
		log.Error().Msg("an organization name, -file or -serve is required")
		return 2
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("init failed")
		return 2
	}

	if opts.serve {
		if err := app.NewServer(a).ListenAndServe(ctx, cfg.ServerAddr); err != nil {
			log.Error().Err(err).Msg("server stopped")
			return 1
		}
		return 0
	}

	var res app.Result
	if opts.file != "" {
		res, err = a.ProcessFile(ctx, opts.file)
	} else {
		res, err = a.Process(ctx, opts.name)
	}
	if opts.jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
	} else if res.Success {
		fmt.Fprintln(stdout, res.Summary)
	}
	if err != nil {
		log.Error().Str("stage", res.Stage).Msg(res.Error)
	}
	return app.ExitCode(err)
}

// parseConfig resolves the configuration in precedence order defaults <
// config file < environment < flags. Flags are parsed twice: once to find
// the config and dotenv files, then again on top of the merged values so
// only flags given explicitly override them.
func parseConfig(args []string) (app.Config, cliOptions, error) {
	var scratch app.Config
	var pre cliOptions
	fs := newFlagSet(&scratch, &pre)
	fs.SetOutput(io.Discard)
	_ = fs.Parse(args)

	if err := app.LoadEnvFiles(splitList(pre.envFiles)...); err != nil {
		return app.Config{}, pre, fmt.Errorf("load env files: %w", err)
	}
	cfg := app.DefaultConfig()
	if pre.configPath != "" {
		fc, err := app.LoadConfigFile(pre.configPath)
		if err != nil {
			return app.Config{}, pre, fmt.Errorf("load config %s: %w", pre.configPath, err)
		}
		app.ApplyFileConfig(&cfg, fc)
	}
	app.ApplyEnvOverrides(&cfg)

	var opts cliOptions
	fs = newFlagSet(&cfg, &opts)
	if err := fs.Parse(args); err != nil {
		return app.Config{}, opts, err
	}
	opts.name = strings.TrimSpace(strings.Join(fs.Args(), " "))
	return cfg, opts, nil
}

func newFlagSet(cfg *app.Config, o *cliOptions) *flag.FlagSet {
	fs := flag.NewFlagSet("regdoc", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: regdoc [flags] <organization name>\n       regdoc [flags] -file document.pdf\n       regdoc [flags] -serve\n\n")
		fs.PrintDefaults()
	}

	fs.StringVar(&o.configPath, "config", os.Getenv("REGDOC_CONFIG"), "Path to a YAML or JSON config file")
	fs.StringVar(&o.envFiles, "env", ".env", "Comma-separated dotenv files to load")
	fs.StringVar(&o.file, "file", "", "Summarize a local PDF instead of fetching from the registry")
	fs.BoolVar(&o.serve, "serve", false, "Run the HTTP API on -server.addr")
	fs.BoolVar(&o.jsonOut, "json", false, "Print the full result as JSON")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")

	fs.StringVar(&cfg.RegistryURL, "registry.url", cfg.RegistryURL, "Registry portal entry page")
	fs.BoolVar(&cfg.Headless, "browser.headless", cfg.Headless, "Run Chrome headless")
	fs.StringVar(&cfg.BrowserPath, "browser.execPath", cfg.BrowserPath, "Chrome executable (auto-detected when empty)")
	fs.StringVar(&cfg.UserAgent, "browser.userAgent", cfg.UserAgent, "Browser User-Agent override")
	fs.StringVar(&cfg.AcceptLanguage, "browser.acceptLanguage", cfg.AcceptLanguage, "Accept-Language header")

	fs.IntVar(&cfg.MaxAttempts, "workflow.maxAttempts", cfg.MaxAttempts, "Acquisition attempts before giving up")
	fs.DurationVar(&cfg.BackoffUnit, "workflow.backoffUnit", cfg.BackoffUnit, "Backoff unit; attempt k waits k units")
	fs.DurationVar(&cfg.Timeouts.PageLoad, "timeouts.pageLoad", cfg.Timeouts.PageLoad, "Page load timeout")
	fs.DurationVar(&cfg.Timeouts.Marker, "timeouts.marker", cfg.Timeouts.Marker, "Entry page marker timeout")
	fs.DurationVar(&cfg.Timeouts.EntryVerify, "timeouts.entryVerify", cfg.Timeouts.EntryVerify, "Search form verification timeout")
	fs.DurationVar(&cfg.Timeouts.Control, "timeouts.control", cfg.Timeouts.Control, "Control lookup and click timeout")
	fs.DurationVar(&cfg.Timeouts.Results, "timeouts.results", cfg.Timeouts.Results, "Search results timeout")
	fs.DurationVar(&cfg.Timeouts.Download, "timeouts.download", cfg.Timeouts.Download, "Download completion timeout")

	fs.StringVar(&cfg.DownloadDir, "download.dir", cfg.DownloadDir, "Directory for acquired documents")
	fs.StringVar(&cfg.DownloadSuffix, "download.suffix", cfg.DownloadSuffix, "Expected document extension")
	fs.Int64Var(&cfg.MaxDocumentBytes, "download.maxBytes", cfg.MaxDocumentBytes, "Largest document accepted for extraction")

	fs.DurationVar(&cfg.ExtractTimeout, "extract.timeout", cfg.ExtractTimeout, "Per-backend extraction timeout")
	fs.IntVar(&cfg.HighThreshold, "extract.highThreshold", cfg.HighThreshold, "Length above which the longest output wins")
	fs.IntVar(&cfg.LowThreshold, "extract.lowThreshold", cfg.LowThreshold, "Length above which the fastest output qualifies")
	fs.StringVar(&cfg.PdftotextPath, "extract.pdftotext", cfg.PdftotextPath, "pdftotext executable")
	fs.StringVar(&cfg.PdftoppmPath, "extract.pdftoppm", cfg.PdftoppmPath, "pdftoppm executable")
	fs.StringVar(&cfg.TesseractPath, "extract.tesseract", cfg.TesseractPath, "tesseract executable")
	fs.StringVar(&cfg.OCRLang, "extract.ocrLang", cfg.OCRLang, "Tesseract language")
	fs.BoolVar(&cfg.EnableOCR, "extract.enableOCR", cfg.EnableOCR, "Add the OCR backend")

	fs.StringVar(&cfg.LLMBaseURL, "llm.base", cfg.LLMBaseURL, "OpenAI-compatible base URL")
	fs.StringVar(&cfg.LLMModel, "llm.model", cfg.LLMModel, "Model name; extractive summaries when empty")
	fs.StringVar(&cfg.LLMAPIKey, "llm.key", cfg.LLMAPIKey, "API key for the model endpoint")
	fs.BoolVar(&cfg.LLMCacheOnly, "llm.cacheOnly", cfg.LLMCacheOnly, "Answer model calls from the cache only")

	fs.StringVar(&cfg.CacheDir, "cache.dir", cfg.CacheDir, "Cache directory path")
	fs.DurationVar(&cfg.CacheMaxAge, "cache.maxAge", cfg.CacheMaxAge, "Purge cache entries older than this at start; 0 disables")
	fs.Int64Var(&cfg.CacheMaxBytes, "cache.maxBytes", cfg.CacheMaxBytes, "Evict least recently used cache entries above this size; 0 disables")
	fs.IntVar(&cfg.CacheMaxCount, "cache.maxCount", cfg.CacheMaxCount, "Evict least recently used cache entries above this count; 0 disables")
	fs.BoolVar(&cfg.CacheClear, "cache.clear", cfg.CacheClear, "Clear cache directory before run")
	fs.BoolVar(&cfg.CacheStrictPerms, "cache.strictPerms", cfg.CacheStrictPerms, "Restrict cache permissions (0700 dirs, 0600 files)")

	fs.StringVar(&cfg.OutputDir, "output.dir", cfg.OutputDir, "Directory for summaries and manifests; empty disables")
	fs.BoolVar(&cfg.OutputPDF, "output.pdf", cfg.OutputPDF, "Also write the summary as PDF")

	fs.StringVar(&cfg.ServerAddr, "server.addr", cfg.ServerAddr, "HTTP listen address for -serve")
	fs.Float64Var(&cfg.RateLimit, "server.rateLimit", cfg.RateLimit, "Pipeline requests per second; 0 disables limiting")
	fs.IntVar(&cfg.RateBurst, "server.rateBurst", cfg.RateBurst, "Pipeline request burst")

	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	return fs
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
