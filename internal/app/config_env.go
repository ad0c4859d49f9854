package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides overrides cfg fields with environment variables that are
// set. It runs after the config file so env wins over the file while flags
// stay highest precedence. Unparseable values are ignored.
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	envString(&cfg.RegistryURL, "REGISTRY_URL")
	envBool(&cfg.Headless, "HEADLESS")
	envString(&cfg.BrowserPath, "CHROME_PATH")
	envString(&cfg.UserAgent, "BROWSER_USER_AGENT")
	envString(&cfg.AcceptLanguage, "BROWSER_ACCEPT_LANGUAGE")

	envInt(&cfg.MaxAttempts, "MAX_ATTEMPTS")
	envDuration(&cfg.BackoffUnit, "BACKOFF_UNIT")
	envDuration(&cfg.Timeouts.PageLoad, "TIMEOUT_PAGE_LOAD")
	envDuration(&cfg.Timeouts.Results, "TIMEOUT_RESULTS")
	envDuration(&cfg.Timeouts.Download, "TIMEOUT_DOWNLOAD")

	envString(&cfg.DownloadDir, "DOWNLOAD_DIR")
	if v := strings.TrimSpace(os.Getenv("DOWNLOAD_MAX_BYTES")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxDocumentBytes = n
		}
	}

	envDuration(&cfg.ExtractTimeout, "EXTRACT_TIMEOUT")
	envString(&cfg.PdftotextPath, "PDFTOTEXT_PATH")
	envString(&cfg.PdftoppmPath, "PDFTOPPM_PATH")
	envString(&cfg.TesseractPath, "TESSERACT_PATH")
	envString(&cfg.OCRLang, "OCR_LANG")
	envBool(&cfg.EnableOCR, "ENABLE_OCR")

	envString(&cfg.LLMBaseURL, "LLM_BASE_URL")
	envString(&cfg.LLMModel, "LLM_MODEL")
	envString(&cfg.LLMAPIKey, "LLM_API_KEY")
	envBool(&cfg.LLMCacheOnly, "LLM_CACHE_ONLY")

	envString(&cfg.CacheDir, "CACHE_DIR")
	envDuration(&cfg.CacheMaxAge, "CACHE_MAX_AGE")
	envBool(&cfg.CacheClear, "CACHE_CLEAR")
	envBool(&cfg.CacheStrictPerms, "CACHE_STRICT_PERMS")

	envString(&cfg.OutputDir, "OUTPUT_DIR")
	envBool(&cfg.OutputPDF, "OUTPUT_PDF")
	envString(&cfg.ServerAddr, "SERVER_ADDR")
	envBool(&cfg.Verbose, "VERBOSE")
}

func envString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil && n > 0 {
		*dst = n
	}
}

func envDuration(dst *time.Duration, key string) {
	if d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(key))); err == nil && d > 0 {
		*dst = d
	}
}

func envBool(dst *bool, key string) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	}
}
