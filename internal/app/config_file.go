package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Duration accepts "90s" style strings in both YAML and JSON. Bare JSON
// numbers are read as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*d = Duration(n * float64(time.Second))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	return d.parse(s)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// FileConfig is the config file schema. Sections mirror the flag prefixes.
// Pointer fields distinguish "unset" from an explicit false or zero.
type FileConfig struct {
	Registry struct {
		URL string `yaml:"url" json:"url"`
	} `yaml:"registry" json:"registry"`

	Browser struct {
		Headless       *bool  `yaml:"headless" json:"headless"`
		ExecPath       string `yaml:"execPath" json:"execPath"`
		UserAgent      string `yaml:"userAgent" json:"userAgent"`
		AcceptLanguage string `yaml:"acceptLanguage" json:"acceptLanguage"`
	} `yaml:"browser" json:"browser"`

	Workflow struct {
		MaxAttempts int      `yaml:"maxAttempts" json:"maxAttempts"`
		BackoffUnit Duration `yaml:"backoffUnit" json:"backoffUnit"`
	} `yaml:"workflow" json:"workflow"`

	Timeouts struct {
		PageLoad    Duration `yaml:"pageLoad" json:"pageLoad"`
		Marker      Duration `yaml:"marker" json:"marker"`
		EntryVerify Duration `yaml:"entryVerify" json:"entryVerify"`
		Control     Duration `yaml:"control" json:"control"`
		Results     Duration `yaml:"results" json:"results"`
		Download    Duration `yaml:"download" json:"download"`
		Poll        Duration `yaml:"poll" json:"poll"`
	} `yaml:"timeouts" json:"timeouts"`

	Download struct {
		Dir      string `yaml:"dir" json:"dir"`
		Suffix   string `yaml:"suffix" json:"suffix"`
		MaxBytes int64  `yaml:"maxBytes" json:"maxBytes"`
	} `yaml:"download" json:"download"`

	Extract struct {
		Timeout       Duration `yaml:"timeout" json:"timeout"`
		HighThreshold int      `yaml:"highThreshold" json:"highThreshold"`
		LowThreshold  int      `yaml:"lowThreshold" json:"lowThreshold"`
		Pdftotext     string   `yaml:"pdftotext" json:"pdftotext"`
		Pdftoppm      string   `yaml:"pdftoppm" json:"pdftoppm"`
		Tesseract     string   `yaml:"tesseract" json:"tesseract"`
		OCRLang       string   `yaml:"ocrLang" json:"ocrLang"`
		EnableOCR     *bool    `yaml:"enableOCR" json:"enableOCR"`
	} `yaml:"extract" json:"extract"`

	LLM struct {
		BaseURL   string `yaml:"base" json:"base"`
		Model     string `yaml:"model" json:"model"`
		APIKey    string `yaml:"key" json:"key"`
		CacheOnly bool   `yaml:"cacheOnly" json:"cacheOnly"`
	} `yaml:"llm" json:"llm"`

	Cache struct {
		Dir         string   `yaml:"dir" json:"dir"`
		MaxAge      Duration `yaml:"maxAge" json:"maxAge"`
		MaxBytes    int64    `yaml:"maxBytes" json:"maxBytes"`
		MaxCount    int      `yaml:"maxCount" json:"maxCount"`
		Clear       bool     `yaml:"clear" json:"clear"`
		StrictPerms bool     `yaml:"strictPerms" json:"strictPerms"`
	} `yaml:"cache" json:"cache"`

	Output struct {
		Dir string `yaml:"dir" json:"dir"`
		PDF *bool  `yaml:"pdf" json:"pdf"`
	} `yaml:"output" json:"output"`

	Server struct {
		Addr      string  `yaml:"addr" json:"addr"`
		RateLimit float64 `yaml:"rateLimit" json:"rateLimit"`
		RateBurst int     `yaml:"rateBurst" json:"rateBurst"`
	} `yaml:"server" json:"server"`

	Verbose bool `yaml:"verbose" json:"verbose"`
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		// Try YAML then JSON
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, errors.Join(fmt.Errorf("parse config as yaml: %w", err), fmt.Errorf("parse config as json: %w", jerr))
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays every value the file sets onto cfg. Call it on
// the defaults before environment and flags are applied.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	setString(&cfg.RegistryURL, fc.Registry.URL)

	setBoolPtr(&cfg.Headless, fc.Browser.Headless)
	setString(&cfg.BrowserPath, fc.Browser.ExecPath)
	setString(&cfg.UserAgent, fc.Browser.UserAgent)
	setString(&cfg.AcceptLanguage, fc.Browser.AcceptLanguage)

	setInt(&cfg.MaxAttempts, fc.Workflow.MaxAttempts)
	setDuration(&cfg.BackoffUnit, fc.Workflow.BackoffUnit)

	t := fc.Timeouts
	setDuration(&cfg.Timeouts.PageLoad, t.PageLoad)
	setDuration(&cfg.Timeouts.Marker, t.Marker)
	setDuration(&cfg.Timeouts.EntryVerify, t.EntryVerify)
	setDuration(&cfg.Timeouts.Control, t.Control)
	setDuration(&cfg.Timeouts.Results, t.Results)
	setDuration(&cfg.Timeouts.Download, t.Download)
	setDuration(&cfg.Timeouts.Poll, t.Poll)

	setString(&cfg.DownloadDir, fc.Download.Dir)
	setString(&cfg.DownloadSuffix, fc.Download.Suffix)
	if fc.Download.MaxBytes > 0 {
		cfg.MaxDocumentBytes = fc.Download.MaxBytes
	}

	setDuration(&cfg.ExtractTimeout, fc.Extract.Timeout)
	setInt(&cfg.HighThreshold, fc.Extract.HighThreshold)
	setInt(&cfg.LowThreshold, fc.Extract.LowThreshold)
	setString(&cfg.PdftotextPath, fc.Extract.Pdftotext)
	setString(&cfg.PdftoppmPath, fc.Extract.Pdftoppm)
	setString(&cfg.TesseractPath, fc.Extract.Tesseract)
	setString(&cfg.OCRLang, fc.Extract.OCRLang)
	setBoolPtr(&cfg.EnableOCR, fc.Extract.EnableOCR)

	setString(&cfg.LLMBaseURL, fc.LLM.BaseURL)
	setString(&cfg.LLMModel, fc.LLM.Model)
	setString(&cfg.LLMAPIKey, fc.LLM.APIKey)
	if fc.LLM.CacheOnly {
		cfg.LLMCacheOnly = true
	}

	setString(&cfg.CacheDir, fc.Cache.Dir)
	setDuration(&cfg.CacheMaxAge, fc.Cache.MaxAge)
	if fc.Cache.MaxBytes > 0 {
		cfg.CacheMaxBytes = fc.Cache.MaxBytes
	}
	setInt(&cfg.CacheMaxCount, fc.Cache.MaxCount)
	if fc.Cache.Clear {
		cfg.CacheClear = true
	}
	if fc.Cache.StrictPerms {
		cfg.CacheStrictPerms = true
	}

	setString(&cfg.OutputDir, fc.Output.Dir)
	setBoolPtr(&cfg.OutputPDF, fc.Output.PDF)

	setString(&cfg.ServerAddr, fc.Server.Addr)
	if fc.Server.RateLimit > 0 {
		cfg.RateLimit = fc.Server.RateLimit
	}
	setInt(&cfg.RateBurst, fc.Server.RateBurst)

	if fc.Verbose {
		cfg.Verbose = true
	}
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v Duration) {
	if v > 0 {
		*dst = time.Duration(v)
	}
}

func setBoolPtr(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
