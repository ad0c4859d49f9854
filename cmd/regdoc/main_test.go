package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// Flags beat the environment, which beats the config file.
func TestParseConfig_Precedence(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "regdoc.yaml")
	yaml := "llm:\n  model: file-model\n  base: http://file.example/v1\nworkflow:\n  maxAttempts: 5\n  backoffUnit: 3s\n"
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LLM_MODEL", "env-model")
	t.Setenv("LLM_BASE_URL", "")

	cfg, opts, err := parseConfig([]string{"-config", cfgPath, "-env", "", "-workflow.maxAttempts", "7", "Musterverein", "e.V."})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.MaxAttempts != 7 {
		t.Fatalf("flag should win, got %d", cfg.MaxAttempts)
	}
	if cfg.LLMModel != "env-model" {
		t.Fatalf("env should beat file, got %q", cfg.LLMModel)
	}
	if cfg.LLMBaseURL != "http://file.example/v1" || cfg.BackoffUnit != 3*time.Second {
		t.Fatalf("file values should survive, got %q %s", cfg.LLMBaseURL, cfg.BackoffUnit)
	}
	if opts.name != "Musterverein e.V." {
		t.Fatalf("name=%q", opts.name)
	}
}

func TestParseConfig_DotenvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("OUTPUT_DIR=/srv/summaries\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OUTPUT_DIR", "")
	cfg, _, err := parseConfig([]string{"-env", envPath, "-serve"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.OutputDir != "/srv/summaries" {
		t.Fatalf("OutputDir=%q", cfg.OutputDir)
	}
}

func baseArgs(t *testing.T) []string {
	dir := t.TempDir()
	return []string{
		"-env", "",
		"-download.dir", filepath.Join(dir, "downloads"),
		"-output.dir", filepath.Join(dir, "summaries"),
		"-cache.dir", filepath.Join(dir, "cache"),
	}
}

func TestRun_ExitCodes(t *testing.T) {
	t.Setenv("LLM_MODEL", "")
	var out bytes.Buffer
	if code := run(context.Background(), append(baseArgs(t), "AB"), &out); code != 2 {
		t.Fatalf("invalid name should exit 2, got %d", code)
	}
	missing := filepath.Join(t.TempDir(), "missing.pdf")
	if code := run(context.Background(), append(baseArgs(t), "-file", missing), &out); code != 1 {
		t.Fatalf("missing document should exit 1, got %d", code)
	}
	if code := run(context.Background(), baseArgs(t), &out); code != 2 {
		t.Fatalf("no mode should exit 2, got %d", code)
	}
	if code := run(context.Background(), []string{"-workflow.maxAttempts", "0", "-env", "", "x"}, &out); code != 2 {
		t.Fatalf("invalid config should exit 2, got %d", code)
	}
}

func TestRun_JSONOutputForFailures(t *testing.T) {
	t.Setenv("LLM_MODEL", "")
	var out bytes.Buffer
	code := run(context.Background(), append(baseArgs(t), "-json", "AB"), &out)
	if code != 2 {
		t.Fatalf("exit code=%d", code)
	}
	if !strings.Contains(out.String(), `"stage": "validation"`) {
		t.Fatalf("expected JSON result, got %s", out.String())
	}
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if code := run(context.Background(), []string{"-env", "", "-version"}, &out); code != 0 {
		t.Fatalf("exit code=%d", code)
	}
	if !strings.HasPrefix(out.String(), "regdoc ") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}
