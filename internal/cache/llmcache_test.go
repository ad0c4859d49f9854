package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLLMCache_SaveGet(t *testing.T) {
	c := &LLMCache{Dir: t.TempDir()}
	key := KeyFrom("model", "prompt")
	data := []byte(`{"summary":"Vereinsregister"}`)
	if err := c.Save(context.Background(), key, data); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := c.Get(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("get: %v ok=%v", err, ok)
	}
	if string(got) != string(data) {
		t.Fatalf("mismatch: %s", got)
	}
	if _, ok, _ := c.Get(context.Background(), KeyFrom("model", "other")); ok {
		t.Fatalf("unexpected hit")
	}
}

func TestKeyFrom_DependsOnModel(t *testing.T) {
	if KeyFrom("a", "p") == KeyFrom("b", "p") {
		t.Fatalf("keys for different models must differ")
	}
}

func TestLLMCache_Unconfigured(t *testing.T) {
	var c *LLMCache
	if _, _, err := c.Get(context.Background(), "k"); err == nil {
		t.Fatalf("expected error for nil cache")
	}
}

func TestEnforceLLMCacheLimits_EvictsLeastRecentlyUsed(t *testing.T) {
	dir := t.TempDir()
	c := &LLMCache{Dir: dir}
	keys := []string{KeyFrom("m", "p1"), KeyFrom("m", "p2"), KeyFrom("m", "p3")}
	base := time.Now().Add(-time.Hour)
	for i, k := range keys {
		if err := c.Save(context.Background(), k, []byte(fmt.Sprintf("%d", i))); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		mt := base.Add(time.Duration(i) * time.Minute)
		if err := os.Chtimes(filepath.Join(dir, k+".json"), mt, mt); err != nil {
			t.Fatal(err)
		}
	}
	if _, ok, _ := c.Get(context.Background(), keys[0]); !ok {
		t.Fatal("expected hit")
	}
	removed, err := EnforceLLMCacheLimits(dir, 0, 2)
	if err != nil {
		t.Fatalf("enforce: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, ok, _ := c.Get(context.Background(), keys[1]); ok {
		t.Fatal("expected least recently used entry evicted")
	}
}

func TestPurgeLLMCacheByAge(t *testing.T) {
	dir := t.TempDir()
	c := &LLMCache{Dir: dir}
	oldKey, newKey := KeyFrom("m", "old"), KeyFrom("m", "new")
	for _, k := range []string{oldKey, newKey} {
		if err := c.Save(context.Background(), k, []byte("{}")); err != nil {
			t.Fatal(err)
		}
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(filepath.Join(dir, oldKey+".json"), past, past); err != nil {
		t.Fatal(err)
	}
	n, err := PurgeLLMCacheByAge(dir, 24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("expected one purge, got %d %v", n, err)
	}
	if n, _ := PurgeLLMCacheByAge(filepath.Join(dir, "missing"), time.Hour); n != 0 {
		t.Fatalf("missing dir should purge nothing")
	}
}

func TestClearDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "llm")
	c := &LLMCache{Dir: dir}
	if err := c.Save(context.Background(), "k", []byte("{}")); err != nil {
		t.Fatal(err)
	}
	if err := ClearDir(dir); err != nil {
		t.Fatal(err)
	}
	es, _ := os.ReadDir(dir)
	if len(es) != 0 {
		t.Fatalf("expected empty dir, got %d entries", len(es))
	}
	if ClearDir("  ") == nil {
		t.Fatalf("expected error for blank dir")
	}
}
