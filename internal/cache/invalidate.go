package cache

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ClearDir removes dir and its contents, then recreates it empty.
func ClearDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return errors.New("empty dir")
	}
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

type entry struct {
	path string
	size int64
	mod  time.Time
}

func entries(dir string) ([]entry, error) {
	var out []entry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		out = append(out, entry{path: path, size: info.Size(), mod: info.ModTime()})
		return nil
	})
	return out, err
}

// PurgeLLMCacheByAge removes entries whose modification time is older than
// maxAge. It returns the number removed.
func PurgeLLMCacheByAge(dir string, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	es, err := entries(dir)
	if err != nil {
		return 0, err
	}
	now := time.Now()
	removed := 0
	for _, e := range es {
		if now.Sub(e.mod) <= maxAge {
			continue
		}
		if os.Remove(e.path) == nil {
			removed++
		}
	}
	return removed, nil
}

// EnforceLLMCacheLimits evicts least recently used entries until the cache
// holds at most maxCount entries and maxBytes bytes. Zero disables a limit.
func EnforceLLMCacheLimits(dir string, maxBytes int64, maxCount int) (int, error) {
	if maxBytes <= 0 && maxCount <= 0 {
		return 0, nil
	}
	es, err := entries(dir)
	if err != nil {
		return 0, err
	}
	sort.Slice(es, func(i, j int) bool { return es[i].mod.Before(es[j].mod) })
	var total int64
	for _, e := range es {
		total += e.size
	}
	removed := 0
	for _, e := range es {
		overCount := maxCount > 0 && len(es)-removed > maxCount
		overBytes := maxBytes > 0 && total > maxBytes
		if !overCount && !overBytes {
			break
		}
		if os.Remove(e.path) == nil {
			removed++
			total -= e.size
		}
	}
	return removed, nil
}
