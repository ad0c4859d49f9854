package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNoFile is returned when no new matching file materialized in time.
var ErrNoFile = errors.New("no matching file appeared")

// partialSuffixes are names browsers use while a download is in flight.
var partialSuffixes = []string{".crdownload", ".part", ".partial", ".tmp", ".download"}

// File describes a downloaded artifact.
type File struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Detector watches a directory for a file that a triggering action causes
// to appear, since the action itself gives no completion signal.
type Detector struct {
	Dir      string
	Suffix   string
	Timeout  time.Duration
	Interval time.Duration
	Logger   *zerolog.Logger
}

func (d *Detector) logger() *zerolog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return &log.Logger
}

// Watch is an armed detector holding the directory state from before the
// triggering action.
type Watch struct {
	d        *Detector
	baseline map[string]time.Time
}

// Arm snapshots the directory. Files present now, with unchanged
// modification times, are never reported by the returned Watch.
func (d *Detector) Arm() (*Watch, error) {
	if strings.TrimSpace(d.Dir) == "" {
		return nil, errors.New("download dir not configured")
	}
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}
	files, err := list(d.Dir, d.Suffix)
	if err != nil {
		return nil, err
	}
	base := make(map[string]time.Time, len(files))
	for _, f := range files {
		base[f.Path] = f.ModTime
	}
	return &Watch{d: d, baseline: base}, nil
}

// Wait polls until the newest new matching file has the same size on two
// consecutive observations, or the detector timeout elapses. Directory
// events from fsnotify shorten the wait between polls.
func (w *Watch) Wait(ctx context.Context) (File, error) {
	timeout := w.d.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	interval := w.d.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var events <-chan fsnotify.Event
	if watcher, err := fsnotify.NewWatcher(); err == nil {
		defer watcher.Close()
		if err := watcher.Add(w.d.Dir); err == nil {
			events = watcher.Events
		} else {
			w.d.logger().Debug().Err(err).Str("dir", w.d.Dir).Msg("fsnotify add failed; polling only")
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var prev File
	for {
		f, ok, err := w.newest()
		if err != nil {
			w.d.logger().Debug().Err(err).Str("dir", w.d.Dir).Msg("download dir scan failed")
		}
		if ok {
			if f.Path == prev.Path && f.Size == prev.Size && f.Size > 0 {
				w.d.logger().Debug().Str("path", f.Path).Int64("bytes", f.Size).Msg("download complete")
				return f, nil
			}
			prev = f
		}
		select {
		case <-ctx.Done():
			return File{}, fmt.Errorf("%w within %s in %s", ErrNoFile, timeout, w.d.Dir)
		case <-ticker.C:
		case _, open := <-events:
			if !open {
				events = nil
			}
		}
	}
}

func (w *Watch) newest() (File, bool, error) {
	files, err := list(w.d.Dir, w.d.Suffix)
	if err != nil {
		return File{}, false, err
	}
	var fresh []File
	for _, f := range files {
		if t, seen := w.baseline[f.Path]; seen && t.Equal(f.ModTime) {
			continue
		}
		fresh = append(fresh, f)
	}
	f, ok := pickLatest(fresh)
	return f, ok, nil
}

// Latest returns the most recently modified file in dir whose name ends in
// suffix, ignoring in-flight partial downloads.
func Latest(dir, suffix string) (File, bool, error) {
	files, err := list(dir, suffix)
	if err != nil {
		return File{}, false, err
	}
	f, ok := pickLatest(files)
	return f, ok, nil
}

func pickLatest(files []File) (File, bool) {
	var best File
	found := false
	for _, f := range files {
		if !found || f.ModTime.After(best.ModTime) {
			best = f
			found = true
		}
	}
	return best, found
}

func list(dir, suffix string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]File, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if isPartial(name) {
			continue
		}
		if suffix != "" && !strings.HasSuffix(strings.ToLower(name), strings.ToLower(suffix)) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, File{Path: filepath.Join(dir, name), Size: info.Size(), ModTime: info.ModTime()})
	}
	return out, nil
}

func isPartial(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range partialSuffixes {
		if strings.HasSuffix(lower, s) {
			return true
		}
	}
	return false
}
