package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/banshee-data/particleview/internal/monitoring"
)

// Watcher reloads a config file whenever it changes on disk and hands each
// valid result to a callback. Invalid edits are logged and skipped so the
// running viewer keeps its last good configuration.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func(*ViewerConfig)
}

// NewWatcher watches path. The parent directory is watched rather than the
// file itself so editors that save by rename are still seen.
func NewWatcher(path string, onChange func(*ViewerConfig)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	clean := filepath.Clean(path)
	if err := fw.Add(filepath.Dir(clean)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(clean), err)
	}
	return &Watcher{
		path:     clean,
		watcher:  fw,
		debounce: 250 * time.Millisecond,
		onChange: onChange,
	}, nil
}

// Run processes file events until ctx is cancelled, then closes the
// underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.relevant(ev) {
				debounce.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			monitoring.Logf("[Config] watcher error: %v", err)

		case <-debounce.C:
			w.reload()
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

func (w *Watcher) reload() {
	cfg, err := LoadViewerConfig(w.path)
	if err != nil {
		monitoring.Logf("[Config] ignoring %s: %v", w.path, err)
		return
	}
	monitoring.Logf("[Config] reloaded %s", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
