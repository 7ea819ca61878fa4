// Package watch triggers a callback when files under a source directory change.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 2 * time.Second

// Watcher coalesces bursts of file events (a copy of many PDFs, an editor
// save) into a single callback.
type Watcher struct {
	debounce time.Duration

	// ready is called once every directory is watched.
	ready func()
}

func New(debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{debounce: debounce}
}

// Run blocks until ctx is done. onChange errors are logged, not returned, so a
// failed rebuild does not stop watching.
func (w *Watcher) Run(ctx context.Context, dir string, onChange func(context.Context) error) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	if err := addTree(fw, dir); err != nil {
		return err
	}
	if w.ready != nil {
		w.ready()
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() && !isHidden(ev.Name) {
					if err := addTree(fw, ev.Name); err != nil {
						slog.WarnContext(ctx, "watch_add_failed", "path", ev.Name, "error", err)
					}
				}
			}
			if !relevant(ev) {
				continue
			}
			timer.Reset(w.debounce)
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "watch_error", "dir", dir, "error", err)
		case <-fire:
			fire = nil
			slog.InfoContext(ctx, "watch_change_detected", "dir", dir)
			if err := onChange(ctx); err != nil {
				slog.ErrorContext(ctx, "watch_callback_failed", "dir", dir, "error", err)
			}
		}
	}
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && isHidden(path) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func relevant(ev fsnotify.Event) bool {
	if isHidden(ev.Name) {
		return false
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

func isHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
