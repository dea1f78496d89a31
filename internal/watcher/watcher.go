// Package watcher reports content edits inside known demo folders.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of writes (editors often write a file
// several times per save).
const DefaultDebounce = 200 * time.Millisecond

// ChangeCallback is called once per debounced burst with the demo id whose
// content changed.
type ChangeCallback func(id string)

// Options configures Watch.
type Options struct {
	// Known reports whether id is a catalog entry. Edits elsewhere are ignored.
	Known    func(id string) bool
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watch starts an fsnotify watcher on root and processes file change events
// until ctx is cancelled. New directories are added to the watch list. A
// new top-level folder is logged and otherwise ignored because the catalog
// does not change at runtime.
func Watch(ctx context.Context, root string, opts Options, cb ChangeCallback) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	known := opts.Known
	if known == nil {
		known = func(string) bool { return true }
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	pending := make(map[string]time.Time)
	var timer *time.Timer
	var timerCh <-chan time.Time

	schedule := func(id string) {
		pending[id] = time.Now().Add(debounce)
		if timer == nil {
			timer = time.NewTimer(debounce)
			timerCh = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-timerCh:
			now := time.Now()
			var next time.Duration
			for id, due := range pending {
				if wait := due.Sub(now); wait > 0 {
					if next == 0 || wait < next {
						next = wait
					}
					continue
				}
				delete(pending, id)
				logger.Debug("watcher: demo changed", slog.String("id", id))
				if cb != nil {
					cb(id)
				}
			}
			if next > 0 {
				timer.Reset(next)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil || rel == "." {
				continue
			}
			id, rest, _ := strings.Cut(filepath.ToSlash(rel), "/")
			if strings.HasPrefix(id, ".") || strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					if rest == "" {
						if !known(id) {
							logger.Info("watcher: new demo folder ignored until restart", slog.String("id", id))
						}
						continue
					}
				}
			}

			if rest == "" || !known(id) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			schedule(id)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its non-hidden subdirectories to the
// watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
