// Package watch reloads rule files when they change on disk.
package watch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is used when no debounce interval is configured.
const DefaultDebounce = 500 * time.Millisecond

// Handler applies settled file changes.
type Handler interface {
	// Changed is called for a file that was created or whose content changed.
	Changed(ctx context.Context, path string) error
	// Unload is called for a file that was removed or renamed away.
	Unload(ctx context.Context, path string) error
}

// Watcher collects filesystem events under the watched roots and hands
// them to a Handler once they have settled for a debounce interval.
type Watcher struct {
	handler  Handler
	watcher  *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration

	// Debouncing: collect changes before processing
	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op

	// Content hashes of files handed to Changed
	hashMu sync.Mutex
	hashes map[string]string

	done chan struct{}
}

// New creates a watcher that reports to h.
func New(h Handler, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		handler:  h,
		watcher:  fsw,
		logger:   logger,
		debounce: debounce,
		pending:  make(map[string]fsnotify.Op),
		hashes:   make(map[string]string),
		done:     make(chan struct{}),
	}, nil
}

// Root returns the directory to watch for a file spec: the fixed prefix of
// a glob, a directory itself, or the parent of a file.
func Root(spec string) string {
	if strings.ContainsAny(spec, "*?[{") {
		base, _ := doublestar.SplitPattern(filepath.ToSlash(spec))
		return filepath.FromSlash(base)
	}
	if info, err := os.Stat(spec); err == nil && info.IsDir() {
		return spec
	}
	return filepath.Dir(spec)
}

// AddSpec watches every directory a file spec can name files in.
func (w *Watcher) AddSpec(spec string) error {
	return w.addRecursive(Root(spec))
}

// addRecursive adds watches to root and every directory below it.
func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if hidden(path) && path != root {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory", slog.String("path", path), slog.String("error", err.Error()))
		} else {
			w.logger.Debug("Watching directory", slog.String("path", path))
		}
		return nil
	})
}

// Remember records the content hash of a file that is already loaded, so
// an event that leaves it unchanged does not reload it.
func (w *Watcher) Remember(path string) error {
	sum, err := hashFile(path)
	if err != nil {
		return err
	}
	w.hashMu.Lock()
	w.hashes[path] = sum
	w.hashMu.Unlock()
	return nil
}

// Start begins processing events in the background until ctx is done or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.processEvents(ctx)
	w.logger.Info("Rule file watcher started", slog.Duration("debounce", w.debounce))
}

// Stop closes the watcher and waits for the event loop to exit. Pending
// changes that have not settled are dropped.
func (w *Watcher) Stop() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name
	if hidden(path) {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			// Files created together with the directory produce no events
			// of their own.
			if err := w.addRecursive(path); err != nil {
				w.logger.Warn("Failed to watch new directory", slog.String("path", path), slog.String("error", err.Error()))
			}
			w.queueExisting(path)
			return
		}
	}
	if event.Op == fsnotify.Chmod {
		return
	}

	w.pendingMu.Lock()
	w.pending[path] |= event.Op
	w.pendingMu.Unlock()

	w.logger.Debug("Rule file change detected", slog.String("path", path), slog.String("op", event.Op.String()))
}

func (w *Watcher) queueExisting(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || hidden(path) {
			return nil
		}
		w.pendingMu.Lock()
		w.pending[path] |= fsnotify.Create
		w.pendingMu.Unlock()
		return nil
	})
}

// flushPending hands accumulated changes to the handler.
func (w *Watcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	toProcess := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	for path := range toProcess {
		if ctx.Err() != nil {
			return
		}

		sum, err := hashFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			w.forget(path)
			if err := w.handler.Unload(ctx, path); err != nil {
				w.logger.Error("Failed to unload rule file", slog.String("path", path), slog.String("error", err.Error()))
			}
			continue
		}
		if err != nil {
			w.logger.Warn("Failed to read rule file", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}

		w.hashMu.Lock()
		old, had := w.hashes[path]
		w.hashes[path] = sum
		w.hashMu.Unlock()
		if had && old == sum {
			continue
		}

		if err := w.handler.Changed(ctx, path); err != nil {
			w.logger.Error("Failed to reload rule file", slog.String("path", path), slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) forget(path string) {
	w.hashMu.Lock()
	delete(w.hashes, path)
	w.hashMu.Unlock()
}

// hidden reports whether the base name of path starts with a dot, as
// editor swap files and VCS directories do.
func hidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}

func hashFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]), nil
}
