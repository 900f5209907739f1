// Package watcher reports changes to a journal export directory.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// JournalPatterns returns the include patterns for an export: the journal
// file itself and everything under photos/.
func JournalPatterns(journalFile string) []string {
	if journalFile == "" {
		journalFile = "Journal.json"
	}
	return []string{filepath.ToSlash(journalFile), "photos/**"}
}

// Watcher monitors a journal directory for file changes
type Watcher struct {
	rootPath        string
	watcher         *fsnotify.Watcher
	debouncer       *Debouncer
	ignorePatterns  []string
	includePatterns []string
	stopCh          chan struct{}
	stopOnce        sync.Once
}

// NewWatcher creates a new file watcher
func NewWatcher(rootPath string, debounceMs int, ignorePatterns, includePatterns []string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		rootPath:        rootPath,
		watcher:         fsWatcher,
		debouncer:       NewDebouncer(debounceMs),
		ignorePatterns:  ignorePatterns,
		includePatterns: includePatterns,
		stopCh:          make(chan struct{}),
	}, nil
}

// Start begins watching the root directory and all subdirectories
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.rootPath); err != nil {
		return err
	}

	go w.processEvents(ctx)

	slog.Info("watcher started",
		"path", w.rootPath,
		"include_patterns", w.includePatterns,
		"ignore_patterns", len(w.ignorePatterns))

	return nil
}

// Changes returns the channel of debounced change sets
func (w *Watcher) Changes() <-chan ChangeSet {
	return w.debouncer.Events()
}

// Stop stops the watcher. It is safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
		w.debouncer.Stop()
	})
	return err
}

// addRecursive adds a directory and all subdirectories to the watcher
func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			slog.Warn("error walking path", "path", path, "error", err)
			return nil
		}

		relPath, _ := filepath.Rel(w.rootPath, path)
		relPath = filepath.ToSlash(relPath)

		if relPath != "." && w.shouldIgnore(relPath) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.IsDir() {
			if err := w.watcher.Add(path); err != nil {
				slog.Warn("failed to watch directory", "path", path, "error", err)
			}
		}

		return nil
	})
}

// processEvents handles fsnotify events
func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			relPath, err := filepath.Rel(w.rootPath, event.Name)
			if err != nil {
				continue
			}
			relPath = filepath.ToSlash(relPath)

			if w.shouldIgnore(relPath) {
				continue
			}

			w.handleEvent(event, relPath)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

// handleEvent processes a single fsnotify event
func (w *Watcher) handleEvent(event fsnotify.Event, relPath string) {
	info, statErr := os.Stat(event.Name)

	switch {
	case event.Has(fsnotify.Create):
		// New directories are watched; their files surface as their own events
		if statErr == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				slog.Warn("failed to add new directory", "path", event.Name, "error", err)
			}
			return
		}
		if w.shouldInclude(relPath) {
			w.debouncer.Add(relPath, EventCreate)
		}

	case event.Has(fsnotify.Write):
		if statErr == nil && info.IsDir() {
			return
		}
		if w.shouldInclude(relPath) {
			w.debouncer.Add(relPath, EventModify)
		}

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		// A rename reports the old name; the new name arrives as a create
		if w.shouldInclude(relPath) {
			w.debouncer.Add(relPath, EventDelete)
		}

	case event.Has(fsnotify.Chmod):
	}

	slog.Debug("file event", "path", relPath, "op", event.Op.String())
}

// shouldIgnore checks if a path or any of its parents matches an ignore pattern
func (w *Watcher) shouldIgnore(relPath string) bool {
	parts := strings.Split(relPath, "/")
	for _, pattern := range w.ignorePatterns {
		for i := 1; i <= len(parts); i++ {
			partial := strings.Join(parts[:i], "/")
			if matched, err := doublestar.Match(pattern, partial); err == nil && matched {
				return true
			}
		}
	}
	return false
}

// shouldInclude checks if a path matches include patterns (or returns true if no patterns)
func (w *Watcher) shouldInclude(relPath string) bool {
	if len(w.includePatterns) == 0 {
		return true
	}

	for _, pattern := range w.includePatterns {
		if matched, err := doublestar.Match(pattern, relPath); err == nil && matched {
			return true
		}
	}
	return false
}
