package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, root string, ignore []string) *Watcher {
	t.Helper()
	w, err := NewWatcher(root, 100, ignore, JournalPatterns(""))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})
	require.NoError(t, w.Start(ctx))
	return w
}

func collectPaths(t *testing.T, w *Watcher, timeout time.Duration) map[string]EventType {
	t.Helper()
	seen := make(map[string]EventType)
	deadline := time.After(timeout)
	for {
		select {
		case cs, ok := <-w.Changes():
			if !ok {
				return seen
			}
			for _, ev := range cs.Events {
				seen[ev.Path] = ev.EventType
			}
		case <-deadline:
			return seen
		}
	}
}

func TestJournalPatterns(t *testing.T) {
	assert.Equal(t, []string{"Journal.json", "photos/**"}, JournalPatterns(""))
	assert.Equal(t, []string{"export/Work.json", "photos/**"}, JournalPatterns(filepath.Join("export", "Work.json")))
}

func TestWatcher_ReportsJournalAndPhotos(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "photos"), 0o755))
	w := startWatcher(t, root, []string{".dayone2-to-evernote/**"})

	require.NoError(t, os.WriteFile(filepath.Join(root, "Journal.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "photos", "abc.jpeg"), []byte("jpeg"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("unrelated"), 0o644))

	seen := collectPaths(t, w, time.Second)
	assert.Contains(t, seen, "Journal.json")
	assert.Contains(t, seen, "photos/abc.jpeg")
	assert.NotContains(t, seen, "notes.txt")
}

func TestWatcher_IgnoresStateDir(t *testing.T) {
	root := t.TempDir()
	stateDir := filepath.Join(root, ".dayone2-to-evernote")
	require.NoError(t, os.Mkdir(stateDir, 0o755))
	w := newTestWatcher(t, root)

	assert.True(t, w.shouldIgnore(".dayone2-to-evernote/.abc.json"))
	assert.False(t, w.shouldIgnore("Journal.json"))
	assert.True(t, w.shouldIgnore("photos/.DS_Store"))
}

func TestWatcher_WatchesNewPhotosDir(t *testing.T) {
	root := t.TempDir()
	w := startWatcher(t, root, nil)

	require.NoError(t, os.Mkdir(filepath.Join(root, "photos"), 0o755))
	// Give the watcher time to add the new directory
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(root, "photos", "new.png"), []byte("png"), 0o644))

	seen := collectPaths(t, w, time.Second)
	assert.Contains(t, seen, "photos/new.png")
	assert.NotContains(t, seen, "photos", "directories are not reported")
}

func TestWatcher_StopClosesChanges(t *testing.T) {
	w := startWatcher(t, t.TempDir(), nil)
	require.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())

	_, ok := <-w.Changes()
	assert.False(t, ok)
}

func TestWatcher_ShouldInclude(t *testing.T) {
	w := &Watcher{includePatterns: JournalPatterns("")}
	assert.True(t, w.shouldInclude("Journal.json"))
	assert.True(t, w.shouldInclude("photos/a/b.jpeg"))
	assert.False(t, w.shouldInclude("Other.json"))

	w.includePatterns = nil
	assert.True(t, w.shouldInclude("anything"))
}

// newTestWatcher builds an unstarted watcher with the default ignore patterns
func newTestWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	w, err := NewWatcher(root, 10, []string{".dayone2-to-evernote/**", "**/.DS_Store"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { w.Stop() })
	return w
}
