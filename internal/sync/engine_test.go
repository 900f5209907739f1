package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reggiezhang/dayone2-to-evernote/internal/journal"
	"github.com/reggiezhang/dayone2-to-evernote/internal/notestore"
)

const testNotebook = "Dayone: Mon Jan 02 2006"

type harness struct {
	root   string
	store  *notestore.MemoryStore
	state  *MemoryStateStore
	engine *Engine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		root:  t.TempDir(),
		store: notestore.NewMemoryStore(),
		state: NewMemoryStateStore(),
	}
	h.engine = h.newEngine()
	return h
}

// newEngine starts a new run against the same store and state
func (h *harness) newEngine() *Engine {
	return NewEngine(h.store, h.state, Options{
		Notebook:    testNotebook,
		JournalRoot: h.root,
		Now:         func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) },
	})
}

func (h *harness) run(t *testing.T, entries ...journal.Entry) Summary {
	t.Helper()
	h.engine = h.newEngine()
	return NewRunner(h.engine, RunnerOptions{}).Run(context.Background(), entries)
}

func (h *harness) writePhoto(t *testing.T, md5, typ string) journal.Photo {
	t.Helper()
	dir := journal.PhotosDir(h.root)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, md5+"."+typ), []byte(md5), 0o644))
	return journal.Photo{MD5: md5, Type: typ}
}

func (h *harness) record(t *testing.T, id string) *Record {
	t.Helper()
	rec, err := h.state.Load(id)
	require.NoError(t, err)
	return rec
}

func helloEntry() journal.Entry {
	return journal.Entry{
		UUID:         "abc",
		CreationDate: time.Date(2016, 5, 10, 3, 8, 7, 0, time.UTC),
		Text:         "Hello\nWorld",
	}
}

func TestEngine_CreateThenSkip(t *testing.T) {
	h := newHarness(t)
	entry := helloEntry()
	digest, err := Fingerprint(entry)
	require.NoError(t, err)

	summary := h.run(t, entry)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 0, summary.Updated)

	note, ok := h.store.Note("note-1")
	require.True(t, ok)
	assert.Equal(t, "Hello", note.Title)
	assert.Equal(t, []string{"dayone"}, note.Tags)
	assert.Equal(t, testNotebook, note.Notebook)

	rec := h.record(t, "abc")
	require.NotNil(t, rec)
	assert.Equal(t, "abc", rec.ID)
	assert.Equal(t, digest, rec.Fingerprint)
	assert.Equal(t, "note-1", rec.NoteID)
	assert.Equal(t, testNotebook, rec.Notebook)

	h.store.ResetCalls()
	saves := h.state.Saves()

	summary = h.run(t, entry)
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 0, summary.Updated)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, notestore.CallCounts{NoteExists: 1}, h.store.Calls())
	assert.Equal(t, saves, h.state.Saves(), "skip must not write state")
}

func TestEngine_EditReplacesNote(t *testing.T) {
	h := newHarness(t)
	entry := helloEntry()
	h.run(t, entry)

	entry.Text = "Hello\nWorld!!"
	d2, err := Fingerprint(entry)
	require.NoError(t, err)

	summary := h.run(t, entry)
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 1, summary.Updated)

	assert.Equal(t, []string{"note-2"}, h.store.NoteIDs())
	rec := h.record(t, "abc")
	assert.Equal(t, d2, rec.Fingerprint)
	assert.Equal(t, "note-2", rec.NoteID)
}

func TestEngine_Idempotent(t *testing.T) {
	h := newHarness(t)
	photo := h.writePhoto(t, "aaa", "jpeg")
	entries := []journal.Entry{
		helloEntry(),
		{UUID: "def", Text: "Second", Tags: []string{"x"}, Photos: []journal.Photo{photo}},
		{UUID: "ghi", Text: "Third", Location: &journal.Location{Latitude: 1, Longitude: 2}},
	}

	first := h.run(t, entries...)
	assert.Equal(t, 3, first.Created)

	h.store.ResetCalls()
	second := h.run(t, entries...)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 3, second.Skipped)
	assert.Equal(t, 0, h.store.Calls().CreateNote+h.store.Calls().DeleteNote+h.store.Calls().CreateNotebook)
}

func TestEngine_ChangeDetection(t *testing.T) {
	tests := []struct {
		name   string
		modify func(h *harness, t *testing.T, e *journal.Entry)
	}{
		{"text", func(h *harness, t *testing.T, e *journal.Entry) { e.Text = "Hello\nthere" }},
		{"tags", func(h *harness, t *testing.T, e *journal.Entry) { e.Tags = []string{"new"} }},
		{"location", func(h *harness, t *testing.T, e *journal.Entry) {
			e.Location = &journal.Location{Latitude: 10, Longitude: 20}
		}},
		{"photos", func(h *harness, t *testing.T, e *journal.Entry) {
			e.Photos = []journal.Photo{h.writePhoto(t, "bbb", "png")}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			entry := helloEntry()
			h.run(t, entry)

			tt.modify(h, t, &entry)
			summary := h.run(t, entry)

			assert.Equal(t, 1, summary.Updated)
			assert.Equal(t, []string{"note-2"}, h.store.NoteIDs())
		})
	}
}

func TestEngine_MappingFromEntry(t *testing.T) {
	h := newHarness(t)
	photo := h.writePhoto(t, "ccc", "jpeg")
	entry := journal.Entry{
		UUID:         "map",
		CreationDate: time.Date(2016, 5, 10, 3, 8, 7, 0, time.UTC),
		Text:         "![](dayone-moment://ccc)\n\nTitle line\nbody ![](x)",
		Tags:         []string{"Travel", "DayOne"},
		Location:     &journal.Location{Latitude: 31.2, Longitude: 121.4},
		Photos:       []journal.Photo{photo},
	}

	note, err := h.engine.BuildNote(entry)
	require.NoError(t, err)
	assert.Equal(t, "Title line", note.Title)
	assert.Equal(t, "Title line\nbody ", note.Body)
	assert.Equal(t, []string{"Travel", "DayOne"}, note.Tags)
	assert.Equal(t, entry.CreationDate, note.Created)
	require.NotNil(t, note.Latitude)
	assert.InDelta(t, 31.2, *note.Latitude, 1e-9)
	assert.InDelta(t, 121.4, *note.Longitude, 1e-9)
	assert.Equal(t, []string{filepath.Join(h.root, "photos", "ccc.jpeg")}, note.Attachments)
	assert.Equal(t, []string{"Travel", "DayOne"}, entry.Tags, "entry tags are not modified")
}

func TestEngine_SelfHealing(t *testing.T) {
	h := newHarness(t)
	entry := helloEntry()
	h.run(t, entry)

	h.store.Forget("note-1")
	h.store.ResetCalls()

	summary := h.run(t, entry)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, []string{"note-2"}, h.store.NoteIDs())
	assert.Equal(t, "note-2", h.record(t, "abc").NoteID)
}

func TestEngine_StaleRecordWithoutNoteID(t *testing.T) {
	h := newHarness(t)
	entry := helloEntry()
	digest, err := Fingerprint(entry)
	require.NoError(t, err)
	require.NoError(t, h.state.Save(&Record{ID: "abc", Fingerprint: digest}))

	summary := h.run(t, entry)
	assert.Equal(t, 1, summary.Updated)
	assert.Zero(t, h.store.Calls().DeleteNote)
	assert.Equal(t, "note-1", h.record(t, "abc").NoteID)
}

func TestEngine_AtMostOneLiveNote(t *testing.T) {
	h := newHarness(t)
	entry := helloEntry()

	for i := 0; i < 5; i++ {
		entry.Text = "Hello\n" + string(rune('a'+i))
		h.run(t, entry)
		rec := h.record(t, "abc")
		assert.Equal(t, []string{rec.NoteID}, h.store.NoteIDs())
	}
}

func TestEngine_ResetIssuesNoCallsAndDuplicates(t *testing.T) {
	h := newHarness(t)
	entries := []journal.Entry{helloEntry(), {UUID: "def", Text: "Second"}}
	h.run(t, entries...)
	h.store.Forget("note-2")

	h.store.ResetCalls()
	require.NoError(t, h.engine.Reset())
	assert.Zero(t, h.store.Calls().Total())

	records, err := h.state.List()
	require.NoError(t, err)
	assert.Empty(t, records)

	summary := h.run(t, entries...)
	assert.Equal(t, 2, summary.Created)
	calls := h.store.Calls()
	assert.Equal(t, 2, calls.CreateNote)
	assert.Zero(t, calls.DeleteNote)
	assert.Zero(t, calls.NoteExists)

	// note-1 was never deleted, so the entry now has two notes
	assert.Equal(t, []string{"note-1", "note-3", "note-4"}, h.store.NoteIDs())
}

func TestEngine_NotebookCarriedForward(t *testing.T) {
	h := newHarness(t)
	entry := helloEntry()
	h.run(t, entry)

	require.NoError(t, h.store.MoveNote("note-1", "Archive"))
	entry.Text = "Hello\nagain"

	summary := h.run(t, entry)
	assert.Equal(t, 1, summary.Updated)

	note, ok := h.store.Note("note-2")
	require.True(t, ok)
	assert.Equal(t, "Archive", note.Notebook)
	assert.Equal(t, "Archive", h.record(t, "abc").Notebook)
}

func TestEngine_NotebookCreatedOncePerRun(t *testing.T) {
	h := newHarness(t)
	var entries []journal.Entry
	for _, id := range []string{"a", "b", "c", "d"} {
		entries = append(entries, journal.Entry{UUID: id, Text: id})
	}

	h.run(t, entries...)
	assert.Equal(t, 1, h.store.Calls().CreateNotebook)
	assert.True(t, h.store.HasNotebook(testNotebook))
}

func TestEngine_FailureIsolation(t *testing.T) {
	h := newHarness(t)
	entries := []journal.Entry{
		{UUID: "ok-1", Text: "one"},
		{UUID: "bad/id", Text: "two"},
		{UUID: "ok-2", Text: "three", Photos: []journal.Photo{{MD5: "missing", Type: "jpeg"}}},
		{UUID: "ok-3", Text: "four"},
	}

	summary := h.run(t, entries...)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 2, summary.Failed)
	require.Len(t, summary.Failures, 2)
	assert.Equal(t, "bad/id", summary.Failures[0].EntryID)
	assert.ErrorIs(t, summary.Failures[0].Err, ErrInvalidEntryID)
	assert.Equal(t, "ok-2", summary.Failures[1].EntryID)
	assert.Nil(t, h.record(t, "ok-2"))
}

func TestEngine_PayloadFailureKeepsExistingNote(t *testing.T) {
	h := newHarness(t)
	entry := helloEntry()
	h.run(t, entry)
	before := h.record(t, "abc")

	entry.Photos = []journal.Photo{{MD5: "missing", Type: "jpeg"}}
	h.store.ResetCalls()

	summary := h.run(t, entry)
	assert.Equal(t, 1, summary.Failed)
	assert.Zero(t, h.store.Calls().DeleteNote)
	assert.Equal(t, []string{"note-1"}, h.store.NoteIDs())
	assert.Equal(t, before, h.record(t, "abc"))
}

func TestEngine_SkipMissingPhotos(t *testing.T) {
	h := newHarness(t)
	present := h.writePhoto(t, "here", "png")
	engine := NewEngine(h.store, h.state, Options{
		Notebook:          testNotebook,
		JournalRoot:       h.root,
		SkipMissingPhotos: true,
	})

	out := engine.SyncEntry(context.Background(), journal.Entry{
		UUID:   "p",
		Text:   "photos",
		Photos: []journal.Photo{{MD5: "gone", Type: "jpeg"}, present},
	})
	require.Equal(t, Created, out.Kind, out.Err)

	note, ok := h.store.Note(out.NoteID)
	require.True(t, ok)
	assert.Equal(t, []string{journal.PhotoPath(h.root, present)}, note.Attachments)
}

func TestEngine_CreateFailureKeepsRecord(t *testing.T) {
	h := newHarness(t)
	entry := helloEntry()
	h.run(t, entry)
	before := h.record(t, "abc")

	h.store.FailOn(notestore.OpCreateNote, errors.New("quota exceeded"))
	entry.Text = "Hello\nchanged"

	summary := h.run(t, entry)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, before, h.record(t, "abc"))

	// The old note was deleted; the next run notices and recreates it
	h.store.FailOn(notestore.OpCreateNote, nil)
	summary = h.run(t, entry)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, []string{"note-2"}, h.store.NoteIDs())
}

func TestEngine_DeleteFailureFailsEntry(t *testing.T) {
	h := newHarness(t)
	entry := helloEntry()
	h.run(t, entry)

	h.store.FailOn(notestore.OpDeleteNote, errors.New("unavailable"))
	entry.Text = "Hello\nchanged"

	summary := h.run(t, entry)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, h.store.Calls().CreateNote, "no note created after a failed delete")
	assert.Equal(t, []string{"note-1"}, h.store.NoteIDs())
}

func TestEngine_SaveFailureRemovesNewNote(t *testing.T) {
	h := newHarness(t)
	h.state.FailSaves(errors.New("disk full"))

	summary := h.run(t, helloEntry())
	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, h.store.NoteIDs())
	assert.Nil(t, h.record(t, "abc"))
}

func TestEngine_NotebookFailureFailsEntry(t *testing.T) {
	h := newHarness(t)
	h.store.FailOn(notestore.OpCreateNotebook, errors.New("denied"))

	summary := h.run(t, helloEntry(), journal.Entry{UUID: "def", Text: "x"})
	assert.Equal(t, 2, summary.Failed)
	assert.Zero(t, h.store.Calls().CreateNote)
}

func TestEngine_CorruptStateFailsEntry(t *testing.T) {
	root := t.TempDir()
	state, err := NewFileStateStore(root)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(state.Dir(), ".abc.json"), []byte("{"), 0o644))

	store := notestore.NewMemoryStore()
	engine := NewEngine(store, state, Options{Notebook: testNotebook, JournalRoot: root})

	out := engine.SyncEntry(context.Background(), helloEntry())
	assert.Equal(t, Failed, out.Kind)
	assert.ErrorIs(t, out.Err, ErrCorruptState)
	assert.Zero(t, store.Calls().Total())
}

func TestOutcomeKind_String(t *testing.T) {
	assert.Equal(t, "skipped", Skipped.String())
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "updated", Updated.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "OutcomeKind(9)", OutcomeKind(9).String())
}
