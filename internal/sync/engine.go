package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/reggiezhang/dayone2-to-evernote/internal/journal"
	"github.com/reggiezhang/dayone2-to-evernote/internal/notestore"
	"github.com/reggiezhang/dayone2-to-evernote/internal/parser"
)

// DefaultMarkerTag is added to the tags of every note
const DefaultMarkerTag = "dayone"

// OutcomeKind is the result of syncing one entry
type OutcomeKind int

const (
	Skipped OutcomeKind = iota
	Created
	Updated
	Failed
)

func (k OutcomeKind) String() string {
	switch k {
	case Skipped:
		return "skipped"
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome describes what happened to one entry
type Outcome struct {
	Kind     OutcomeKind
	EntryID  string
	NoteID   string
	Notebook string
	Err      error
}

// Options configures an Engine
type Options struct {
	// Notebook receives new notes. Notes that were moved remotely stay in their notebook when replaced.
	Notebook    string
	JournalRoot string
	MarkerTag   string

	// SkipMissingPhotos drops attachments whose file is missing instead of failing the entry.
	SkipMissingPhotos bool

	Now func() time.Time
}

// Engine decides per entry whether the note store is current and brings it up to date
type Engine struct {
	store notestore.Store
	state StateStore
	opts  Options

	mu      sync.Mutex
	ensured map[string]bool
}

// NewEngine creates a sync engine
func NewEngine(store notestore.Store, state StateStore, opts Options) *Engine {
	if opts.MarkerTag == "" {
		opts.MarkerTag = DefaultMarkerTag
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		store:   store,
		state:   state,
		opts:    opts,
		ensured: make(map[string]bool),
	}
}

// Notebook returns the notebook new notes are placed in
func (e *Engine) Notebook() string {
	return e.opts.Notebook
}

// Reset forgets all sync state. Notes already in the store are left alone,
// so the next run creates a second note for every entry whose note still exists.
func (e *Engine) Reset() error {
	if err := e.state.ResetAll(); err != nil {
		return fmt.Errorf("failed to reset sync state: %w", err)
	}
	slog.Info("sync state reset")
	return nil
}

// BuildNote maps an entry to the note pushed for it
func (e *Engine) BuildNote(entry journal.Entry) (*notestore.Note, error) {
	body := parser.StripImagePlaceholders(entry.Text)

	note := &notestore.Note{
		Title:    parser.Title(body),
		Body:     body,
		Notebook: e.opts.Notebook,
		Tags:     parser.MergeTags(entry.Tags, e.opts.MarkerTag),
		Created:  entry.CreationDate,
	}

	if entry.Location != nil {
		lat, lng := entry.Location.Latitude, entry.Location.Longitude
		note.Latitude = &lat
		note.Longitude = &lng
	}

	for _, photo := range entry.Photos {
		path := journal.PhotoPath(e.opts.JournalRoot, photo)
		if _, err := os.Stat(path); err != nil {
			if e.opts.SkipMissingPhotos && os.IsNotExist(err) {
				slog.Warn("photo missing, attaching without it", "entry", entry.UUID, "path", path)
				continue
			}
			return nil, fmt.Errorf("failed to attach photo %s: %w", path, err)
		}
		note.Attachments = append(note.Attachments, path)
	}

	return note, nil
}

// SyncEntry brings the note of one entry up to date. Errors are reported in the
// outcome and leave the entry's stored record unchanged.
func (e *Engine) SyncEntry(ctx context.Context, entry journal.Entry) Outcome {
	out, err := e.syncEntry(ctx, entry)
	if err != nil {
		slog.Error("failed to sync entry", "entry", entry.UUID, "error", err)
		return Outcome{Kind: Failed, EntryID: entry.UUID, Err: err}
	}
	return out
}

func (e *Engine) syncEntry(ctx context.Context, entry journal.Entry) (Outcome, error) {
	if err := ValidateEntryID(entry.UUID); err != nil {
		return Outcome{}, err
	}

	digest, err := Fingerprint(entry)
	if err != nil {
		return Outcome{}, err
	}

	prior, err := e.state.Load(entry.UUID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load sync state: %w", err)
	}

	kind := Created
	if prior != nil {
		if prior.Fingerprint == digest && prior.NoteID != "" {
			exists, err := e.store.NoteExists(ctx, prior.NoteID)
			if err != nil {
				return Outcome{}, fmt.Errorf("failed to check note %s: %w", prior.NoteID, err)
			}
			if exists {
				slog.Debug("entry unchanged, skipping", "entry", entry.UUID, "note", prior.NoteID)
				return Outcome{Kind: Skipped, EntryID: entry.UUID, NoteID: prior.NoteID, Notebook: prior.Notebook}, nil
			}
			slog.Info("note missing from store, recreating", "entry", entry.UUID, "note", prior.NoteID)
		}
		kind = Updated
	}

	// The payload is built before the old note is deleted
	note, err := e.BuildNote(entry)
	if err != nil {
		return Outcome{}, err
	}

	if prior != nil && prior.NoteID != "" {
		notebook, err := e.store.DeleteNote(ctx, prior.NoteID)
		switch {
		case errors.Is(err, notestore.ErrNoteNotFound):
			slog.Debug("previous note already gone", "entry", entry.UUID, "note", prior.NoteID)
		case err != nil:
			return Outcome{}, fmt.Errorf("failed to delete note %s: %w", prior.NoteID, err)
		case notebook != "":
			note.Notebook = notebook
		}
	}

	if err := e.ensureNotebook(ctx, note.Notebook); err != nil {
		return Outcome{}, err
	}

	noteID, err := e.store.CreateNote(ctx, note)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to create note: %w", err)
	}

	rec := &Record{
		ID:          entry.UUID,
		Fingerprint: digest,
		NoteID:      noteID,
		Notebook:    note.Notebook,
		SyncedAt:    e.opts.Now().UTC(),
	}
	if err := e.state.Save(rec); err != nil {
		// Do not leave a note behind that no record points to
		if _, delErr := e.store.DeleteNote(context.WithoutCancel(ctx), noteID); delErr != nil {
			slog.Warn("failed to remove unrecorded note", "entry", entry.UUID, "note", noteID, "error", delErr)
		}
		return Outcome{}, fmt.Errorf("failed to save sync state: %w", err)
	}

	slog.Debug("entry synced", "entry", entry.UUID, "note", noteID, "result", kind)
	return Outcome{Kind: kind, EntryID: entry.UUID, NoteID: noteID, Notebook: note.Notebook}, nil
}

// ensureNotebook creates a notebook the first time it is used by this engine
func (e *Engine) ensureNotebook(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ensured[name] {
		return nil
	}
	if err := e.store.CreateNotebook(ctx, name); err != nil {
		return fmt.Errorf("failed to create notebook %q: %w", name, err)
	}
	e.ensured[name] = true
	return nil
}
