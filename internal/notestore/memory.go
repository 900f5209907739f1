package notestore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Operation names accepted by MemoryStore.FailOn
const (
	OpCreateNotebook = "CreateNotebook"
	OpCreateNote     = "CreateNote"
	OpDeleteNote     = "DeleteNote"
	OpNoteExists     = "NoteExists"
)

// CallCounts tallies the operations a MemoryStore has served
type CallCounts struct {
	CreateNotebook int
	CreateNote     int
	DeleteNote     int
	NoteExists     int
}

// Total returns the number of calls of every kind
func (c CallCounts) Total() int {
	return c.CreateNotebook + c.CreateNote + c.DeleteNote + c.NoteExists
}

// MemoryStore keeps notes in process memory. Ids are note-1, note-2, ...
type MemoryStore struct {
	mu        sync.Mutex
	seq       int
	notes     map[string]*Note
	notebooks map[string]bool
	calls     CallCounts
	errs      map[string]error
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		notes:     make(map[string]*Note),
		notebooks: make(map[string]bool),
		errs:      make(map[string]error),
	}
}

func (m *MemoryStore) CreateNotebook(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.CreateNotebook++
	if err := m.errs[OpCreateNotebook]; err != nil {
		return err
	}
	m.notebooks[name] = true
	return nil
}

func (m *MemoryStore) CreateNote(ctx context.Context, note *Note) (string, error) {
	if note == nil {
		return "", fmt.Errorf("note is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.CreateNote++
	if err := m.errs[OpCreateNote]; err != nil {
		return "", err
	}
	if !m.notebooks[note.Notebook] {
		return "", fmt.Errorf("notebook %q does not exist", note.Notebook)
	}
	m.seq++
	id := fmt.Sprintf("note-%d", m.seq)
	clone := *note
	clone.Tags = append([]string(nil), note.Tags...)
	clone.Attachments = append([]string(nil), note.Attachments...)
	m.notes[id] = &clone
	return id, nil
}

func (m *MemoryStore) DeleteNote(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.DeleteNote++
	if err := m.errs[OpDeleteNote]; err != nil {
		return "", err
	}
	note, ok := m.notes[id]
	if !ok {
		return "", ErrNoteNotFound
	}
	delete(m.notes, id)
	return note.Notebook, nil
}

func (m *MemoryStore) NoteExists(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls.NoteExists++
	if err := m.errs[OpNoteExists]; err != nil {
		return false, err
	}
	_, ok := m.notes[id]
	return ok, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

// Calls returns the operation counters
func (m *MemoryStore) Calls() CallCounts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// ResetCalls zeroes the operation counters
func (m *MemoryStore) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = CallCounts{}
}

// Note returns a copy of a stored note
func (m *MemoryStore) Note(id string) (Note, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	note, ok := m.notes[id]
	if !ok {
		return Note{}, false
	}
	return *note, true
}

// NoteIDs returns the ids of all live notes, sorted
func (m *MemoryStore) NoteIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.notes))
	for id := range m.notes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HasNotebook reports whether a notebook was created
func (m *MemoryStore) HasNotebook(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notebooks[name]
}

// MoveNote reassigns a note to another notebook, as a user reorganizing the store would
func (m *MemoryStore) MoveNote(id, notebook string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	note, ok := m.notes[id]
	if !ok {
		return ErrNoteNotFound
	}
	m.notebooks[notebook] = true
	note.Notebook = notebook
	return nil
}

// Forget drops a note without counting a call, as an out-of-band deletion would
func (m *MemoryStore) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.notes, id)
}

// FailOn makes every later call of op return err. A nil err clears it.
func (m *MemoryStore) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, op)
		return
	}
	m.errs[op] = err
}
