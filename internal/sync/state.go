package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

// StateDirName is the hidden directory inside the journal that holds sync state
const StateDirName = ".dayone2-to-evernote"

var (
	// ErrInvalidEntryID is returned for entry ids that cannot be used as state keys
	ErrInvalidEntryID = errors.New("invalid entry id")

	// ErrCorruptState is returned when a stored record cannot be decoded
	ErrCorruptState = errors.New("corrupt sync state")

	entryIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// Record is what is remembered about an entry after it was pushed
type Record struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	NoteID      string    `json:"note_id,omitempty"`
	Notebook    string    `json:"notebook,omitempty"`
	SyncedAt    time.Time `json:"synced_at"`
}

// StateStore persists one Record per entry id
type StateStore interface {
	// Load returns nil, nil when nothing is stored for id.
	Load(id string) (*Record, error)

	// Save replaces the record for rec.ID. A failed Save leaves the previous record intact.
	Save(rec *Record) error

	// ResetAll forgets every record.
	ResetAll() error

	// List returns all records sorted by id.
	List() ([]*Record, error)

	Close() error
}

// StateDir returns the state directory of a journal
func StateDir(journalRoot string) string {
	return filepath.Join(journalRoot, StateDirName)
}

// ValidateEntryID checks that id is usable as a file name and database key
func ValidateEntryID(id string) error {
	if !entryIDPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidEntryID, id)
	}
	return nil
}

// FileStateStore keeps each record in <journal>/.dayone2-to-evernote/.<id>.json
type FileStateStore struct {
	dir string
}

// NewFileStateStore opens the state directory of a journal, creating it if needed
func NewFileStateStore(journalRoot string) (*FileStateStore, error) {
	dir := StateDir(journalRoot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileStateStore{dir: dir}, nil
}

// Dir returns the directory records are written to
func (s *FileStateStore) Dir() string {
	return s.dir
}

func (s *FileStateStore) path(id string) string {
	return filepath.Join(s.dir, "."+id+".json")
}

func (s *FileStateStore) Load(id string) (*Record, error) {
	if err := ValidateEntryID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state for %s: %w", id, err)
	}

	rec := &Record{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, s.path(id), err)
	}
	if rec.ID == "" {
		rec.ID = id
	}
	return rec, nil
}

func (s *FileStateStore) Save(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	if err := ValidateEntryID(rec.ID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}

	if err := writeFileSync(s.path(rec.ID), data); err != nil {
		return fmt.Errorf("failed to save state for %s: %w", rec.ID, err)
	}
	return nil
}

func (s *FileStateStore) ResetAll() error {
	names, err := s.recordFiles()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	slog.Debug("sync state reset", "dir", s.dir, "records", len(names))
	return nil
}

func (s *FileStateStore) List() ([]*Record, error) {
	names, err := s.recordFiles()
	if err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(names))
	for _, name := range names {
		id := strings.TrimSuffix(strings.TrimPrefix(name, "."), ".json")
		rec, err := s.Load(id)
		if err != nil {
			slog.Warn("skipping unreadable state record", "file", name, "error", err)
			continue
		}
		if rec != nil {
			records = append(records, rec)
		}
	}
	sortRecords(records)
	return records, nil
}

func (s *FileStateStore) Close() error {
	return nil
}

// recordFiles lists the names of record files in the state directory
func (s *FileStateStore) recordFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, "."), ".json")
		if ValidateEntryID(id) != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// writeFileSync writes data to a temp file next to path, syncs it and renames it over path
func writeFileSync(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// MemoryStateStore keeps records in process memory
type MemoryStateStore struct {
	mu      sync.Mutex
	records map[string]Record
	saves   int
	saveErr error
}

// NewMemoryStateStore creates an empty store
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{records: make(map[string]Record)}
}

func (m *MemoryStateStore) Load(id string) (*Record, error) {
	if err := ValidateEntryID(id); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryStateStore) Save(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	if err := ValidateEntryID(rec.ID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records[rec.ID] = *rec
	return nil
}

func (m *MemoryStateStore) ResetAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]Record)
	return nil
}

func (m *MemoryStateStore) List() ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]*Record, 0, len(m.records))
	for _, rec := range m.records {
		rec := rec
		records = append(records, &rec)
	}
	sortRecords(records)
	return records, nil
}

func (m *MemoryStateStore) Close() error {
	return nil
}

// Saves returns the number of Save calls
func (m *MemoryStateStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// FailSaves makes every later Save return err. A nil err clears it.
func (m *MemoryStateStore) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

func sortRecords(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID < records[j].ID
	})
}

// OpenStateStore returns the backend named by backend ("file", "sqlite" or "memory")
func OpenStateStore(ctx context.Context, backend, journalRoot string) (StateStore, error) {
	switch backend {
	case "", "file":
		s, err := NewFileStateStore(journalRoot)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := NewSQLiteStateStore(ctx, journalRoot)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "memory":
		return NewMemoryStateStore(), nil
	default:
		return nil, fmt.Errorf("unknown state backend: %s", backend)
	}
}
