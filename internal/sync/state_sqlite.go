package sync

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStateFile is the database file name inside the state directory
const SQLiteStateFile = "state.db"

// localJournal keys the rows of the journal whose state directory holds the database
const localJournal = "local"

// SQLiteStateStore keeps records in a SQLite database inside the journal's state directory.
type SQLiteStateStore struct {
	db      *sql.DB
	journal string
}

// NewSQLiteStateStore opens (creating and migrating if needed) the state database of a journal
func NewSQLiteStateStore(ctx context.Context, journalRoot string) (*SQLiteStateStore, error) {
	abs, err := filepath.Abs(journalRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve journal path: %w", err)
	}
	dir := StateDir(abs)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := openSQLite(filepath.Join(dir, SQLiteStateFile))
	if err != nil {
		return nil, err
	}

	if err := migrateSQLite(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStateStore{db: db, journal: localJournal}, nil
}

func openSQLite(path string) (*sql.DB, error) {
	dsn := "file:" + path + "?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open state database %s: %w", path, err)
	}
	return db, nil
}

func migrateSQLite(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate state database: %w", err)
	}
	for _, r := range results {
		slog.Debug("state migration applied", "version", r.Source.Version)
	}
	return nil
}

func (s *SQLiteStateStore) Load(id string) (*Record, error) {
	if err := ValidateEntryID(id); err != nil {
		return nil, err
	}

	rec := &Record{ID: id}
	err := s.db.QueryRow(`
		SELECT fingerprint, note_id, notebook, synced_at
		FROM sync_state
		WHERE journal = ? AND entry_id = ?
	`, s.journal, id).Scan(&rec.Fingerprint, &rec.NoteID, &rec.Notebook, &rec.SyncedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state for %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLiteStateStore) Save(rec *Record) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}
	if err := ValidateEntryID(rec.ID); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		INSERT INTO sync_state (journal, entry_id, fingerprint, note_id, notebook, synced_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (journal, entry_id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			note_id = excluded.note_id,
			notebook = excluded.notebook,
			synced_at = excluded.synced_at
	`, s.journal, rec.ID, rec.Fingerprint, rec.NoteID, rec.Notebook, rec.SyncedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save state for %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLiteStateStore) ResetAll() error {
	if _, err := s.db.Exec("DELETE FROM sync_state WHERE journal = ?", s.journal); err != nil {
		return fmt.Errorf("failed to reset state: %w", err)
	}
	return nil
}

func (s *SQLiteStateStore) List() ([]*Record, error) {
	rows, err := s.db.Query(`
		SELECT entry_id, fingerprint, note_id, notebook, synced_at
		FROM sync_state
		WHERE journal = ?
		ORDER BY entry_id
	`, s.journal)
	if err != nil {
		return nil, fmt.Errorf("failed to list state: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := &Record{}
		if err := rows.Scan(&rec.ID, &rec.Fingerprint, &rec.NoteID, &rec.Notebook, &rec.SyncedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStateStore) Close() error {
	return s.db.Close()
}
