package notestore

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresOptions tunes the PostgreSQL driver
type PostgresOptions struct {
	Schema      string
	MaxConns    int32
	MinConns    int32
	AutoMigrate bool
}

// PostgresStore keeps notebooks, notes and attachment bytes in PostgreSQL
type PostgresStore struct {
	Pool   *pgxpool.Pool
	schema string
}

// Status summarizes the contents of the store
type Status struct {
	Notebooks    int
	Notes        int
	Attachments  int
	LastSyncTime *time.Time
}

// OpenPostgres creates a connection pool and optionally runs pending migrations
func OpenPostgres(ctx context.Context, dsn string, opts PostgresOptions) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	poolConfig.MaxConns = 10
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = opts.MaxConns
	}
	poolConfig.MinConns = 2
	if opts.MinConns > 0 && opts.MinConns <= poolConfig.MaxConns {
		poolConfig.MinConns = opts.MinConns
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute
	if opts.Schema != "" {
		poolConfig.ConnConfig.RuntimeParams["search_path"] = opts.Schema
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("connected to database",
		"host", poolConfig.ConnConfig.Host,
		"database", poolConfig.ConnConfig.Database,
		"schema", opts.Schema)

	s := &PostgresStore{Pool: pool, schema: opts.Schema}

	if opts.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return s, nil
}

// Close closes the database connection pool
func (s *PostgresStore) Close() error {
	if s.Pool != nil {
		s.Pool.Close()
		slog.Debug("database connection closed")
	}
	return nil
}

// EnsureSchema creates the schema if it doesn't exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s.schema == "" {
		return nil
	}

	ident := pgx.Identifier{s.schema}.Sanitize()
	if _, err := s.Pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+ident); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", s.schema, err)
	}
	return nil
}

// Migrate applies the embedded migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if err := s.EnsureSchema(ctx); err != nil {
		return err
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if s.schema != "" {
		goose.SetTableName(s.schema + ".goose_db_version")
	}

	stdDB := stdlib.OpenDBFromPool(s.Pool)
	defer stdDB.Close()

	if err := goose.UpContext(ctx, stdDB, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	slog.Info("migrations completed successfully", "schema", s.schema)
	return nil
}

func (s *PostgresStore) CreateNotebook(ctx context.Context, name string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO notebooks (id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`, uuid.NewString(), name)
	if err != nil {
		return fmt.Errorf("failed to create notebook %q: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) CreateNote(ctx context.Context, note *Note) (string, error) {
	if note == nil {
		return "", fmt.Errorf("note is nil")
	}

	// Read attachments before opening the transaction
	attachments := make([]attachment, 0, len(note.Attachments))
	for _, path := range note.Attachments {
		att, err := readAttachment(path)
		if err != nil {
			return "", err
		}
		attachments = append(attachments, att)
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var notebookID string
	err = tx.QueryRow(ctx, `
		INSERT INTO notebooks (id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id::text
	`, uuid.NewString(), note.Notebook).Scan(&notebookID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve notebook %q: %w", note.Notebook, err)
	}

	var created *time.Time
	if !note.Created.IsZero() {
		c := note.Created
		created = &c
	}
	tags := note.Tags
	if tags == nil {
		tags = []string{}
	}

	id := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO notes (
			id, notebook_id, title, body, tags, created_at, latitude, longitude
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`,
		id, notebookID, note.Title, note.Body, tags, created,
		note.Latitude, note.Longitude,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert note: %w", err)
	}

	for i, att := range attachments {
		_, err = tx.Exec(ctx, `
			INSERT INTO note_attachments (
				id, note_id, position, filename, mime_type, file_size_bytes,
				content_hash, data
			) VALUES (
				$1, $2, $3, $4, $5, $6, $7, $8
			)
		`,
			uuid.NewString(), id, i, att.Filename, att.MimeType,
			int64(len(att.Data)), att.ContentHash, att.Data,
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert attachment %s: %w", att.Filename, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit note: %w", err)
	}

	return id, nil
}

func (s *PostgresStore) DeleteNote(ctx context.Context, id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", ErrNoteNotFound
	}

	var notebook string
	err := s.Pool.QueryRow(ctx, `
		DELETE FROM notes n
		USING notebooks b
		WHERE n.id = $1 AND b.id = n.notebook_id
		RETURNING b.name
	`, id).Scan(&notebook)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoteNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to delete note: %w", err)
	}
	return notebook, nil
}

func (s *PostgresStore) NoteExists(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	var exists bool
	err := s.Pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM notes WHERE id = $1)", id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check note: %w", err)
	}
	return exists, nil
}

// GetStatus returns counts of stored objects and the last sync time
func (s *PostgresStore) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{}

	err := s.Pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM notebooks),
			(SELECT COUNT(*) FROM notes),
			(SELECT COUNT(*) FROM note_attachments),
			(SELECT MAX(synced_at) FROM notes)
	`).Scan(&status.Notebooks, &status.Notes, &status.Attachments, &status.LastSyncTime)
	if err != nil {
		return nil, fmt.Errorf("failed to get status: %w", err)
	}

	return status, nil
}

type attachment struct {
	Filename    string
	MimeType    string
	ContentHash string
	Data        []byte
}

func readAttachment(path string) (attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return attachment{}, fmt.Errorf("failed to read attachment: %w", err)
	}
	sum := sha256.Sum256(data)
	return attachment{
		Filename:    filepath.Base(path),
		MimeType:    mimetype.Detect(data).String(),
		ContentHash: hex.EncodeToString(sum[:]),
		Data:        data,
	}, nil
}
