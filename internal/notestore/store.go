// Package notestore holds the drivers for the notebooks that journal entries are pushed to.
package notestore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// ErrNoteNotFound is returned when a note id does not refer to a live note
var ErrNoteNotFound = errors.New("note not found")

// Note is the payload created for one journal entry
type Note struct {
	Title       string
	Body        string
	Notebook    string
	Tags        []string
	Created     time.Time
	Latitude    *float64
	Longitude   *float64
	Attachments []string // absolute file paths
}

// Store is a remote note store
type Store interface {
	// CreateNotebook makes sure a notebook with the given name exists.
	CreateNotebook(ctx context.Context, name string) error

	// CreateNote stores a new note and returns its id.
	CreateNote(ctx context.Context, note *Note) (string, error)

	// DeleteNote removes a note and returns the name of the notebook it was in,
	// which may differ from where it was created if it was moved remotely.
	DeleteNote(ctx context.Context, id string) (string, error)

	// NoteExists reports whether the note is still present.
	NoteExists(ctx context.Context, id string) (bool, error)

	Close() error
}

// Options carries the settings drivers may need besides the DSN
type Options struct {
	Token       string
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	PostgresDSN string // used when the DSN is the bare word "postgres"
	Postgres    PostgresOptions
}

// Open returns the driver selected by the DSN scheme:
//
//	file:///path or /path       markdown directory
//	postgres://...              PostgreSQL
//	http(s)://host              HTTP note service
//	memory://                   in-memory (nothing persisted)
func Open(ctx context.Context, dsn string, opts Options) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("note store DSN is empty")
	}

	if dsn == "postgres" || dsn == "postgresql" {
		if opts.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres store selected but no database is configured")
		}
		dsn = opts.PostgresDSN
	}

	parsed, err := url.Parse(dsn)
	if err != nil || parsed.Scheme == "" || filepath.VolumeName(dsn) != "" {
		// Plain filesystem path
		return openMarkdown(dsn)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "file":
		path := parsed.Path
		if parsed.Host != "" {
			path = filepath.Join(parsed.Host, parsed.Path)
		}
		return openMarkdown(path)
	case "postgres", "postgresql":
		store, err := OpenPostgres(ctx, dsn, opts.Postgres)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "http", "https":
		return NewHTTPStore(HTTPOptions{
			BaseURL:    dsn,
			Token:      opts.Token,
			Timeout:    opts.Timeout,
			MaxRetries: opts.MaxRetries,
			BaseDelay:  opts.RetryDelay,
		}), nil
	case "memory", "mem":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported note store scheme: %s", parsed.Scheme)
	}
}

func openMarkdown(dir string) (Store, error) {
	store, err := NewMarkdownStore(dir)
	if err != nil {
		return nil, err
	}
	return store, nil
}
