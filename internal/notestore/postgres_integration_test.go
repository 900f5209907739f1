package notestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("DO2EN_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DO2EN_TEST_POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := fmt.Sprintf("do2en_test_%d", time.Now().UnixNano())
	s, err := OpenPostgres(ctx, dsn, PostgresOptions{Schema: schema, MaxConns: 2, MinConns: 1, AutoMigrate: true})
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = s.Pool.Exec(context.Background(), "DROP SCHEMA IF EXISTS "+schema+" CASCADE")
		_ = s.Close()
	})
	return s
}

func TestPostgresStore_Integration(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()

	photo := filepath.Join(t.TempDir(), "p.png")
	require.NoError(t, os.WriteFile(photo, []byte("\x89PNG\r\n\x1a\n"), 0o644))

	require.NoError(t, s.CreateNotebook(ctx, "nb"))
	require.NoError(t, s.CreateNotebook(ctx, "nb"))

	lat, lng := 1.0, 2.0
	id, err := s.CreateNote(ctx, &Note{
		Title:       "t",
		Body:        "t\nbody",
		Notebook:    "nb",
		Tags:        []string{"dayone"},
		Created:     time.Now(),
		Latitude:    &lat,
		Longitude:   &lng,
		Attachments: []string{photo},
	})
	require.NoError(t, err)

	exists, err := s.NoteExists(ctx, id)
	require.NoError(t, err)
	assert.True(t, exists)

	status, err := s.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Notebooks)
	assert.Equal(t, 1, status.Notes)
	assert.Equal(t, 1, status.Attachments)

	var mime string
	require.NoError(t, s.Pool.QueryRow(ctx, "SELECT mime_type FROM note_attachments WHERE note_id = $1", id).Scan(&mime))
	assert.Equal(t, "image/png", mime)

	nb, err := s.DeleteNote(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "nb", nb)

	_, err = s.DeleteNote(ctx, id)
	assert.ErrorIs(t, err, ErrNoteNotFound)

	exists, err = s.NoteExists(ctx, "not-a-uuid")
	require.NoError(t, err)
	assert.False(t, exists)
}
