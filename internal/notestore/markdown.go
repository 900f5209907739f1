package notestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/reggiezhang/dayone2-to-evernote/internal/parser"
)

// MarkdownStore writes each notebook as a directory of markdown files with YAML frontmatter.
// A note file moved to another notebook directory or renamed is still found by the id
// in its frontmatter.
type MarkdownStore struct {
	root string
}

// NewMarkdownStore opens (creating if needed) a markdown store rooted at dir
func NewMarkdownStore(dir string) (*MarkdownStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("markdown store directory is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve store directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &MarkdownStore{root: abs}, nil
}

// Root returns the store directory
func (s *MarkdownStore) Root() string {
	return s.root
}

func (s *MarkdownStore) CreateNotebook(ctx context.Context, name string) error {
	dir := filepath.Join(s.root, filepath.FromSlash(NotebookDir(name)))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create notebook %q: %w", name, err)
	}
	return nil
}

func (s *MarkdownStore) CreateNote(ctx context.Context, note *Note) (string, error) {
	if note == nil {
		return "", fmt.Errorf("note is nil")
	}

	id := uuid.NewString()
	dir := filepath.Join(s.root, filepath.FromSlash(NotebookDir(note.Notebook)))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create notebook directory: %w", err)
	}

	var attachments []string
	if len(note.Attachments) > 0 {
		assets := id + ".assets"
		if err := os.MkdirAll(filepath.Join(dir, assets), 0755); err != nil {
			return "", fmt.Errorf("failed to create attachment directory: %w", err)
		}
		for _, src := range note.Attachments {
			name := filepath.Base(src)
			if err := copyFile(src, filepath.Join(dir, assets, name)); err != nil {
				_ = os.RemoveAll(filepath.Join(dir, assets))
				return "", fmt.Errorf("failed to copy attachment %s: %w", src, err)
			}
			attachments = append(attachments, path.Join(assets, name))
		}
	}

	fm := &parser.NoteFrontmatter{
		ID:          id,
		Title:       note.Title,
		Notebook:    note.Notebook,
		Tags:        note.Tags,
		Latitude:    note.Latitude,
		Longitude:   note.Longitude,
		Attachments: attachments,
	}
	if !note.Created.IsZero() {
		created := note.Created.UTC()
		fm.Created = &created
	}

	content, err := parser.RenderNote(fm, note.Body)
	if err != nil {
		return "", err
	}

	if err := writeFileAtomic(filepath.Join(dir, id+".md"), content); err != nil {
		_ = os.RemoveAll(filepath.Join(dir, id+".assets"))
		return "", fmt.Errorf("failed to write note: %w", err)
	}

	slog.Debug("note written", "id", id, "notebook", note.Notebook)
	return id, nil
}

// DeleteNote removes the note file and its attachments. The notebook reported is the
// one recorded in the note while the file stays in that notebook's directory, otherwise
// the directory the file was moved to.
func (s *MarkdownStore) DeleteNote(ctx context.Context, id string) (string, error) {
	rel, fm, err := s.find(id)
	if err != nil {
		return "", err
	}

	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	if err := os.Remove(abs); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoteNotFound
		}
		return "", fmt.Errorf("failed to delete note: %w", err)
	}
	if err := os.RemoveAll(filepath.Join(filepath.Dir(abs), id+".assets")); err != nil {
		slog.Warn("failed to remove note attachments", "id", id, "error", err)
	}

	dir := path.Dir(rel)
	if dir == "." {
		dir = ""
	}
	if fm.Notebook != "" && NotebookDir(fm.Notebook) == dir {
		return fm.Notebook, nil
	}
	return dir, nil
}

func (s *MarkdownStore) NoteExists(ctx context.Context, id string) (bool, error) {
	_, _, err := s.find(id)
	if errors.Is(err, ErrNoteNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *MarkdownStore) Close() error {
	return nil
}

// find returns the slash-separated path of a note file relative to the root and its
// frontmatter. Files named after the id are checked first; when none carries the id,
// every note file is searched so a renamed file is still found.
func (s *MarkdownStore) find(id string) (string, *parser.NoteFrontmatter, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", nil, ErrNoteNotFound
	}

	fsys := os.DirFS(s.root)
	named, err := doublestar.Glob(fsys, "**/"+id+".md")
	if err != nil {
		return "", nil, fmt.Errorf("failed to search for note %s: %w", id, err)
	}
	if rel, fm, ok := s.match(named, id, nil); ok {
		return rel, fm, nil
	}

	all, err := doublestar.Glob(fsys, "**/*.md")
	if err != nil {
		return "", nil, fmt.Errorf("failed to search for note %s: %w", id, err)
	}
	if rel, fm, ok := s.match(all, id, named); ok {
		return rel, fm, nil
	}
	return "", nil, ErrNoteNotFound
}

// match returns the first of paths whose frontmatter carries id, skipping those in seen
func (s *MarkdownStore) match(paths []string, id string, seen []string) (string, *parser.NoteFrontmatter, bool) {
	for _, rel := range paths {
		if slices.Contains(seen, rel) {
			continue
		}
		content, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(rel)))
		if err != nil {
			slog.Warn("failed to read note file", "path", rel, "error", err)
			continue
		}
		fm, _, err := parser.ParseNote(string(content))
		if err != nil {
			slog.Debug("skipping note file with unreadable frontmatter", "path", rel, "error", err)
			continue
		}
		if fm.ID == id {
			return rel, fm, true
		}
	}
	return "", nil, false
}

// NotebookDir maps a notebook name to a slash-separated directory path below the store root.
// "/" nests directories; empty, "." and ".." segments are dropped and a leading dot becomes "_".
func NotebookDir(name string) string {
	var parts []string
	for _, seg := range strings.Split(strings.ReplaceAll(name, "\\", "/"), "/") {
		seg = strings.TrimSpace(seg)
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		if strings.HasPrefix(seg, ".") {
			seg = "_" + seg[1:]
		}
		parts = append(parts, seg)
	}
	if len(parts) == 0 {
		return "Default"
	}
	return strings.Join(parts, "/")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
