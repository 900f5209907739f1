// Package journal reads Day One JSON exports.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// SupportedVersion is the only export metadata version the loader accepts
const SupportedVersion = "1.0"

// DefaultFile is the export file name inside the journal directory
const DefaultFile = "Journal.json"

// ErrUnsupportedVersion is returned for exports with an unknown metadata version
var ErrUnsupportedVersion = errors.New("unsupported journal version")

type export struct {
	Metadata struct {
		Version string `json:"version"`
	} `json:"metadata"`
	Entries []Entry `json:"entries"`
}

// Load reads the export file under root and returns its entries in file order.
// When after is set, only entries created strictly after it are returned.
func Load(root, file string, after *time.Time) ([]Entry, error) {
	if file == "" {
		file = DefaultFile
	}
	path := filepath.Join(root, file)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	var exp export
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("failed to parse journal %s: %w", path, err)
	}

	if exp.Metadata.Version != SupportedVersion {
		return nil, fmt.Errorf("%w: %q (expected %s)", ErrUnsupportedVersion, exp.Metadata.Version, SupportedVersion)
	}

	seen := make(map[string]bool, len(exp.Entries))
	entries := make([]Entry, 0, len(exp.Entries))
	for _, entry := range exp.Entries {
		if seen[entry.UUID] {
			slog.Warn("duplicate entry id, keeping first occurrence", "entry", entry.UUID)
			continue
		}
		seen[entry.UUID] = true

		if after != nil && !entry.CreationDate.After(*after) {
			continue
		}
		entries = append(entries, entry)
	}

	slog.Debug("journal loaded",
		"path", path,
		"total", len(exp.Entries),
		"selected", len(entries))

	return entries, nil
}

// PhotosDir returns the directory holding the journal's photo files
func PhotosDir(root string) string {
	return filepath.Join(root, "photos")
}

// PhotoPath returns the file path of a photo attachment
func PhotoPath(root string, p Photo) string {
	return filepath.Join(PhotosDir(root), p.MD5+"."+p.Type)
}
