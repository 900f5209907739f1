package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/reggiezhang/dayone2-to-evernote/internal/journal"
)

// Fingerprint returns the SHA256 of the canonical JSON form of the whole entry.
// Object keys are sorted and tags are compared as a set, so reordering tags
// or attributes in the export does not change the digest.
func Fingerprint(entry journal.Entry) (string, error) {
	if len(entry.Tags) > 1 {
		tags := append([]string(nil), entry.Tags...)
		sort.Strings(tags)
		entry.Tags = tags
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return "", fmt.Errorf("failed to serialize entry %s: %w", entry.UUID, err)
	}
	return HashContent(data), nil
}

// HashContent computes SHA256 hash of content bytes
func HashContent(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}
