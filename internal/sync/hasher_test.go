package sync

import (
	"testing"
	"time"

	"github.com/reggiezhang/dayone2-to-evernote/internal/journal"
)

func TestHashContent(t *testing.T) {
	// Known SHA256 hash of "hello"
	expected := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if got := HashContent([]byte("hello")); got != expected {
		t.Errorf("HashContent(\"hello\") = %q, want %q", got, expected)
	}

	content := []byte("test content")
	hash1 := HashContent(content)
	hash2 := HashContent(content)

	// Same content should produce same hash
	if hash1 != hash2 {
		t.Errorf("same content produced different hashes: %q != %q", hash1, hash2)
	}

	// Different content should produce different hash
	different := HashContent([]byte("different content"))
	if hash1 == different {
		t.Error("different content should produce different hash")
	}

	// Hash should be 64 characters (SHA256 hex)
	if len(hash1) != 64 {
		t.Errorf("hash length should be 64, got %d", len(hash1))
	}
}

func fingerprintEntry() journal.Entry {
	return journal.Entry{
		UUID:         "E1",
		CreationDate: time.Date(2016, 5, 10, 3, 8, 7, 0, time.UTC),
		Text:         "Hello\nWorld",
		Tags:         []string{"travel", "food"},
		Location:     &journal.Location{Latitude: 31.2, Longitude: 121.4},
		Photos:       []journal.Photo{{MD5: "abc", Type: "jpeg"}},
		Extra:        map[string]any{"starred": true},
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	a, err := Fingerprint(fingerprintEntry())
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	b, err := Fingerprint(fingerprintEntry())
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	if a != b {
		t.Errorf("same entry produced different fingerprints: %q != %q", a, b)
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length should be 64, got %d", len(a))
	}
}

func TestFingerprint_TagOrderIgnored(t *testing.T) {
	e := fingerprintEntry()
	reordered := fingerprintEntry()
	reordered.Tags = []string{"food", "travel"}

	a, _ := Fingerprint(e)
	b, _ := Fingerprint(reordered)
	if a != b {
		t.Error("tag order should not change the fingerprint")
	}
	if e.Tags[0] != "travel" {
		t.Error("Fingerprint must not reorder the caller's tags")
	}
}

func TestFingerprint_DetectsChanges(t *testing.T) {
	base, _ := Fingerprint(fingerprintEntry())

	tests := []struct {
		name   string
		modify func(*journal.Entry)
	}{
		{"text", func(e *journal.Entry) { e.Text += "!" }},
		{"tag added", func(e *journal.Entry) { e.Tags = append(e.Tags, "new") }},
		{"tag removed", func(e *journal.Entry) { e.Tags = e.Tags[:1] }},
		{"creation date", func(e *journal.Entry) { e.CreationDate = e.CreationDate.Add(time.Second) }},
		{"location", func(e *journal.Entry) { e.Location.Latitude = 0 }},
		{"location removed", func(e *journal.Entry) { e.Location = nil }},
		{"photo", func(e *journal.Entry) { e.Photos[0].MD5 = "def" }},
		{"photo added", func(e *journal.Entry) { e.Photos = append(e.Photos, journal.Photo{MD5: "x", Type: "png"}) }},
		{"other attribute", func(e *journal.Entry) { e.Extra["starred"] = false }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := fingerprintEntry()
			tt.modify(&e)
			got, err := Fingerprint(e)
			if err != nil {
				t.Fatalf("Fingerprint failed: %v", err)
			}
			if got == base {
				t.Errorf("changing %s should change the fingerprint", tt.name)
			}
		})
	}
}

func TestFingerprint_TimeZoneIndependent(t *testing.T) {
	e := fingerprintEntry()
	shifted := fingerprintEntry()
	shifted.CreationDate = shifted.CreationDate.In(time.FixedZone("CST", 8*3600))

	a, _ := Fingerprint(e)
	b, _ := Fingerprint(shifted)
	if a != b {
		t.Error("the same instant in another zone should fingerprint the same")
	}
}
