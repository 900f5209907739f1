package parser

import (
	"strings"
	"testing"
	"time"
)

func TestRenderNote_RoundTrip(t *testing.T) {
	created := time.Date(2016, 5, 10, 3, 8, 7, 0, time.UTC)
	lat, lng := 31.2304, 121.4737
	fm := &NoteFrontmatter{
		ID:          "note-1",
		Title:       "Hello",
		Notebook:    "Trips/2024",
		Tags:        []string{"travel", "dayone"},
		Created:     &created,
		Latitude:    &lat,
		Longitude:   &lng,
		Attachments: []string{"note-1.assets/abc.jpeg"},
	}

	content, err := RenderNote(fm, "Hello\nWorld")
	if err != nil {
		t.Fatalf("RenderNote failed: %v", err)
	}
	if !strings.HasPrefix(string(content), "---\n") {
		t.Fatalf("rendered note has no frontmatter:\n%s", content)
	}

	parsed, body, err := ParseNote(string(content))
	if err != nil {
		t.Fatalf("ParseNote failed: %v", err)
	}

	if body != "Hello\nWorld" {
		t.Errorf("expected body %q, got %q", "Hello\nWorld", body)
	}
	if parsed.ID != "note-1" || parsed.Title != "Hello" {
		t.Errorf("unexpected id/title: %+v", parsed)
	}
	if parsed.Notebook != "Trips/2024" {
		t.Errorf("expected notebook %q, got %q", "Trips/2024", parsed.Notebook)
	}
	if len(parsed.Tags) != 2 || parsed.Tags[1] != "dayone" {
		t.Errorf("expected tags [travel dayone], got %v", parsed.Tags)
	}
	if parsed.Created == nil || !parsed.Created.Equal(created) {
		t.Errorf("expected created %v, got %v", created, parsed.Created)
	}
	if parsed.Latitude == nil || *parsed.Latitude != lat {
		t.Errorf("expected latitude %v, got %v", lat, parsed.Latitude)
	}
	if len(parsed.Attachments) != 1 {
		t.Errorf("expected one attachment, got %v", parsed.Attachments)
	}
}

func TestRenderNote_OmitsEmptyFields(t *testing.T) {
	content, err := RenderNote(&NoteFrontmatter{ID: "n", Title: "t"}, "")
	if err != nil {
		t.Fatalf("RenderNote failed: %v", err)
	}
	for _, key := range []string{"latitude", "longitude", "attachments", "created"} {
		if strings.Contains(string(content), key+":") {
			t.Errorf("expected %s to be omitted:\n%s", key, content)
		}
	}
}

func TestParseNote_HandEdited(t *testing.T) {
	content := `---
id: note-7
title: Edited
tags: single
created: 2016-05-10
---
Body
`

	fm, body, err := ParseNote(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fm.Tags) != 1 || fm.Tags[0] != "single" {
		t.Errorf("expected tags [single], got %v", fm.Tags)
	}
	if fm.Created == nil || fm.Created.Year() != 2016 {
		t.Errorf("expected created in 2016, got %v", fm.Created)
	}
	if body != "Body\n" {
		t.Errorf("expected body %q, got %q", "Body\n", body)
	}
}

func TestParseNote_NoFrontmatter(t *testing.T) {
	content := "Just some content without frontmatter."

	fm, body, err := ParseNote(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fm.ID != "" {
		t.Errorf("expected empty id, got %q", fm.ID)
	}
	if body != content {
		t.Errorf("expected body to be full content")
	}
}

func TestParseNote_InvalidYAML(t *testing.T) {
	content := "---\ntitle: [unclosed\n---\nbody"

	if _, _, err := ParseNote(content); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestNormalizeStringArray(t *testing.T) {
	tests := []struct {
		input    interface{}
		expected int
	}{
		{nil, 0},
		{"", 0},
		{"single", 1},
		{[]string{"a", "b"}, 2},
		{[]interface{}{"a", "b", "c"}, 3},
		{[]interface{}{"a", 123, "c"}, 2}, // Non-strings filtered
		{123, 0},                          // Invalid type
	}

	for _, tt := range tests {
		result := normalizeStringArray(tt.input)
		if len(result) != tt.expected {
			t.Errorf("normalizeStringArray(%v) = %v (len %d), want len %d", tt.input, result, len(result), tt.expected)
		}
	}
}
