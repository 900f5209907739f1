package parser

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	// placeholderParagraphRegex matches an inline image placeholder followed by a blank line
	placeholderParagraphRegex = regexp.MustCompile(`!\[\].*\)\n\n`)

	// placeholderRegex matches any remaining ![](...) placeholder
	placeholderRegex = regexp.MustCompile(`!\[\].*\)`)

	// ISO 8601 layouts accepted for timestamps given on the command line
	timestampFormats = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05Z0700",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04Z07:00",
		"2006-01-02T15:04",
		"2006-01-02",
	}
)

// StripImagePlaceholders removes the ![](...) markers Day One leaves where photos were inlined
func StripImagePlaceholders(text string) string {
	text = placeholderParagraphRegex.ReplaceAllString(text, "")
	return placeholderRegex.ReplaceAllString(text, "")
}

// Title returns the first line of text without surrounding whitespace, so a CRLF
// export yields no trailing carriage return.
func Title(text string) string {
	if text == "" {
		return ""
	}
	line, _, _ := strings.Cut(text, "\n")
	return strings.TrimSpace(line)
}

// MergeTags returns tags followed by extra, dropping blanks and case-insensitive duplicates.
// The first spelling of a tag wins. Neither input slice is modified.
func MergeTags(tags []string, extra ...string) []string {
	seen := make(map[string]bool, len(tags)+len(extra))
	merged := make([]string, 0, len(tags)+len(extra))

	add := func(tag string) {
		tag = strings.TrimSpace(tag)
		key := strings.ToLower(tag)
		if tag == "" || seen[key] {
			return
		}
		seen[key] = true
		merged = append(merged, tag)
	}

	for _, tag := range tags {
		add(tag)
	}
	for _, tag := range extra {
		add(tag)
	}
	return merged
}

// ParseTimestamp parses an ISO 8601 timestamp. Values without a zone are read in local time.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	for _, format := range timestampFormats {
		if t, err := time.ParseInLocation(format, value, time.Local); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid ISO 8601 timestamp %q (e.g. 2016-05-10T03:08:07+08:00)", value)
}
