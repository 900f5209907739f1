package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// frontmatterRegex matches YAML frontmatter between --- delimiters
	frontmatterRegex = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n?`)

	// Date formats accepted when a note file was edited by hand
	dateFormats = []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
	}
)

// NoteFrontmatter is the metadata block written at the top of an exported note file
type NoteFrontmatter struct {
	ID          string     `yaml:"id"`
	Title       string     `yaml:"title"`
	Notebook    string     `yaml:"notebook,omitempty"`
	Tags        []string   `yaml:"tags,omitempty"`
	Created     *time.Time `yaml:"created,omitempty"`
	Latitude    *float64   `yaml:"latitude,omitempty"`
	Longitude   *float64   `yaml:"longitude,omitempty"`
	Attachments []string   `yaml:"attachments,omitempty"`
}

// flexibleTime handles various date formats
type flexibleTime struct {
	time.Time
}

func (ft *flexibleTime) UnmarshalYAML(value *yaml.Node) error {
	var str string
	if err := value.Decode(&str); err != nil {
		return err
	}

	str = strings.TrimSpace(str)
	if str == "" {
		return nil
	}

	for _, format := range dateFormats {
		if t, err := time.Parse(format, str); err == nil {
			ft.Time = t
			return nil
		}
	}

	return nil // Don't fail on unparseable dates, just leave empty
}

// rawFrontmatter tolerates the loose shapes a hand-edited file may have
type rawFrontmatter struct {
	ID          string       `yaml:"id"`
	Title       string       `yaml:"title"`
	Notebook    string       `yaml:"notebook"`
	Tags        interface{}  `yaml:"tags"` // Can be string or []string
	Created     flexibleTime `yaml:"created"`
	Latitude    *float64     `yaml:"latitude"`
	Longitude   *float64     `yaml:"longitude"`
	Attachments interface{}  `yaml:"attachments"`
}

// RenderNote writes the frontmatter block followed by the note body
func RenderNote(fm *NoteFrontmatter, body string) ([]byte, error) {
	header, err := yaml.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frontmatter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(header)
	buf.WriteString("---\n")
	buf.WriteString(body)
	return buf.Bytes(), nil
}

// ParseNote extracts the frontmatter and body of a note file
func ParseNote(content string) (*NoteFrontmatter, string, error) {
	fm := &NoteFrontmatter{}

	match := frontmatterRegex.FindStringSubmatch(content)
	if match == nil {
		return fm, content, nil
	}

	body := content[len(match[0]):]

	var raw rawFrontmatter
	if err := yaml.Unmarshal([]byte(match[1]), &raw); err != nil {
		return nil, "", fmt.Errorf("failed to parse frontmatter: %w", err)
	}

	fm.ID = raw.ID
	fm.Title = raw.Title
	fm.Notebook = raw.Notebook
	fm.Tags = normalizeStringArray(raw.Tags)
	fm.Attachments = normalizeStringArray(raw.Attachments)
	fm.Latitude = raw.Latitude
	fm.Longitude = raw.Longitude
	if !raw.Created.IsZero() {
		t := raw.Created.Time
		fm.Created = &t
	}

	return fm, body, nil
}

// normalizeStringArray converts string or []string or []interface{} to []string
func normalizeStringArray(v interface{}) []string {
	if v == nil {
		return nil
	}

	switch val := v.(type) {
	case string:
		if val == "" {
			return nil
		}
		return []string{val}
	case []string:
		return val
	case []interface{}:
		result := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	default:
		return nil
	}
}
