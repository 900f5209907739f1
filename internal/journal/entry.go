package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Entry is a single Day One journal entry.
//
// Attributes the loader does not interpret (weather, device, time zone, ...) are
// kept in Extra so that a round trip through JSON reproduces the whole record.
type Entry struct {
	UUID         string
	CreationDate time.Time
	Text         string
	Tags         []string
	Location     *Location
	Photos       []Photo
	Extra        map[string]any
}

// Location is the geotag of an entry
type Location struct {
	Latitude  float64
	Longitude float64
	Extra     map[string]any
}

// Photo describes an attachment stored under the journal's photos directory
type Photo struct {
	MD5   string
	Type  string
	Extra map[string]any
}

var (
	entryFields    = []string{"uuid", "creationDate", "text", "tags", "location", "photos"}
	locationFields = []string{"latitude", "longitude"}
	photoFields    = []string{"md5", "type"}
)

func (e *Entry) UnmarshalJSON(data []byte) error {
	var known struct {
		UUID         string    `json:"uuid"`
		CreationDate time.Time `json:"creationDate"`
		Text         string    `json:"text"`
		Tags         []string  `json:"tags"`
		Location     *Location `json:"location"`
		Photos       []Photo   `json:"photos"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}

	extra, err := extraFields(data, entryFields)
	if err != nil {
		return err
	}

	*e = Entry{
		UUID:         known.UUID,
		CreationDate: known.CreationDate,
		Text:         known.Text,
		Tags:         known.Tags,
		Location:     known.Location,
		Photos:       known.Photos,
		Extra:        extra,
	}
	return nil
}

func (e Entry) MarshalJSON() ([]byte, error) {
	out := merge(e.Extra)
	out["uuid"] = e.UUID
	out["creationDate"] = e.CreationDate.UTC().Format(time.RFC3339Nano)
	out["text"] = e.Text
	if e.Tags == nil {
		out["tags"] = []string{}
	} else {
		out["tags"] = e.Tags
	}
	if e.Location != nil {
		out["location"] = e.Location
	}
	if len(e.Photos) > 0 {
		out["photos"] = e.Photos
	}
	return json.Marshal(out)
}

func (l *Location) UnmarshalJSON(data []byte) error {
	var known struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	extra, err := extraFields(data, locationFields)
	if err != nil {
		return err
	}
	*l = Location{Latitude: known.Latitude, Longitude: known.Longitude, Extra: extra}
	return nil
}

func (l Location) MarshalJSON() ([]byte, error) {
	out := merge(l.Extra)
	out["latitude"] = l.Latitude
	out["longitude"] = l.Longitude
	return json.Marshal(out)
}

func (p *Photo) UnmarshalJSON(data []byte) error {
	var known struct {
		MD5  string `json:"md5"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	extra, err := extraFields(data, photoFields)
	if err != nil {
		return err
	}
	*p = Photo{MD5: known.MD5, Type: known.Type, Extra: extra}
	return nil
}

func (p Photo) MarshalJSON() ([]byte, error) {
	out := merge(p.Extra)
	out["md5"] = p.MD5
	out["type"] = p.Type
	return json.Marshal(out)
}

// extraFields returns every attribute of the JSON object that is not listed in known.
// Numbers are kept as json.Number so they re-encode byte for byte.
func extraFields(data []byte, known []string) (map[string]any, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(raw, k)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	extra := make(map[string]any, len(raw))
	for k, v := range raw {
		dec := json.NewDecoder(bytes.NewReader(v))
		dec.UseNumber()
		var value any
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("failed to decode field %q: %w", k, err)
		}
		extra[k] = value
	}
	return extra, nil
}

func merge(extra map[string]any) map[string]any {
	out := make(map[string]any, len(extra)+6)
	for k, v := range extra {
		out[k] = v
	}
	return out
}
