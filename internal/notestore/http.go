package notestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type HTTPOptions struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
	UserAgent  string

	// MaxRetries is the number of extra attempts after a retryable failure. Zero disables retries.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// HTTPStore talks to a note service over a small JSON API:
//
//	POST   /v1/notebooks       {"name": ...}
//	POST   /v1/notes           multipart: "note" JSON part + "attachment" file parts -> {"id": ...}
//	GET    /v1/notes/{id}      200 or 404
//	DELETE /v1/notes/{id}      200 {"notebook": ...} or 404
type HTTPStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("note service returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("note service returned %d: %s", e.StatusCode, e.Message)
}

type httpNotePayload struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Notebook  string    `json:"notebook"`
	Tags      []string  `json:"tags"`
	Created   time.Time `json:"created"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
}

func NewHTTPStore(opts HTTPOptions) *HTTPStore {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "dayone2-to-evernote"
	}
	return &HTTPStore{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		userAgent:  userAgent,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

func (s *HTTPStore) CreateNotebook(ctx context.Context, name string) error {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return err
	}
	status, respBody, err := s.do(ctx, http.MethodPost, "/v1/notebooks", "application/json", body, true)
	if err != nil {
		return fmt.Errorf("failed to create notebook %q: %w", name, err)
	}
	if status == http.StatusConflict || isSuccess(status) {
		return nil
	}
	return fmt.Errorf("failed to create notebook %q: %w", name, parseHTTPError(status, respBody))
}

func (s *HTTPStore) CreateNote(ctx context.Context, note *Note) (string, error) {
	if note == nil {
		return "", fmt.Errorf("note is nil")
	}

	body, contentType, err := encodeNote(note)
	if err != nil {
		return "", err
	}

	// A create that may have reached the service is never resent
	status, respBody, err := s.do(ctx, http.MethodPost, "/v1/notes", contentType, body, false)
	if err != nil {
		return "", fmt.Errorf("failed to create note: %w", err)
	}
	if !isSuccess(status) {
		return "", fmt.Errorf("failed to create note: %w", parseHTTPError(status, respBody))
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return "", fmt.Errorf("failed to decode create response: %w", err)
	}
	if strings.TrimSpace(created.ID) == "" {
		return "", fmt.Errorf("note service returned an empty note id")
	}
	return created.ID, nil
}

func (s *HTTPStore) DeleteNote(ctx context.Context, id string) (string, error) {
	status, respBody, err := s.do(ctx, http.MethodDelete, notePath(id), "", nil, true)
	if err != nil {
		return "", fmt.Errorf("failed to delete note: %w", err)
	}
	if status == http.StatusNotFound {
		return "", ErrNoteNotFound
	}
	if !isSuccess(status) {
		return "", fmt.Errorf("failed to delete note: %w", parseHTTPError(status, respBody))
	}

	var deleted struct {
		Notebook string `json:"notebook"`
	}
	if len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, &deleted); err != nil {
			return "", fmt.Errorf("failed to decode delete response: %w", err)
		}
	}
	return deleted.Notebook, nil
}

func (s *HTTPStore) NoteExists(ctx context.Context, id string) (bool, error) {
	status, respBody, err := s.do(ctx, http.MethodGet, notePath(id), "", nil, true)
	if err != nil {
		return false, fmt.Errorf("failed to look up note: %w", err)
	}
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return false, nil
	case isSuccess(status):
		return true, nil
	default:
		return false, fmt.Errorf("failed to look up note: %w", parseHTTPError(status, respBody))
	}
}

func (s *HTTPStore) Close() error {
	s.httpClient.CloseIdleConnections()
	return nil
}

// do sends a request, retrying 429 responses. Idempotent requests are also
// retried after network errors and 5xx responses, which leave it unknown whether
// the service acted on the request. Any other status is returned to the caller.
func (s *HTTPStore) do(ctx context.Context, method, path, contentType string, body []byte, idempotent bool) (int, []byte, error) {
	if s.baseURL == "" {
		return 0, nil, fmt.Errorf("note service URL is empty")
	}
	endpoint := s.baseURL + path

	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return 0, nil, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", s.userAgent)
		if s.token != "" {
			req.Header.Set("Authorization", "Bearer "+s.token)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			if idempotent && attempt < s.maxRetries && ctx.Err() == nil {
				if waitErr := sleepContext(ctx, s.retryDelay(attempt+1, "")); waitErr != nil {
					return 0, nil, waitErr
				}
				continue
			}
			return 0, nil, err
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return 0, nil, readErr
		}

		retryable := resp.StatusCode == http.StatusTooManyRequests || (idempotent && resp.StatusCode >= 500)
		if retryable && attempt < s.maxRetries {
			if waitErr := sleepContext(ctx, s.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return 0, nil, waitErr
			}
			continue
		}

		return resp.StatusCode, respBody, nil
	}
}

func (s *HTTPStore) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > s.maxDelay {
			return s.maxDelay
		}
		return retryAfter
	}
	delay := s.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= s.maxDelay {
			return s.maxDelay
		}
	}
	return delay
}

func encodeNote(note *Note) ([]byte, string, error) {
	tags := note.Tags
	if tags == nil {
		tags = []string{}
	}
	meta, err := json.Marshal(httpNotePayload{
		Title:     note.Title,
		Body:      note.Body,
		Notebook:  note.Notebook,
		Tags:      tags,
		Created:   note.Created,
		Latitude:  note.Latitude,
		Longitude: note.Longitude,
	})
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormField("note")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(meta); err != nil {
		return nil, "", err
	}

	for _, path := range note.Attachments {
		if err := writeAttachmentPart(mw, path); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func writeAttachmentPart(mw *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open attachment: %w", err)
	}
	defer f.Close()

	part, err := mw.CreateFormFile("attachment", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("failed to read attachment %s: %w", path, err)
	}
	return nil
}

func notePath(id string) string {
	return "/v1/notes/" + url.PathEscape(id)
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 299
}

func parseHTTPError(status int, body []byte) error {
	herr := &HTTPError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	var parsed map[string]any
	if json.Unmarshal(body, &parsed) == nil {
		if code, ok := parsed["code"].(string); ok {
			herr.Code = code
		}
		if message, ok := parsed["message"].(string); ok && strings.TrimSpace(message) != "" {
			herr.Message = message
		}
	}
	return herr
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
