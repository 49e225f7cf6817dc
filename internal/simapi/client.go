package simapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/banshee-data/particleview/internal/httputil"
)

// maxErrorBody bounds how much of a failed response is kept in StatusError.
const maxErrorBody = 512

// StatusError reports a non-2xx answer from the backend.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: backend returned %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: backend returned %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Client talks to the simulation backend. It never retries: a failed call is
// reported once and the caller decides whether the next poll tick will do.
type Client struct {
	http httputil.HTTPClient
	base *url.URL
}

// NewClient creates a client for the backend rooted at baseURL
// (e.g. "http://localhost:5000"); API paths are appended under /api.
func NewClient(baseURL string, hc httputil.HTTPClient) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend url %q: scheme must be http or https", baseURL)
	}
	if hc == nil {
		return nil, fmt.Errorf("http client is required")
	}
	return &Client{http: hc, base: u}, nil
}

// BaseURL returns the backend root the client was built with.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// ListParticles fetches the current particle set. historyResolution > 0
// asks the backend to include trail history at that resolution.
func (c *Client) ListParticles(ctx context.Context, historyResolution int) ([]Particle, error) {
	q := url.Values{}
	if historyResolution > 0 {
		q.Set("history_resolution", strconv.Itoa(historyResolution))
	}
	var particles []Particle
	if err := c.do(ctx, http.MethodGet, "/api/particles", q, nil, &particles); err != nil {
		return nil, err
	}
	return particles, nil
}

// UploadParticles replaces the backend particle set with raw, which must be
// a JSON array. The payload is forwarded verbatim so fields this client
// does not model survive the round trip.
func (c *Client) UploadParticles(ctx context.Context, raw json.RawMessage) error {
	return c.do(ctx, http.MethodPost, "/api/particles", nil, raw, nil)
}

// GetSettings fetches the simulation settings.
func (c *Client) GetSettings(ctx context.Context) (Settings, error) {
	var s Settings
	err := c.do(ctx, http.MethodGet, "/api/settings", nil, nil, &s)
	return s, err
}

// UpdateSettings applies a partial settings update.
func (c *Client) UpdateSettings(ctx context.Context, update SettingsUpdate) error {
	if update.IsEmpty() {
		return ErrEmptyForm
	}
	body, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to encode settings update: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/api/settings", nil, body, nil)
}

// Pause suspends the simulation.
func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/pause", nil, nil, nil)
}

// Resume restarts a paused simulation.
func (c *Client) Resume(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/resume", nil, nil, nil)
}

// Stop terminates the backend.
func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/stop", nil, nil, nil)
}

// Reset clears the simulation and its history.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/reset", nil, nil, nil)
}

// Rewind rolls the simulation back by seconds of simulated time.
func (c *Client) Rewind(ctx context.Context, seconds float64) error {
	body, err := json.Marshal(RewindRequest{RewindTime: seconds})
	if err != nil {
		return fmt.Errorf("failed to encode rewind request: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/api/rewind", nil, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out interface{}) error {
	u := c.base.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}
	return nil
}
