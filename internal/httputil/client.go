// Package httputil provides HTTP client abstractions for testability.
package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"
)

// HTTPClient abstracts HTTP operations for testability.
// Use StandardClient for production; MockHTTPClient for testing.
type HTTPClient interface {
	// Do sends an HTTP request and returns an HTTP response.
	Do(req *http.Request) (*http.Response, error)
}

// StandardClient wraps *http.Client to implement HTTPClient.
type StandardClient struct {
	*http.Client
}

// NewStandardClient creates a new StandardClient wrapping the given http.Client.
// A nil client gets a dedicated client with the given timeout so a hung
// backend cannot pin poll goroutines forever.
func NewStandardClient(c *http.Client, timeout time.Duration) *StandardClient {
	if c == nil {
		c = &http.Client{Timeout: timeout}
	}
	return &StandardClient{Client: c}
}

// Do sends an HTTP request.
func (c *StandardClient) Do(req *http.Request) (*http.Response, error) {
	return c.Client.Do(req)
}

// RecordedRequest is a request seen by MockHTTPClient with its body already
// drained, so tests can inspect payloads after the client consumed them.
type RecordedRequest struct {
	Method      string
	Path        string
	RawQuery    string
	ContentType string
	Body        []byte
}

// MockHTTPClient provides a testable HTTP client implementation.
//
// Responses are resolved in order: DoFunc, DefaultError, a route registered
// with Handle for the request's method and path, then the FIFO queue built
// with AddResponse, and finally an empty 200.
type MockHTTPClient struct {
	mu           sync.Mutex
	DoFunc       func(req *http.Request) (*http.Response, error)
	Requests     []RecordedRequest
	Responses    []*MockResponse
	responseIdx  int
	routes       map[string]*MockResponse
	DefaultError error
}

// MockResponse defines a canned HTTP response for testing.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    http.Header
	Error      error
}

// NewMockHTTPClient creates a new mock HTTP client.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{
		routes: make(map[string]*MockResponse),
	}
}

// AddResponse queues a response to be returned by subsequent requests.
func (m *MockHTTPClient) AddResponse(statusCode int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, &MockResponse{
		StatusCode: statusCode,
		Body:       body,
		Headers:    make(http.Header),
	})
	return m
}

// AddErrorResponse queues an error response.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, &MockResponse{Error: err})
	return m
}

// Handle registers a sticky response for every request matching method and
// path. Polling code issues requests concurrently, so routes are the only
// deterministic way to answer them.
func (m *MockHTTPClient) Handle(method, path string, statusCode int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[method+" "+path] = &MockResponse{
		StatusCode: statusCode,
		Body:       body,
		Headers:    http.Header{"Content-Type": []string{"application/json"}},
	}
	return m
}

// HandleError makes every request matching method and path fail with err.
func (m *MockHTTPClient) HandleError(method, path string, err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[method+" "+path] = &MockResponse{Error: err}
	return m
}

// Do records the request and returns the matching response.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	rec := RecordedRequest{
		Method:      req.Method,
		Path:        req.URL.Path,
		RawQuery:    req.URL.RawQuery,
		ContentType: req.Header.Get("Content-Type"),
	}
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		rec.Body = body
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, rec)

	if m.DoFunc != nil {
		return m.DoFunc(req)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}

	if resp, ok := m.routes[req.Method+" "+req.URL.Path]; ok {
		return resp.toHTTP(req)
	}

	if m.responseIdx < len(m.Responses) {
		resp := m.Responses[m.responseIdx]
		m.responseIdx++
		return resp.toHTTP(req)
	}

	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString("")),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func (r *MockResponse) toHTTP(req *http.Request) (*http.Response, error) {
	if r.Error != nil {
		return nil, r.Error
	}
	header := r.Headers
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		StatusCode: r.StatusCode,
		Body:       io.NopCloser(bytes.NewBufferString(r.Body)),
		Header:     header.Clone(),
		Request:    req,
	}, nil
}

// RequestsTo returns the recorded requests for method and path, in order.
func (m *MockHTTPClient) RequestsTo(method, path string) []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RecordedRequest
	for _, r := range m.Requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// CountTo returns how many requests were sent to method and path.
func (m *MockHTTPClient) CountTo(method, path string) int {
	return len(m.RequestsTo(method, path))
}

// GetRequest returns the nth recorded request.
func (m *MockHTTPClient) GetRequest(n int) (RecordedRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.Requests) {
		return RecordedRequest{}, false
	}
	return m.Requests[n], true
}

// RequestCount returns the number of recorded requests.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// Reset clears all recorded requests, queued responses and routes.
func (m *MockHTTPClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = nil
	m.Responses = nil
	m.responseIdx = 0
	m.routes = make(map[string]*MockResponse)
	m.DefaultError = nil
	m.DoFunc = nil
}
