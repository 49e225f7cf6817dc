package httputil

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestStandardClient_Wraps(t *testing.T) {
	customClient := &http.Client{}
	client := NewStandardClient(customClient, time.Second)

	if client.Client != customClient {
		t.Error("expected custom client to be wrapped")
	}
}

func TestStandardClient_DefaultTimeout(t *testing.T) {
	client := NewStandardClient(nil, 2*time.Second)
	if client.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v, want 2s", client.Timeout)
	}
}

func TestStandardClient_Do(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, r.Method+" "+r.URL.Path)
	}))
	defer server.Close()

	client := NewStandardClient(nil, time.Second)
	req, _ := http.NewRequest(http.MethodPost, server.URL+"/api/pause", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "POST /api/pause" {
		t.Errorf("body = %q", body)
	}
}

func TestMockHTTPClient_QueuedResponses(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, "first").AddResponse(http.StatusNotFound, "second")

	for i, want := range []int{http.StatusOK, http.StatusNotFound, http.StatusOK} {
		req, _ := http.NewRequest(http.MethodGet, "http://sim/api/x", nil)
		resp, err := mock.Do(req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("request %d status = %d, want %d", i, resp.StatusCode, want)
		}
	}
	if mock.RequestCount() != 3 {
		t.Errorf("RequestCount() = %d, want 3", mock.RequestCount())
	}
}

func TestMockHTTPClient_RoutesTakePrecedence(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusTeapot, "queued")
	mock.Handle(http.MethodGet, "/api/settings", http.StatusOK, `{"dt":0.1}`)

	req, _ := http.NewRequest(http.MethodGet, "http://sim/api/settings", nil)
	resp, err := mock.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK || string(body) != `{"dt":0.1}` {
		t.Errorf("got %d %q", resp.StatusCode, body)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("route response missing content type")
	}
}

func TestMockHTTPClient_RecordsBodies(t *testing.T) {
	mock := NewMockHTTPClient()
	req, _ := http.NewRequest(http.MethodPost, "http://sim/api/settings?x=1", strings.NewReader(`{"dt":0.5}`))
	req.Header.Set("Content-Type", "application/json")
	if _, err := mock.Do(req); err != nil {
		t.Fatal(err)
	}

	got := mock.RequestsTo(http.MethodPost, "/api/settings")
	if len(got) != 1 {
		t.Fatalf("RequestsTo returned %d requests", len(got))
	}
	if string(got[0].Body) != `{"dt":0.5}` {
		t.Errorf("Body = %q", got[0].Body)
	}
	if got[0].RawQuery != "x=1" || got[0].ContentType != "application/json" {
		t.Errorf("recorded %+v", got[0])
	}
	if mock.CountTo(http.MethodGet, "/api/settings") != 0 {
		t.Error("GET counted for POST-only traffic")
	}
}

func TestMockHTTPClient_Errors(t *testing.T) {
	boom := errors.New("connection refused")

	mock := NewMockHTTPClient()
	mock.HandleError(http.MethodGet, "/api/particles", boom)
	req, _ := http.NewRequest(http.MethodGet, "http://sim/api/particles", nil)
	if _, err := mock.Do(req); !errors.Is(err, boom) {
		t.Errorf("route error = %v", err)
	}

	mock.Reset()
	mock.DefaultError = boom
	if _, err := mock.Do(req); !errors.Is(err, boom) {
		t.Errorf("default error = %v", err)
	}
	if mock.RequestCount() != 1 {
		t.Errorf("RequestCount after Reset = %d, want 1", mock.RequestCount())
	}

	mock.Reset()
	mock.AddErrorResponse(boom)
	if _, err := mock.Do(req); !errors.Is(err, boom) {
		t.Errorf("queued error = %v", err)
	}
	if _, ok := mock.GetRequest(0); !ok {
		t.Error("GetRequest(0) missing")
	}
	if _, ok := mock.GetRequest(5); ok {
		t.Error("GetRequest(5) should be out of range")
	}
}
