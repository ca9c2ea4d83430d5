package web

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/facegraph/internal/config"
	"github.com/kozaktomas/facegraph/internal/database/memory"
	"github.com/kozaktomas/facegraph/internal/facematch"
	"github.com/kozaktomas/facegraph/internal/logging"
	"github.com/kozaktomas/facegraph/internal/resolve"
)

type oneFaceExtractor struct{}

func (oneFaceExtractor) ExtractFaceVectors(ctx context.Context, image []byte) ([]facematch.Vector, error) {
	if string(image) == "empty" {
		return nil, nil
	}
	return []facematch.Vector{{float32(len(image)), 0}}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: "memory"},
		Web:      config.WebConfig{Host: "127.0.0.1", Port: 0, AllowedOrigins: []string{"https://app.example.com"}},
	}
	r := resolve.New(memory.New(), oneFaceExtractor{}, resolve.Options{Dim: 2})
	s := NewServer(cfg, r, nil, logging.Discard())
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, "GET", ts.URL+"/api/v1/health", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on API responses")
	}
}

func TestServer_FaceRoutes(t *testing.T) {
	ts := newTestServer(t)
	image := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte("abc"))

	resp := do(t, "POST", ts.URL+"/api/v1/faces/u1/process", `[{"id":"img1","image":"`+image+`"}]`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("process: expected status 201, got %d", resp.StatusCode)
	}

	resp = do(t, "GET", ts.URL+"/api/v1/faces/u1", "")
	var people []struct {
		ID       string   `json:"person_id"`
		Name     string   `json:"name"`
		ImageIDs []string `json:"image_ids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&people); err != nil {
		t.Fatalf("failed to decode people: %v", err)
	}
	if len(people) != 1 || people[0].Name != "Person 1" {
		t.Fatalf("unexpected people %+v", people)
	}

	resp = do(t, "PATCH", ts.URL+"/api/v1/faces/u1/"+people[0].ID+"/rename", `{"name":"Alice"}`)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("rename: expected status 200, got %d", resp.StatusCode)
	}

	resp = do(t, "DELETE", ts.URL+"/api/v1/faces/u1/img1", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete: expected status 200, got %d", resp.StatusCode)
	}

	resp = do(t, "DELETE", ts.URL+"/api/v1/faces/u1/img1", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete: expected status 404, got %d", resp.StatusCode)
	}
}

func TestServer_ClassifyWithoutClassifier(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, "POST", ts.URL+"/api/v1/classify", `["aGVsbG8="]`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", resp.StatusCode)
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	ts := newTestServer(t)

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/api/v1/faces/u1/process", nil)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("expected allow-origin header, got '%s'", got)
	}
}

func TestServer_UnknownRoute(t *testing.T) {
	ts := newTestServer(t)

	resp := do(t, "GET", ts.URL+"/api/v1/albums", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", resp.StatusCode)
	}
}
