package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/triagewatch/triagewatch/internal/authflow"
	"github.com/triagewatch/triagewatch/internal/config"
	"github.com/triagewatch/triagewatch/internal/digest"
	"github.com/triagewatch/triagewatch/internal/observability"
	"github.com/triagewatch/triagewatch/internal/rules"
	"github.com/triagewatch/triagewatch/internal/scheduler"
	"github.com/triagewatch/triagewatch/internal/statestore"
	"github.com/triagewatch/triagewatch/internal/triage"
)

// stubFetcher serves a fixed defect list for every component
type stubFetcher struct {
	records []triage.RawDefect
}

func (f *stubFetcher) FetchComponentDefects(ctx context.Context, component string) ([]triage.RawDefect, error) {
	return f.records, nil
}

func (f *stubFetcher) FetchOverdueTriageItems(ctx context.Context) ([]triage.RawDefect, error) {
	return f.records, nil
}

func (f *stubFetcher) Probe(ctx context.Context) error { return nil }

type stubNotifier struct{}

func (n *stubNotifier) ReportDefects(ctx context.Context, grouped []triage.ComponentDefects) error {
	return nil
}
func (n *stubNotifier) ReportError(ctx context.Context, cause error) error { return nil }
func (n *stubNotifier) ReportWeeklyDigest(ctx context.Context, d *digest.Digest) error {
	return nil
}

type stubRecoverer struct{}

func (r *stubRecoverer) Recover(ctx context.Context) authflow.Result {
	return authflow.ResultLoggedIn
}

func newTestServer(t *testing.T, apiCfg *config.APIConfig) *APIServer {
	t.Helper()
	logger := observability.NewLogger("error")

	store, err := statestore.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine, err := rules.NewEngine(logger, nil)
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}
	digests := digest.NewGenerator(store, engine, logger)

	cfg := &config.Config{API: *apiCfg}
	watch := &config.WatchConfig{
		Components: []string{"Alpha"},
		Services:   config.ServicesConfig{BuildBreakURL: "https://reports.example"},
	}
	fetcher := &stubFetcher{records: []triage.RawDefect{
		{ID: "D-1", Summary: "broken build", Tags: []string{}},
	}}
	orchestrator := scheduler.NewOrchestrator(cfg, watch, fetcher, &stubNotifier{}, store, digests, &stubRecoverer{}, logger)

	return NewAPIServer(apiCfg, orchestrator, digests, store, logger)
}

func openConfig() *config.APIConfig {
	return &config.APIConfig{Enabled: true, Port: 8080}
}

func TestNewAPIServer(t *testing.T) {
	server := newTestServer(t, openConfig())

	if server == nil {
		t.Fatal("Expected server to be created")
	}
	if server.router == nil {
		t.Error("Expected router to be initialized")
	}
	if server.server == nil {
		t.Error("Expected HTTP server to be initialized")
	}
}

func TestAuthMiddleware_NoAPIKey(t *testing.T) {
	server := newTestServer(t, openConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()

	handler := server.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, false)

	handler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestAuthMiddleware_WithAPIKey(t *testing.T) {
	cfg := openConfig()
	cfg.APIKey = "test-api-key"
	server := newTestServer(t, cfg)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid bearer", "Bearer test-api-key", http.StatusOK},
		{"valid bare token", "test-api-key", http.StatusOK},
		{"wrong key", "Bearer wrong-key", http.StatusUnauthorized},
		{"missing header", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			handler := server.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}, false)

			handler(w, req)

			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestQueryEndpoints(t *testing.T) {
	server := newTestServer(t, openConfig())

	tests := []struct {
		name string
		path string
	}{
		{"Status", "/api/v1/status"},
		{"Digest", "/api/v1/digest"},
		{"Snapshots", "/api/v1/snapshots"},
		{"Overdue", "/api/v1/overdue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()

			server.router.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("Expected status 200, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestStatusResponse(t *testing.T) {
	server := newTestServer(t, openConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	w := httptest.NewRecorder()

	server.router.ServeHTTP(w, req)

	var status scheduler.Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if len(status.Components) != 1 || status.Components[0] != "Alpha" {
		t.Errorf("components = %v, want [Alpha]", status.Components)
	}
	if status.Paused {
		t.Error("fresh orchestrator should not be paused")
	}
}

func TestSnapshotsDaysParameter(t *testing.T) {
	server := newTestServer(t, openConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/snapshots?days=3", nil)
	w := httptest.NewRecorder()

	server.router.ServeHTTP(w, req)

	var snapshots []statestore.DailySnapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snapshots); err != nil {
		t.Fatalf("failed to decode snapshots: %v", err)
	}
	if len(snapshots) != 3 {
		t.Errorf("got %d snapshots, want 3", len(snapshots))
	}

	// Out-of-range values fall back to the retention window
	req = httptest.NewRequest(http.MethodGet, "/api/v1/snapshots?days=90", nil)
	w = httptest.NewRecorder()

	server.router.ServeHTTP(w, req)

	if err := json.Unmarshal(w.Body.Bytes(), &snapshots); err != nil {
		t.Fatalf("failed to decode snapshots: %v", err)
	}
	if len(snapshots) != maxSnapshotDays {
		t.Errorf("got %d snapshots, want %d", len(snapshots), maxSnapshotDays)
	}
}

func TestCheckEndpointAccepted(t *testing.T) {
	server := newTestServer(t, openConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/check", nil)
	w := httptest.NewRecorder()

	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", w.Code)
	}

	// The cycle runs detached; give it a moment so the store is still open
	// when it writes the snapshot.
	time.Sleep(200 * time.Millisecond)
}

func TestActionEndpoints_ReadOnlyMode(t *testing.T) {
	cfg := openConfig()
	cfg.ReadOnly = true
	server := newTestServer(t, cfg)

	paths := []string{
		"/api/v1/check",
		"/api/v1/schedule/reload",
		"/api/v1/pause",
		"/api/v1/resume",
		"/api/v1/digest/regenerate",
		"/api/v1/sweep",
	}

	for _, path := range paths {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, path, nil)
			w := httptest.NewRecorder()

			server.router.ServeHTTP(w, req)

			if w.Code != http.StatusForbidden {
				t.Errorf("Expected status 403 for read-only mode, got %d", w.Code)
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server := newTestServer(t, openConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/status", nil)
	w := httptest.NewRecorder()

	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	server := newTestServer(t, openConfig())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	w := httptest.NewRecorder()

	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204 for preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS headers on preflight response")
	}
}

func TestRootRedirect(t *testing.T) {
	server := newTestServer(t, openConfig())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	server.router.ServeHTTP(w, req)

	if w.Code != http.StatusMovedPermanently {
		t.Errorf("Expected status 301, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/swagger/" {
		t.Errorf("Expected redirect to /swagger/, got %q", loc)
	}
}
