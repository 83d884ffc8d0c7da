package fetch

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/triagewatch/triagewatch/internal/config"
	"github.com/triagewatch/triagewatch/internal/errors"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, buildBreakURL, jazzURL string) *Client {
	t.Helper()
	watch := &config.WatchConfig{
		Services: config.ServicesConfig{
			BuildBreakURL: buildBreakURL,
			JazzURL:       jazzURL,
			SavedQueryID:  "Q1",
		},
	}
	client, err := NewClient(watch, config.FetchConfig{
		Timeout:      5 * time.Second,
		ProbeTimeout: 2 * time.Second,
	}, discardLogger())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func TestFetchComponentDefectsNormalizesShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"bare array", `[{"id":"1","triageTags":["test_bug"]},{"id":"2"}]`, 2},
		{"defects wrapper", `{"defects":[{"defectId":"3","tags":["product"]}]}`, 1},
		{"untriaged wrapper", `{"untriagedDefects":[{"id":"4"},{"id":"5"},{"id":"6"}]}`, 3},
		{"unknown shape fails closed", `{"items":[{"id":"7"}]}`, 0},
		{"non-object entries dropped", `[{"id":"8"},"junk",42]`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("fas") != "Alpha" {
					t.Errorf("component not url-encoded into query: %q", r.URL.RawQuery)
				}
				w.Header().Set("Content-Type", "application/json")
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			client := newTestClient(t, server.URL, "")
			records, err := client.FetchComponentDefects(context.Background(), "Alpha")
			if err != nil {
				t.Fatalf("fetch failed: %v", err)
			}
			if len(records) != tt.want {
				t.Errorf("got %d records, want %d", len(records), tt.want)
			}
		})
	}
}

func TestFetchComponentDefectsFieldAliases(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"defectId":"D-9","description":"broken","status":"New","assignee":"dev","tags":["test"],"functionalArea":"Core"}]`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "")
	records, err := client.FetchComponentDefects(context.Background(), "Alpha")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	r := records[0]
	if r.ID != "D-9" || r.Summary != "broken" || r.State != "New" || r.Owner != "dev" {
		t.Errorf("alias fields not mapped: %+v", r)
	}
	if r.Component != "Core" {
		t.Errorf("functionalArea not used: %q", r.Component)
	}
	if len(r.Tags) != 1 || r.Tags[0] != "test" {
		t.Errorf("tags not mapped: %v", r.Tags)
	}
}

func TestFetchAuthDetection(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
	}{
		{"401", http.StatusUnauthorized, "application/json", `{}`},
		{"403", http.StatusForbidden, "application/json", `{}`},
		{"html login page on 200", http.StatusOK, "text/html", `<html>login</html>`},
		{"json login marker", http.StatusOK, "application/json", `{"operation":"login"}`},
		{"json redirect marker", http.StatusOK, "application/json", `{"redirect":"https://idp.example"}`},
		{"json unauthorized marker", http.StatusOK, "application/json", `{"error":"unauthorized"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			client := newTestClient(t, server.URL, "")
			_, err := client.FetchComponentDefects(context.Background(), "Alpha")
			if !errors.IsAuthRequired(err) {
				t.Errorf("expected AuthRequired, got %v", err)
			}
		})
	}
}

func TestFetchNonTwoHundredIsFetchFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "")
	_, err := client.FetchComponentDefects(context.Background(), "Alpha")

	status, ok := errors.IsFetchFailed(err)
	if !ok || status != http.StatusBadGateway {
		t.Errorf("expected FetchFailed(502), got %v", err)
	}
}

func TestFetchNetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	client := newTestClient(t, server.URL, "")
	_, err := client.FetchComponentDefects(context.Background(), "Alpha")
	if !errors.IsNetworkUnreachable(err) {
		t.Errorf("expected NetworkUnreachable, got %v", err)
	}
}

func TestFetchOverdueTriageItems(t *testing.T) {
	resolutions := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/oslc/queries/Q1/rtc_cm:results", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("OSLC-Core-Version") != "2.0" {
			t.Errorf("missing OSLC-Core-Version header")
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"oslc:results":[
			{"dcterms:identifier":"W-1","dcterms:title":"first","rtc_ext:functional_area":"Inline Area"},
			{"dcterms:identifier":"W-2","dcterms:title":"second","rtc_ext:functional_area":{"rdf:resource":"http://`+r.Host+`/areas/7"}},
			{"dcterms:identifier":"W-3","dcterms:title":"third","rtc_ext:functional_area":{"rdf:resource":"http://`+r.Host+`/areas/7"}}
		]}`)
	})
	mux.HandleFunc("/areas/7", func(w http.ResponseWriter, r *http.Request) {
		resolutions++
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"dcterms:title":"Resolved Area"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := newTestClient(t, server.URL, server.URL)
	records, err := client.FetchOverdueTriageItems(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}

	if records[0].Component != "Inline Area" {
		t.Errorf("inline area not used: %q", records[0].Component)
	}
	if records[1].Component != "Resolved Area" || records[2].Component != "Resolved Area" {
		t.Errorf("reference not resolved: %q, %q", records[1].Component, records[2].Component)
	}
	// Two records share one reference; the per-cycle cache means one GET.
	if resolutions != 1 {
		t.Errorf("expected 1 resolution request, got %d", resolutions)
	}
}

func TestProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("probe should use HEAD, got %s", r.Method)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, "")
	if err := client.Probe(context.Background()); err != nil {
		t.Errorf("probe failed: %v", err)
	}

	server.Close()
	if err := client.Probe(context.Background()); !errors.IsNetworkUnreachable(err) {
		t.Errorf("expected NetworkUnreachable after close, got %v", err)
	}
}
