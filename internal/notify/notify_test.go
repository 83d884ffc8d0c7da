package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/triagewatch/triagewatch/internal/errors"
	"github.com/triagewatch/triagewatch/internal/statestore"
	"github.com/triagewatch/triagewatch/internal/triage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type webhookRecorder struct {
	server   *httptest.Server
	messages []string
	status   int
}

func newWebhookRecorder(t *testing.T) *webhookRecorder {
	t.Helper()
	rec := &webhookRecorder{status: http.StatusOK}
	rec.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("webhook body is not JSON: %v", err)
		}
		rec.messages = append(rec.messages, body["message"])
		w.WriteHeader(rec.status)
	}))
	t.Cleanup(rec.server.Close)
	return rec
}

func newTestNotifier(t *testing.T, webhookURL string) (*Notifier, *time.Time) {
	t.Helper()
	store, err := statestore.NewSQLiteStore(filepath.Join(t.TempDir(), "notify.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	n := NewNotifier(webhookURL, "https://jazz.example/web#action=viewWorkItem&id=", 5*time.Second, store, discardLogger())
	now := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return now }
	return n, &now
}

func groupedWith(component string, count int) []triage.ComponentDefects {
	defects := make([]triage.Defect, count)
	for i := range defects {
		defects[i] = triage.Defect{
			ID:       "D-" + string(rune('1'+i)),
			Summary:  "summary",
			Owner:    "Unassigned",
			State:    "Open",
			Category: triage.CategoryUntriaged,
		}
	}
	return []triage.ComponentDefects{{Component: component, Defects: defects}}
}

func TestReportDefectsCountSuppression(t *testing.T) {
	rec := newWebhookRecorder(t)
	n, now := newTestNotifier(t, rec.server.URL)
	ctx := context.Background()

	if err := n.ReportDefects(ctx, groupedWith("Alpha", 3)); err != nil {
		t.Fatalf("first report failed: %v", err)
	}

	// Same count one minute later is suppressed.
	*now = now.Add(1 * time.Minute)
	if err := n.ReportDefects(ctx, groupedWith("Alpha", 3)); err != nil {
		t.Fatalf("suppressed report returned error: %v", err)
	}
	if len(rec.messages) != 1 {
		t.Fatalf("expected 1 webhook POST, got %d", len(rec.messages))
	}

	// Same count three minutes after the first send goes out again.
	*now = now.Add(2 * time.Minute)
	if err := n.ReportDefects(ctx, groupedWith("Alpha", 3)); err != nil {
		t.Fatalf("post-window report failed: %v", err)
	}
	if len(rec.messages) != 2 {
		t.Fatalf("expected 2 webhook POSTs, got %d", len(rec.messages))
	}
}

func TestReportDefectsDifferentCountNotSuppressed(t *testing.T) {
	rec := newWebhookRecorder(t)
	n, now := newTestNotifier(t, rec.server.URL)
	ctx := context.Background()

	if err := n.ReportDefects(ctx, groupedWith("Alpha", 3)); err != nil {
		t.Fatalf("first report failed: %v", err)
	}
	*now = now.Add(10 * time.Second)
	if err := n.ReportDefects(ctx, groupedWith("Alpha", 4)); err != nil {
		t.Fatalf("second report failed: %v", err)
	}
	if len(rec.messages) != 2 {
		t.Fatalf("expected 2 webhook POSTs, got %d", len(rec.messages))
	}
}

func TestReportErrorSuppression(t *testing.T) {
	rec := newWebhookRecorder(t)
	n, now := newTestNotifier(t, rec.server.URL)
	ctx := context.Background()

	cause := errors.NewFetchFailed("build-break", 502)

	if err := n.ReportError(ctx, cause); err != nil {
		t.Fatalf("first error report failed: %v", err)
	}

	// Same message ten minutes later stays inside the hour window.
	*now = now.Add(10 * time.Minute)
	if err := n.ReportError(ctx, cause); err != nil {
		t.Fatalf("suppressed error report returned error: %v", err)
	}
	if len(rec.messages) != 1 {
		t.Fatalf("expected 1 webhook POST, got %d", len(rec.messages))
	}

	// A different message goes out immediately.
	if err := n.ReportError(ctx, errors.NewFetchFailed("oslc", 500)); err != nil {
		t.Fatalf("different error report failed: %v", err)
	}
	if len(rec.messages) != 2 {
		t.Fatalf("expected 2 webhook POSTs, got %d", len(rec.messages))
	}

	// The original message after the hour elapses goes out again.
	*now = now.Add(61 * time.Minute)
	if err := n.ReportError(ctx, cause); err != nil {
		t.Fatalf("post-window error report failed: %v", err)
	}
	if len(rec.messages) != 3 {
		t.Fatalf("expected 3 webhook POSTs, got %d", len(rec.messages))
	}
}

func TestReportDefectsAllClear(t *testing.T) {
	rec := newWebhookRecorder(t)
	n, _ := newTestNotifier(t, rec.server.URL)

	if err := n.ReportDefects(context.Background(), nil); err != nil {
		t.Fatalf("all-clear report failed: %v", err)
	}
	if len(rec.messages) != 1 {
		t.Fatalf("expected 1 webhook POST, got %d", len(rec.messages))
	}
	if !strings.Contains(rec.messages[0], "no untriaged defects") {
		t.Errorf("all-clear message missing affirmation: %q", rec.messages[0])
	}
}

func TestNonTwoHundredIsNotifyFailed(t *testing.T) {
	rec := newWebhookRecorder(t)
	rec.status = http.StatusBadGateway
	n, _ := newTestNotifier(t, rec.server.URL)

	err := n.ReportDefects(context.Background(), groupedWith("Alpha", 1))
	if err == nil {
		t.Fatal("expected error for non-2xx webhook response")
	}
	if !errors.IsNotifyFailed(err) {
		t.Errorf("expected NotifyFailed, got %v", err)
	}
}

func TestFormatDefectReportOverflow(t *testing.T) {
	defects := make([]triage.Defect, 8)
	for i := range defects {
		defects[i] = triage.Defect{ID: "D", Summary: "s", Owner: "o", State: "Open"}
	}
	grouped := []triage.ComponentDefects{{Component: "Alpha", Defects: defects}}

	message := formatDefectReport(grouped, 8, "")

	if !strings.Contains(message, "8 Untriaged Defects") {
		t.Errorf("missing header: %q", message)
	}
	if !strings.Contains(message, "... and 3 more") {
		t.Errorf("missing overflow line: %q", message)
	}
	if got := strings.Count(message, "- [D]"); got != maxDefectsPerComponent {
		t.Errorf("expected %d listed defects, got %d", maxDefectsPerComponent, got)
	}
}

func TestFormatErrorReportGuidance(t *testing.T) {
	message := formatErrorReport(errors.ErrNetworkUnreachable)
	if !strings.Contains(message, "unreachable") || !strings.Contains(message, "retries") {
		t.Errorf("network guidance missing: %q", message)
	}

	message = formatErrorReport(errors.NewFetchFailed("build-break", 500))
	if !strings.Contains(message, "service status") {
		t.Errorf("fetch guidance missing: %q", message)
	}
}
