// Package notify formats and delivers webhook notifications: the grouped
// defect report, the rate-limited error report and the weekly digest. It
// owns both duplicate-suppression windows.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/triagewatch/triagewatch/internal/digest"
	"github.com/triagewatch/triagewatch/internal/errors"
	"github.com/triagewatch/triagewatch/internal/observability"
	"github.com/triagewatch/triagewatch/internal/statestore"
	"github.com/triagewatch/triagewatch/internal/triage"
)

const (
	// countSuppressionWindow skips a defect report when the same total
	// count was already reported this recently.
	countSuppressionWindow = 2 * time.Minute

	// errorSuppressionWindow bounds alert volume during sustained
	// outages: one message per distinct failure per hour.
	errorSuppressionWindow = 1 * time.Hour
)

// Notifier posts human-readable summaries to the configured chat webhook
type Notifier struct {
	webhookURL string
	linkURL    string
	httpClient *http.Client
	store      statestore.StateStore
	logger     *slog.Logger
	now        func() time.Time
}

// NewNotifier creates a webhook notifier. linkURL is the human-facing
// work-item URL template a defect id gets appended to; empty disables
// per-defect links.
func NewNotifier(webhookURL, linkURL string, timeout time.Duration, store statestore.StateStore, logger *slog.Logger) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		linkURL:    linkURL,
		httpClient: &http.Client{Timeout: timeout},
		store:      store,
		logger:     logger,
		now:        time.Now,
	}
}

// ReportDefects posts the grouped untriaged defect report, or the all-clear
// affirmation when every component is clean. A report with the same total
// count as one sent within the last two minutes is suppressed; overlapping
// scheduler triggers must not produce back-to-back identical reports.
func (n *Notifier) ReportDefects(ctx context.Context, grouped []triage.ComponentDefects) error {
	total := 0
	for _, group := range grouped {
		total += len(group.Defects)
	}

	lastCount, lastAt, ok, err := n.store.LastReport(ctx)
	if err != nil {
		n.logger.Warn("failed to read report suppression state",
			"error", err.Error())
	} else if ok && lastCount == total && n.now().Sub(lastAt) < countSuppressionWindow {
		observability.GetMetrics().NotificationsSuppressed.WithLabelValues("report").Inc()
		n.logger.Info("defect report suppressed",
			"count", total,
			"last_sent", lastAt.UTC().Format(time.RFC3339))
		return nil
	}

	message := formatDefectReport(grouped, total, n.linkURL)
	if err := n.post(ctx, "report", message); err != nil {
		return err
	}

	if err := n.store.SetLastReport(ctx, total, n.now()); err != nil {
		n.logger.Warn("failed to persist report suppression state",
			"error", err.Error())
	}

	n.logger.Info("defect report sent",
		"untriaged", total,
		"components", len(grouped))
	return nil
}

// ReportError posts an error notification with cause-specific guidance.
// The same message is reported at most once per hour; a different message
// always goes out immediately.
func (n *Notifier) ReportError(ctx context.Context, cause error) error {
	message := formatErrorReport(cause)

	lastMessage, lastAt, ok, err := n.store.LastError(ctx)
	if err != nil {
		n.logger.Warn("failed to read error suppression state",
			"error", err.Error())
	} else if ok && lastMessage == message && n.now().Sub(lastAt) < errorSuppressionWindow {
		observability.GetMetrics().NotificationsSuppressed.WithLabelValues("error").Inc()
		n.logger.Info("error report suppressed",
			"last_sent", lastAt.UTC().Format(time.RFC3339))
		return nil
	}

	if err := n.post(ctx, "error", message); err != nil {
		return err
	}

	if err := n.store.SetLastError(ctx, message, n.now()); err != nil {
		n.logger.Warn("failed to persist error suppression state",
			"error", err.Error())
	}

	n.logger.Info("error report sent", "cause", cause.Error())
	return nil
}

// ReportWeeklyDigest posts the weekly digest summary
func (n *Notifier) ReportWeeklyDigest(ctx context.Context, d *digest.Digest) error {
	if err := n.post(ctx, "digest", formatWeeklyDigest(d)); err != nil {
		return err
	}
	n.logger.Info("weekly digest sent",
		"untriaged", d.ThisWeek.Untriaged,
		"trend_percent", d.TrendPercent)
	return nil
}

// post delivers one message to the webhook. The webhook failing is a
// NotifyFailed error: it is logged by callers, never self-reported, since
// the reporting channel is the thing that failed.
func (n *Notifier) post(ctx context.Context, kind, message string) error {
	payload, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return errors.NewPermanentf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return errors.NewPermanentf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		observability.GetMetrics().NotificationsFailed.Inc()
		return errors.NewTransientf("webhook delivery failed: %w", errors.ErrNotifyFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		observability.GetMetrics().NotificationsFailed.Inc()
		return errors.NewTransientf("webhook returned status %d: %w", resp.StatusCode, errors.ErrNotifyFailed)
	}

	observability.GetMetrics().NotificationsSent.WithLabelValues(kind).Inc()
	return nil
}
