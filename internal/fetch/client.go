// Package fetch turns an authenticated HTTP session into typed defect
// lists. Adapters detect "not authenticated" responses and hand back the
// auth-required error kind so the orchestrator can route into the login
// recovery flow.
package fetch

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/triagewatch/triagewatch/internal/config"
	"github.com/triagewatch/triagewatch/internal/errors"
	"github.com/triagewatch/triagewatch/internal/observability"
)

// Client fetches defect records from the two upstream services over one
// shared cookie session. Safe for use from a single orchestrator goroutine.
type Client struct {
	httpClient   *http.Client
	buildBreak   string
	jazz         string
	savedQueryID string
	probeTimeout time.Duration
	logger       *slog.Logger
}

// NewClient creates a fetch client for the endpoints in the watch file.
// The cookie jar carries the ambient session the login flow establishes.
func NewClient(watch *config.WatchConfig, cfg config.FetchConfig, logger *slog.Logger) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, errors.NewPermanentf("failed to create cookie jar: %w", err)
	}

	return &Client{
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: cfg.Timeout,
		},
		buildBreak:   strings.TrimRight(watch.Services.BuildBreakURL, "/"),
		jazz:         strings.TrimRight(watch.Services.JazzURL, "/"),
		savedQueryID: watch.Services.SavedQueryID,
		probeTimeout: cfg.ProbeTimeout,
		logger:       logger,
	}, nil
}

// HTTPClient exposes the session client so the login flow can establish
// cookies on the same jar the adapters use.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// Probe performs a lightweight HEAD request against the build-break base
// URL. It answers only "is the service reachable": authentication is not
// checked. Used by the keepalive and VPN triggers.
func (c *Client) Probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, c.buildBreak+"/", nil)
	if err != nil {
		return errors.NewPermanentf("failed to build probe request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.ErrNetworkUnreachable
	}
	defer resp.Body.Close()

	return nil
}

// classifyResponse maps the auth-shaped failure modes shared by both
// adapters. Login pages are served as HTML 2xx at the same URLs, so a
// non-JSON content type counts as auth-required too.
func classifyResponse(service string, resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return errors.ErrAuthRequired
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NewFetchFailed(service, resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		return errors.ErrMalformedResponse
	}
	return nil
}

func recordFetchFailure(service string, err error) {
	metrics := observability.GetMetrics()
	switch {
	case errors.IsNetworkUnreachable(err):
		metrics.FetchesFailed.WithLabelValues(service, "network").Inc()
	case err == errors.ErrMalformedResponse:
		metrics.FetchesFailed.WithLabelValues(service, "malformed").Inc()
	case errors.IsAuthRequired(err):
		metrics.FetchesFailed.WithLabelValues(service, "auth").Inc()
	default:
		metrics.FetchesFailed.WithLabelValues(service, "status").Inc()
	}
}
