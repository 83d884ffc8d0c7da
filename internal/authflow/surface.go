package authflow

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/triagewatch/triagewatch/internal/errors"
)

// SurfaceEvent is an observation reported by a login surface
type SurfaceEvent int

const (
	// EventReachedTarget means the surface settled on the application URL
	EventReachedTarget SurfaceEvent = iota
	// EventReachedProvider means the surface landed on the identity
	// provider and a credential form is waiting.
	EventReachedProvider
	// EventManualStep means the provider requires an out-of-band step
	// that cannot be scripted.
	EventManualStep
)

// LoginSurface is the capability a recovery attempt drives. The flow
// depends only on these observations, never on page content details.
type LoginSurface interface {
	// Open starts the surface against the identity endpoint
	Open(ctx context.Context) error

	// WaitForEvent blocks until the surface observes the next navigation
	// event, or the context expires.
	WaitForEvent(ctx context.Context) (SurfaceEvent, error)

	// InjectCredentials submits the credential form one time
	InjectCredentials(ctx context.Context, username, password string) error

	// Close tears the surface down; safe to call in any state
	Close()
}

// surfacePollInterval is how often the form surface re-checks whether a
// pending manual step has completed.
const surfacePollInterval = 2 * time.Second

// FormLoginSurface drives an identity-provider form login over plain HTTP
// using the same cookie jar the fetch adapters use, so a recovered session
// is immediately visible to them.
type FormLoginSurface struct {
	client    *http.Client
	loginURL  string
	targetURL string
	logger    *slog.Logger

	pending []SurfaceEvent
}

// NewFormLoginSurface creates a form login surface. client must carry the
// shared session cookie jar.
func NewFormLoginSurface(client *http.Client, loginURL, targetURL string, logger *slog.Logger) *FormLoginSurface {
	return &FormLoginSurface{
		client:    client,
		loginURL:  loginURL,
		targetURL: targetURL,
		logger:    logger,
	}
}

// Open loads the application URL and observes where the session lands. An
// authenticated ambient session settles on the target; an expired one is
// redirected to the identity provider.
func (s *FormLoginSurface) Open(ctx context.Context) error {
	landed, err := s.visitTarget(ctx)
	if err != nil {
		return err
	}
	if landed {
		s.pending = append(s.pending, EventReachedTarget)
	} else {
		s.pending = append(s.pending, EventReachedProvider)
	}
	return nil
}

// WaitForEvent returns the next queued observation. With nothing queued it
// polls the application URL until the session settles there, which is how
// a completed manual step is detected.
func (s *FormLoginSurface) WaitForEvent(ctx context.Context) (SurfaceEvent, error) {
	if len(s.pending) > 0 {
		event := s.pending[0]
		s.pending = s.pending[1:]
		return event, nil
	}

	ticker := time.NewTicker(surfacePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
			landed, err := s.visitTarget(ctx)
			if err != nil {
				continue
			}
			if landed {
				return EventReachedTarget, nil
			}
		}
	}
}

// InjectCredentials submits the provider's credential form. Landing back
// on the provider afterwards means an out-of-band step is required.
func (s *FormLoginSurface) InjectCredentials(ctx context.Context, username, password string) error {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return errors.NewPermanentf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.NewTransientf("login form submission failed: %w", err)
	}
	resp.Body.Close()

	landed, err := s.visitTarget(ctx)
	if err != nil {
		return err
	}
	if landed {
		s.pending = append(s.pending, EventReachedTarget)
	} else {
		s.pending = append(s.pending, EventManualStep)
	}
	return nil
}

// Close is a no-op for the HTTP surface; the session lives in the jar
func (s *FormLoginSurface) Close() {}

// visitTarget loads the application URL and reports whether the final
// location is the target rather than the identity provider.
func (s *FormLoginSurface) visitTarget(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.targetURL, nil)
	if err != nil {
		return false, errors.NewPermanentf("failed to build target request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, errors.NewTransientf("target navigation failed: %w", err)
	}
	resp.Body.Close()

	final := resp.Request.URL
	loginHost := hostOf(s.loginURL)
	if final.Host == loginHost && loginHost != "" {
		return false, nil
	}
	return true, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
