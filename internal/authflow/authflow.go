// Package authflow recovers an expired session. It drives an interactive
// login surface through a small state machine: open the surface, detect
// whether ambient state already authenticates, inject credentials when the
// identity provider asks for them, and hand control to a human when an
// out-of-band step is required. The flow never raises on timeout; the next
// scheduled cycle retries naturally.
package authflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/triagewatch/triagewatch/internal/config"
	"github.com/triagewatch/triagewatch/internal/observability"
	"github.com/triagewatch/triagewatch/internal/statestore"
)

// State is a position in the login recovery state machine
type State string

const (
	StateIdle                State = "idle"
	StateLoginOpened         State = "login-opened"
	StateCredentialsInjected State = "credentials-injected"
	StateAwaitingManualStep  State = "awaiting-manual-step"
	StateLoggedIn            State = "logged-in"
	StateTimedOut            State = "timed-out"
)

// Result is the terminal outcome of one recovery attempt
type Result string

const (
	// ResultLoggedIn means the session is authenticated again
	ResultLoggedIn Result = "logged-in"
	// ResultTimedOut means the attempt hit the ceiling; soft failure
	ResultTimedOut Result = "timed-out"
	// ResultDropped means another attempt was already in flight
	ResultDropped Result = "dropped"
)

const (
	// loginTimeout is the ceiling from opening the surface to giving up
	loginTimeout = 60 * time.Second

	// silentCloseGrace lets session cookies finish propagating before the
	// surface closes on the no-injection path.
	silentCloseGrace = 1 * time.Second

	// manualCloseGrace is the longer grace after credential injection or
	// a manual step.
	manualCloseGrace = 2 * time.Second
)

// Alerter surfaces the manual-step prompt to a human operator. Manual
// steps are never reported through the webhook error path.
type Alerter interface {
	ManualStepRequired(ctx context.Context)
}

// LogAlerter prompts through the log stream
type LogAlerter struct {
	Logger *slog.Logger
}

func (a *LogAlerter) ManualStepRequired(ctx context.Context) {
	a.Logger.Warn("login requires a manual step; complete it in the opened login surface")
}

// Flow runs login recovery attempts. Exactly one attempt may be in flight;
// re-entrant calls are dropped, not queued.
type Flow struct {
	newSurface func() LoginSurface
	creds      config.CredentialsConfig
	alerter    Alerter
	store      statestore.StateStore
	logger     *slog.Logger

	mu       sync.Mutex
	inFlight bool
	state    State
}

// NewFlow creates a login recovery flow. newSurface is called once per
// attempt; each attempt gets a fresh surface.
func NewFlow(newSurface func() LoginSurface, creds config.CredentialsConfig, alerter Alerter, store statestore.StateStore, logger *slog.Logger) *Flow {
	return &Flow{
		newSurface: newSurface,
		creds:      creds,
		alerter:    alerter,
		store:      store,
		logger:     logger,
		state:      StateIdle,
	}
}

// State returns the flow's current state for inspection
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Recover runs one login recovery attempt and returns its terminal result.
// Timeout is a soft failure: the caller's next scheduled cycle will hit
// the auth condition again and retry.
func (f *Flow) Recover(ctx context.Context) Result {
	f.mu.Lock()
	if f.inFlight {
		f.mu.Unlock()
		observability.GetMetrics().LoginAttempts.WithLabelValues("dropped").Inc()
		f.logger.Info("login attempt already in flight, dropping request")
		return ResultDropped
	}
	f.inFlight = true
	f.mu.Unlock()

	if err := f.store.SetMarker(ctx, statestore.MarkerLoginInFlight, "1"); err != nil {
		f.logger.Warn("failed to set login marker", "error", err.Error())
	}

	result := f.attempt(ctx)

	f.mu.Lock()
	f.inFlight = false
	f.setState(result)
	f.mu.Unlock()

	if err := f.store.ClearMarker(ctx, statestore.MarkerLoginInFlight); err != nil {
		f.logger.Warn("failed to clear login marker", "error", err.Error())
	}

	switch result {
	case ResultLoggedIn:
		if err := f.store.ClearMarker(ctx, statestore.MarkerLastLoginError); err != nil {
			f.logger.Warn("failed to clear login error marker", "error", err.Error())
		}
	case ResultTimedOut:
		// The auto-retry probe picks this marker up every minute.
		if err := f.store.SetMarker(ctx, statestore.MarkerLastLoginError, time.Now().UTC().Format(time.RFC3339)); err != nil {
			f.logger.Warn("failed to set login error marker", "error", err.Error())
		}
	}

	return result
}

func (f *Flow) setState(result Result) {
	switch result {
	case ResultLoggedIn:
		f.state = StateLoggedIn
	case ResultTimedOut:
		f.state = StateTimedOut
	}
}

func (f *Flow) attempt(ctx context.Context) Result {
	attemptCtx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	surface := f.newSurface()
	defer surface.Close()

	f.transition(StateLoginOpened)
	if err := surface.Open(attemptCtx); err != nil {
		f.logger.Warn("failed to open login surface", "error", err.Error())
		observability.GetMetrics().LoginAttempts.WithLabelValues("timeout").Inc()
		return ResultTimedOut
	}

	injected := false
	for {
		event, err := surface.WaitForEvent(attemptCtx)
		if err != nil {
			f.logger.Info("login attempt timed out",
				"state", string(f.State()))
			observability.GetMetrics().LoginAttempts.WithLabelValues("timeout").Inc()
			return ResultTimedOut
		}

		switch event {
		case EventReachedTarget:
			grace := silentCloseGrace
			outcome := "silent"
			if injected {
				grace = manualCloseGrace
				outcome = "manual"
			}
			f.wait(attemptCtx, grace)
			observability.GetMetrics().LoginAttempts.WithLabelValues(outcome).Inc()
			f.logger.Info("login recovered", "outcome", outcome)
			return ResultLoggedIn

		case EventReachedProvider:
			if err := surface.InjectCredentials(attemptCtx, f.creds.Username, f.creds.Password); err != nil {
				f.logger.Warn("credential injection failed", "error", err.Error())
				observability.GetMetrics().LoginAttempts.WithLabelValues("timeout").Inc()
				return ResultTimedOut
			}
			injected = true
			f.transition(StateCredentialsInjected)

		case EventManualStep:
			f.transition(StateAwaitingManualStep)
			f.alerter.ManualStepRequired(attemptCtx)
		}
	}
}

func (f *Flow) transition(next State) {
	f.mu.Lock()
	f.state = next
	f.mu.Unlock()
	f.logger.Debug("login flow transition", "state", string(next))
}

// wait sleeps for the grace delay unless the attempt context expires first
func (f *Flow) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
