// Package scheduler owns every timer, in-flight flag and retry policy.
// One job runner drives the named triggers; the orchestrator is the sole
// decision point routing failures into login recovery, error notification
// or the connection retry loop.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/triagewatch/triagewatch/internal/authflow"
	"github.com/triagewatch/triagewatch/internal/config"
	"github.com/triagewatch/triagewatch/internal/digest"
	"github.com/triagewatch/triagewatch/internal/errors"
	"github.com/triagewatch/triagewatch/internal/observability"
	"github.com/triagewatch/triagewatch/internal/statestore"
	"github.com/triagewatch/triagewatch/internal/triage"
)

// Job names in the trigger table
const (
	jobDailyCheck   = "daily-check"
	jobWeeklyDigest = "weekly-digest"
	jobKeepalive    = "keepalive"
	jobRetryProbe   = "retry-probe"
	jobVPNProbe     = "vpn-probe"
	jobConnRetry    = "conn-retry"
)

// First-fire delays for the fixed-period triggers
const (
	keepaliveFirstFire  = 1 * time.Minute
	retryProbeFirstFire = 30 * time.Second
)

// CycleStatus is the orchestrator's mutual-exclusion state, exposed for
// inspection but mutated only by orchestrator methods.
type CycleStatus string

const (
	CycleIdle    CycleStatus = "idle"
	CycleRunning CycleStatus = "running"
)

// Fetcher is the upstream surface the orchestrator drives
type Fetcher interface {
	FetchComponentDefects(ctx context.Context, component string) ([]triage.RawDefect, error)
	FetchOverdueTriageItems(ctx context.Context) ([]triage.RawDefect, error)
	Probe(ctx context.Context) error
}

// Notifier is the webhook surface the orchestrator reports through
type Notifier interface {
	ReportDefects(ctx context.Context, grouped []triage.ComponentDefects) error
	ReportError(ctx context.Context, cause error) error
	ReportWeeklyDigest(ctx context.Context, d *digest.Digest) error
}

// Recoverer runs one login recovery attempt
type Recoverer interface {
	Recover(ctx context.Context) authflow.Result
}

// DigestSource regenerates the weekly digest
type DigestSource interface {
	Generate(ctx context.Context) (*digest.Digest, error)
}

// Status is a point-in-time view of the orchestrator for the API
type Status struct {
	Cycle         CycleStatus `json:"cycle"`
	Paused        bool        `json:"paused"`
	RetryActive   bool        `json:"retryActive"`
	RetryAttempts int         `json:"retryAttempts"`
	VPNConnected  bool        `json:"vpnConnected"`
	LastCheck     string      `json:"lastCheck,omitempty"`
	Components    []string    `json:"components"`
}

// Orchestrator coordinates fetch, classify, snapshot and notify per cycle
type Orchestrator struct {
	cfg      *config.Config
	fetcher  Fetcher
	notifier Notifier
	store    statestore.StateStore
	digests  DigestSource
	flow     Recoverer
	runner   *Runner
	logger   *slog.Logger
	now      func() time.Time

	mu            sync.Mutex
	watch         *config.WatchConfig
	status        CycleStatus
	paused        bool
	retryActive   bool
	retryAttempts int
	vpnConnected  bool
	vpnKnown      bool
}

// NewOrchestrator creates the orchestrator
func NewOrchestrator(
	cfg *config.Config,
	watch *config.WatchConfig,
	fetcher Fetcher,
	notifier Notifier,
	store statestore.StateStore,
	digests DigestSource,
	flow Recoverer,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		watch:    watch,
		fetcher:  fetcher,
		notifier: notifier,
		store:    store,
		digests:  digests,
		flow:     flow,
		runner:   NewRunner(logger),
		logger:   logger,
		now:      time.Now,
		status:   CycleIdle,
	}
}

// Start restores durable state, runs the startup catch-up decision,
// installs the trigger table and drives it until the context is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	if value, ok, err := o.store.GetMarker(ctx, statestore.MarkerPaused); err == nil && ok && value == "1" {
		o.mu.Lock()
		o.paused = true
		o.mu.Unlock()
		o.logger.Info("starting paused; daily and weekly triggers disabled")
	}

	o.catchUp(ctx)

	o.installFixedJobs()
	if !o.isPaused() {
		o.installScheduledJobs()
	}

	return o.runner.Run(ctx)
}

// catchUp compares now against today's and yesterday's scheduled slots and
// runs a full or silent cycle if one was missed while the process was down.
func (o *Orchestrator) catchUp(ctx context.Context) {
	hour, minute, err := o.watchConfig().CheckClock()
	if err != nil {
		o.logger.Warn("invalid check time, skipping catch-up", "error", err.Error())
		return
	}

	var lastCheck time.Time
	if value, ok, err := o.store.GetMarker(ctx, statestore.MarkerLastCheck); err == nil && ok {
		if parsed, err := time.Parse(time.RFC3339, value); err == nil {
			lastCheck = parsed
		}
	}

	switch ComputeCatchUp(o.now(), lastCheck, hour, minute) {
	case CatchUpFull:
		o.logger.Info("today's check was missed, running catch-up cycle")
		if err := o.RunFullCycle(ctx, false, false); err != nil {
			o.logger.Error("catch-up cycle failed", "error", err.Error())
		}
	case CatchUpSilent:
		o.logger.Info("yesterday's check was missed, running silent catch-up")
		if err := o.RunFullCycle(ctx, false, true); err != nil {
			o.logger.Error("silent catch-up cycle failed", "error", err.Error())
		}
	}
}

func (o *Orchestrator) installFixedJobs() {
	now := o.now()

	o.runner.Set(&Job{
		Name:     jobKeepalive,
		NextFire: now.Add(keepaliveFirstFire),
		Next:     every(o.cfg.Scheduler.KeepaliveInterval),
		Handler:  o.keepalive,
	})
	o.runner.Set(&Job{
		Name:     jobRetryProbe,
		NextFire: now.Add(retryProbeFirstFire),
		Next:     every(o.cfg.Scheduler.RetryProbeInterval),
		Handler:  o.retryProbe,
	})
	o.runner.Set(&Job{
		Name:     jobVPNProbe,
		NextFire: now.Add(o.cfg.Scheduler.VPNProbeInterval),
		Next:     every(o.cfg.Scheduler.VPNProbeInterval),
		Handler:  o.vpnProbe,
	})
}

func (o *Orchestrator) installScheduledJobs() {
	watch := o.watchConfig()
	now := o.now()

	if hour, minute, err := watch.CheckClock(); err == nil {
		o.runner.Set(&Job{
			Name:     jobDailyCheck,
			NextFire: nextDailyFire(now, hour, minute),
			Next: func(after time.Time) time.Time {
				return nextDailyFire(after, hour, minute)
			},
			Handler: o.dailyCheck,
		})
	}

	day, dayErr := watch.DigestWeekday()
	hour, minute, clockErr := watch.DigestClock()
	if dayErr == nil && clockErr == nil {
		o.runner.Set(&Job{
			Name:     jobWeeklyDigest,
			NextFire: nextWeeklyFire(now, day, hour, minute),
			Next: func(after time.Time) time.Time {
				return nextWeeklyFire(after, day, hour, minute)
			},
			Handler: o.weeklyDigest,
		})
	}
}

// RunFullCycle runs one fetch, classify, notify, snapshot sequence. An
// in-flight cycle blocks a new one unless force is set; a blocked trigger
// is dropped for that occurrence, never queued. Silent cycles record data
// without posting the defect report.
func (o *Orchestrator) RunFullCycle(ctx context.Context, force, silent bool) error {
	o.mu.Lock()
	if o.status == CycleRunning && !force {
		o.mu.Unlock()
		observability.GetMetrics().CyclesSkipped.Inc()
		o.logger.Info("cycle already in flight, dropping trigger")
		return nil
	}
	o.status = CycleRunning
	o.mu.Unlock()

	metrics := observability.GetMetrics()
	metrics.CyclesTotal.Inc()
	started := o.now()

	if err := o.store.SetMarker(ctx, statestore.MarkerCycleInFlight, "1"); err != nil {
		o.logger.Warn("failed to set cycle marker", "error", err.Error())
	}

	defer func() {
		o.mu.Lock()
		o.status = CycleIdle
		o.mu.Unlock()
		if err := o.store.ClearMarker(ctx, statestore.MarkerCycleInFlight); err != nil {
			o.logger.Warn("failed to clear cycle marker", "error", err.Error())
		}
		metrics.CycleDuration.Observe(time.Since(started).Seconds())
	}()

	err := o.runPrimary(ctx, silent)

	if errors.IsAuthRequired(err) {
		o.logger.Info("session expired, entering login recovery")
		if o.flow.Recover(ctx) == authflow.ResultLoggedIn {
			// Exactly one post-login retry; sustained failure waits for
			// the next scheduled trigger.
			err = o.runPrimary(ctx, silent)
		}
	}

	if err != nil {
		metrics.CyclesFailed.Inc()
		o.routeFailure(ctx, err)
		return err
	}

	o.deactivateRetryLoop()
	o.runSecondarySweep(ctx)
	return nil
}

// runPrimary executes the ordered fetch, classify, snapshot, notify steps
// for every monitored component. Any error aborts the sequence unmodified;
// routing decisions belong to the caller.
func (o *Orchestrator) runPrimary(ctx context.Context, silent bool) error {
	watch := o.watchConfig()
	components := watch.ComponentNames()
	metrics := observability.GetMetrics()

	byComponent := make(map[string][]triage.Defect, len(components))
	var grouped []triage.ComponentDefects

	for _, component := range components {
		raw, err := o.fetcher.FetchComponentDefects(ctx, component)
		if err != nil {
			return err
		}

		classified := triage.Classify(raw, component)
		byComponent[component] = classified
		for _, d := range classified {
			metrics.DefectsSeen.WithLabelValues(string(d.Category)).Inc()
		}

		if untriaged := triage.Untriaged(classified); len(untriaged) > 0 {
			grouped = append(grouped, triage.ComponentDefects{
				Component: component,
				Defects:   untriaged,
			})
		}
	}

	// The snapshot lands before the webhook runs so a delivery failure
	// never costs the day's trend data.
	agg := triage.AggregateDefects(byComponent, components)
	today := o.now().Format("2006-01-02")
	if err := o.store.RecordDaily(ctx, today, agg); err != nil {
		return err
	}

	if !silent {
		if err := o.notifier.ReportDefects(ctx, grouped); err != nil {
			return err
		}
	}

	if err := o.store.SetMarker(ctx, statestore.MarkerLastCheck, o.now().UTC().Format(time.RFC3339)); err != nil {
		o.logger.Warn("failed to record last check time", "error", err.Error())
	}

	o.logger.Info("cycle completed",
		"total", agg.Total,
		"untriaged", agg.Untriaged,
		"silent", silent)
	return nil
}

// routeFailure applies the error-routing policy. Auth failures never reach
// the webhook; webhook failures cannot self-report; network failures seed
// the silent connection retry loop.
func (o *Orchestrator) routeFailure(ctx context.Context, err error) {
	switch {
	case errors.IsAuthRequired(err):
		o.logger.Warn("cycle aborted, session still unauthenticated")

	case errors.IsNotifyFailed(err):
		o.logger.Error("webhook delivery failed", "error", err.Error())

	case errors.IsNetworkUnreachable(err):
		o.logger.Warn("upstream unreachable, activating retry loop")
		if reportErr := o.notifier.ReportError(ctx, err); reportErr != nil {
			o.logger.Error("failed to report error", "error", reportErr.Error())
		}
		o.activateRetryLoop()

	default:
		if reportErr := o.notifier.ReportError(ctx, err); reportErr != nil {
			o.logger.Error("failed to report error", "error", reportErr.Error())
		}
	}
}

// runSecondarySweep performs the best-effort overdue-item collection after
// the primary path completes. Its failures never fail the cycle.
func (o *Orchestrator) runSecondarySweep(ctx context.Context) {
	if o.watchConfig().Services.SavedQueryID == "" {
		return
	}
	overdue, err := o.fetcher.FetchOverdueTriageItems(ctx)
	if err != nil {
		o.logger.Warn("secondary sweep failed", "error", err.Error())
		return
	}
	o.logger.Info("secondary sweep completed", "overdue_items", len(overdue))
}

// dailyCheck is the scheduled weekday defect check
func (o *Orchestrator) dailyCheck(ctx context.Context) {
	if err := o.RunFullCycle(ctx, false, false); err != nil {
		o.logger.Error("daily check failed", "error", err.Error())
	}
}

// weeklyDigest regenerates and posts the weekly digest
func (o *Orchestrator) weeklyDigest(ctx context.Context) {
	d, err := o.digests.Generate(ctx)
	if err != nil {
		o.logger.Error("weekly digest generation failed", "error", err.Error())
		return
	}
	if err := o.notifier.ReportWeeklyDigest(ctx, d); err != nil {
		o.logger.Error("weekly digest delivery failed", "error", err.Error())
	}
}

// keepalive probes the upstream so the ambient session does not idle out
func (o *Orchestrator) keepalive(ctx context.Context) {
	if err := o.fetcher.Probe(ctx); err != nil {
		o.logger.Debug("keepalive probe failed", "error", err.Error())
		return
	}
	o.logger.Debug("keepalive probe ok")
}

// retryProbe checks the durable login-error marker left by a timed-out
// recovery attempt and re-runs the cycle once it is set.
func (o *Orchestrator) retryProbe(ctx context.Context) {
	_, ok, err := o.store.GetMarker(ctx, statestore.MarkerLastLoginError)
	if err != nil || !ok {
		return
	}
	o.logger.Info("login error marker set, retrying cycle")
	if err := o.store.ClearMarker(ctx, statestore.MarkerLastLoginError); err != nil {
		o.logger.Warn("failed to clear login error marker", "error", err.Error())
	}
	if err := o.RunFullCycle(ctx, false, false); err != nil {
		o.logger.Error("login retry cycle failed", "error", err.Error())
	}
}

// vpnProbe tracks upstream reachability and acts only on the edge from
// disconnected to connected: error history is cleared so the next failure
// notifies fresh, and a silent cycle re-checks the session.
func (o *Orchestrator) vpnProbe(ctx context.Context) {
	connected := o.fetcher.Probe(ctx) == nil

	o.mu.Lock()
	wasKnown := o.vpnKnown
	wasConnected := o.vpnConnected
	o.vpnKnown = true
	o.vpnConnected = connected
	o.mu.Unlock()

	value := "0"
	if connected {
		value = "1"
	}
	if err := o.store.SetMarker(ctx, statestore.MarkerVPNConnected, value); err != nil {
		o.logger.Warn("failed to record vpn state", "error", err.Error())
	}

	if !wasKnown || wasConnected == connected {
		return
	}

	if connected {
		o.logger.Info("connection restored")
		if err := o.store.ClearErrorHistory(ctx); err != nil {
			o.logger.Warn("failed to clear error history", "error", err.Error())
		}
		if err := o.RunFullCycle(ctx, false, true); err != nil {
			o.logger.Error("reconnect cycle failed", "error", err.Error())
		}
	} else {
		o.logger.Warn("connection lost")
	}
}

// activateRetryLoop installs the 30-second silent retry job. Idempotent;
// an active loop is left running.
func (o *Orchestrator) activateRetryLoop() {
	o.mu.Lock()
	if o.retryActive {
		o.mu.Unlock()
		return
	}
	o.retryActive = true
	o.retryAttempts = 0
	o.mu.Unlock()

	observability.GetMetrics().RetryLoopActivations.Inc()
	o.runner.Set(&Job{
		Name:     jobConnRetry,
		NextFire: o.now().Add(o.cfg.Scheduler.ConnRetryInterval),
		Next:     every(o.cfg.Scheduler.ConnRetryInterval),
		Handler:  o.connRetry,
	})
}

// deactivateRetryLoop removes the retry job after a successful cycle
func (o *Orchestrator) deactivateRetryLoop() {
	o.mu.Lock()
	if !o.retryActive {
		o.mu.Unlock()
		return
	}
	o.retryActive = false
	attempts := o.retryAttempts
	o.mu.Unlock()

	o.runner.Remove(jobConnRetry)
	o.logger.Info("connection retry loop deactivated", "attempts", attempts)
}

// connRetry runs one silent retry cycle
func (o *Orchestrator) connRetry(ctx context.Context) {
	o.mu.Lock()
	o.retryAttempts++
	attempt := o.retryAttempts
	o.mu.Unlock()

	observability.GetMetrics().RetryLoopAttempts.Inc()
	o.logger.Info("connection retry attempt", "attempt", attempt)

	if err := o.RunFullCycle(ctx, false, true); err != nil {
		o.logger.Debug("retry cycle failed", "attempt", attempt, "error", err.Error())
	}
}

// Pause disables the daily and weekly triggers. Last-check is stamped now
// so resuming does not trip a false missed-check catch-up.
func (o *Orchestrator) Pause(ctx context.Context) error {
	o.mu.Lock()
	o.paused = true
	o.mu.Unlock()

	o.runner.Remove(jobDailyCheck)
	o.runner.Remove(jobWeeklyDigest)

	if err := o.store.SetMarker(ctx, statestore.MarkerPaused, "1"); err != nil {
		return err
	}
	if err := o.store.SetMarker(ctx, statestore.MarkerLastCheck, o.now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}

	o.logger.Info("monitoring paused")
	return nil
}

// Resume recreates the daily and weekly triggers from current configuration
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.mu.Lock()
	o.paused = false
	o.mu.Unlock()

	o.installScheduledJobs()

	if err := o.store.ClearMarker(ctx, statestore.MarkerPaused); err != nil {
		return err
	}

	o.logger.Info("monitoring resumed")
	return nil
}

// ReloadSchedule re-reads the watch file and reinstalls the scheduled
// triggers from the new configuration.
func (o *Orchestrator) ReloadSchedule(ctx context.Context) error {
	watch, err := config.ParseWatchFile(o.cfg.WatchPath)
	if err != nil {
		return err
	}
	if err := watch.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	o.watch = watch
	paused := o.paused
	o.mu.Unlock()

	if !paused {
		o.installScheduledJobs()
	}

	o.logger.Info("schedule reloaded",
		"components", len(watch.ComponentNames()))
	return nil
}

// Overdue fetches and classifies the overdue triage items on demand
func (o *Orchestrator) Overdue(ctx context.Context) ([]triage.Defect, error) {
	raw, err := o.fetcher.FetchOverdueTriageItems(ctx)
	if err != nil {
		return nil, err
	}
	return triage.Classify(raw, ""), nil
}

// Sweep runs an on-demand all-components collection and returns the
// aggregate without notifying or writing a snapshot.
func (o *Orchestrator) Sweep(ctx context.Context) (*triage.Aggregate, error) {
	components := o.watchConfig().ComponentNames()
	byComponent := make(map[string][]triage.Defect, len(components))

	for _, component := range components {
		raw, err := o.fetcher.FetchComponentDefects(ctx, component)
		if err != nil {
			return nil, err
		}
		byComponent[component] = triage.Classify(raw, component)
	}

	agg := triage.AggregateDefects(byComponent, components)
	return &agg, nil
}

// Status returns a point-in-time view for the API
func (o *Orchestrator) Status(ctx context.Context) Status {
	o.mu.Lock()
	status := Status{
		Cycle:         o.status,
		Paused:        o.paused,
		RetryActive:   o.retryActive,
		RetryAttempts: o.retryAttempts,
		VPNConnected:  o.vpnConnected,
		Components:    o.watch.ComponentNames(),
	}
	o.mu.Unlock()

	if value, ok, err := o.store.GetMarker(ctx, statestore.MarkerLastCheck); err == nil && ok {
		status.LastCheck = value
	}
	return status
}

func (o *Orchestrator) watchConfig() *config.WatchConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.watch
}

func (o *Orchestrator) isPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}
