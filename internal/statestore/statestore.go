package statestore

import (
	"context"
	"errors"
	"time"

	"github.com/triagewatch/triagewatch/internal/triage"
)

// ErrSnapshotNotFound is returned by GetSnapshot when no snapshot exists
// for the given date. Callers should use errors.Is() to check for it;
// range queries substitute a zero aggregate instead.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Marker names for durable crash-recovery state. In-memory mutual
// exclusion lives in the orchestrator; these survive process restarts.
const (
	MarkerLastCheck      = "last_check"
	MarkerLastLoginError = "last_login_error"
	MarkerVPNConnected   = "vpn_connected"
	MarkerPaused         = "paused"
	MarkerCycleInFlight  = "cycle_in_flight"
	MarkerLoginInFlight  = "login_in_flight"
)

// DailySnapshot is one calendar day's aggregate defect counts
type DailySnapshot struct {
	Date string `json:"date"` // YYYY-MM-DD
	triage.Aggregate
}

// StateStore persists daily snapshots, notification suppression state and
// durable markers.
type StateStore interface {
	// RecordDaily writes the snapshot for one date. A second write on the
	// same date overwrites; the oldest entries are evicted past the
	// retention window.
	RecordDaily(ctx context.Context, date string, agg triage.Aggregate) error

	// GetSnapshot returns the snapshot for one date, or ErrSnapshotNotFound
	GetSnapshot(ctx context.Context, date string) (*DailySnapshot, error)

	// GetSnapshots returns one snapshot per requested date in order,
	// substituting a zero aggregate for dates with no recorded check.
	GetSnapshots(ctx context.Context, dates []string) ([]DailySnapshot, error)

	// CountSnapshots returns the number of dated entries currently stored
	CountSnapshots(ctx context.Context) (int, error)

	// LastReport returns the most recent successful defect report's total
	// count and send time; ok is false if none was recorded.
	LastReport(ctx context.Context) (count int, at time.Time, ok bool, err error)

	// SetLastReport records a successful defect report for the
	// duplicate-count suppression window.
	SetLastReport(ctx context.Context, count int, at time.Time) error

	// LastError returns the most recent reported error message and send
	// time; ok is false if none was recorded.
	LastError(ctx context.Context) (message string, at time.Time, ok bool, err error)

	// SetLastError records a sent error notification for the
	// duplicate-error suppression window.
	SetLastError(ctx context.Context, message string, at time.Time) error

	// ClearErrorHistory forgets the last reported error so the next
	// failure notifies fresh. Called on startup and on VPN reconnect.
	ClearErrorHistory(ctx context.Context) error

	// SetMarker stores a named durable marker
	SetMarker(ctx context.Context, name, value string) error

	// GetMarker returns a marker value; ok is false when unset
	GetMarker(ctx context.Context, name string) (value string, ok bool, err error)

	// ClearMarker removes a marker
	ClearMarker(ctx context.Context, name string) error

	// ClearInFlightMarkers removes every in-flight marker. Run once on
	// startup so a crash never leaves the pipeline permanently stuck.
	ClearInFlightMarkers(ctx context.Context) error
}
