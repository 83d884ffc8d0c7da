package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/triagewatch/triagewatch/internal/errors"
	"github.com/triagewatch/triagewatch/internal/observability"
	"github.com/triagewatch/triagewatch/internal/triage"
)

// snapshotRetention is the rolling window of dated snapshot entries.
// After every write, entries beyond this count are evicted oldest-first.
const snapshotRetention = 14

// SQLiteStore implements StateStore using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite state store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// WAL allows the API server's reads to coexist with orchestrator
	// writes; the busy timeout keeps both from failing on brief locks.
	connStr := dbPath + "?_foreign_keys=1&mode=rwc&_journal_mode=WAL&_busy_timeout=3000"

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, errors.NewTransientf("failed to open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, errors.NewPermanentf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		date TEXT PRIMARY KEY,
		total INTEGER NOT NULL,
		untriaged INTEGER NOT NULL,
		test_bugs INTEGER NOT NULL,
		product_bugs INTEGER NOT NULL,
		infra_bugs INTEGER NOT NULL,
		components_json TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL DEFAULT (cast(strftime('%s', 'now') as integer))
	);

	CREATE TABLE IF NOT EXISTS notify_state (
		key TEXT PRIMARY KEY,
		message TEXT,
		count INTEGER,
		notified_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS markers (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL DEFAULT (cast(strftime('%s', 'now') as integer))
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_date ON snapshots(date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// RecordDaily writes one complete daily aggregate. Same-day writes
// overwrite rather than accumulate, so callers must pass a full tally.
func (s *SQLiteStore) RecordDaily(ctx context.Context, date string, agg triage.Aggregate) error {
	if date == "" {
		return errors.NewPermanentf("snapshot date cannot be empty")
	}

	componentsJSON := "[]"
	if len(agg.Components) > 0 {
		jsonBytes, err := json.Marshal(agg.Components)
		if err != nil {
			return errors.NewPermanentf("failed to marshal component breakdown: %w", err)
		}
		componentsJSON = string(jsonBytes)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewTransientf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (date, total, untriaged, test_bugs, product_bugs, infra_bugs, components_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total = excluded.total,
			untriaged = excluded.untriaged,
			test_bugs = excluded.test_bugs,
			product_bugs = excluded.product_bugs,
			infra_bugs = excluded.infra_bugs,
			components_json = excluded.components_json
	`, date, agg.Total, agg.Untriaged, agg.TestBugs, agg.ProductBugs, agg.InfraBugs, componentsJSON)
	if err != nil {
		return errors.NewTransientf("failed to upsert snapshot: %w", err)
	}

	// Evict oldest entries beyond the rolling window.
	result, err := tx.ExecContext(ctx, `
		DELETE FROM snapshots WHERE date IN (
			SELECT date FROM snapshots ORDER BY date DESC LIMIT -1 OFFSET ?
		)
	`, snapshotRetention)
	if err != nil {
		return errors.NewTransientf("failed to evict old snapshots: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewTransientf("failed to commit snapshot: %w", err)
	}

	metrics := observability.GetMetrics()
	metrics.SnapshotsWritten.Inc()
	if evicted, err := result.RowsAffected(); err == nil && evicted > 0 {
		metrics.SnapshotsEvicted.Add(float64(evicted))
	}

	return nil
}

// GetSnapshot returns the snapshot for one date
func (s *SQLiteStore) GetSnapshot(ctx context.Context, date string) (*DailySnapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT date, total, untriaged, test_bugs, product_bugs, infra_bugs, components_json
		FROM snapshots WHERE date = ?
	`, date)

	snapshot, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, errors.NewTransientf("failed to query snapshot: %w", err)
	}
	return snapshot, nil
}

// GetSnapshots returns one snapshot per requested date, in request order.
// Dates with no recorded check come back as zero aggregates: trend math
// treats absent days as zero by contract.
func (s *SQLiteStore) GetSnapshots(ctx context.Context, dates []string) ([]DailySnapshot, error) {
	snapshots := make([]DailySnapshot, 0, len(dates))
	for _, date := range dates {
		snapshot, err := s.GetSnapshot(ctx, date)
		if err == ErrSnapshotNotFound {
			snapshots = append(snapshots, DailySnapshot{Date: date})
			continue
		}
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, *snapshot)
	}
	return snapshots, nil
}

// CountSnapshots returns the number of dated entries currently stored
func (s *SQLiteStore) CountSnapshots(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&count); err != nil {
		return 0, errors.NewTransientf("failed to count snapshots: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner) (*DailySnapshot, error) {
	var snapshot DailySnapshot
	var componentsJSON string
	err := row.Scan(
		&snapshot.Date,
		&snapshot.Total,
		&snapshot.Untriaged,
		&snapshot.TestBugs,
		&snapshot.ProductBugs,
		&snapshot.InfraBugs,
		&componentsJSON,
	)
	if err != nil {
		return nil, err
	}
	if componentsJSON != "" && componentsJSON != "[]" {
		if err := json.Unmarshal([]byte(componentsJSON), &snapshot.Components); err != nil {
			return nil, err
		}
	}
	return &snapshot, nil
}

// LastReport returns the last successful defect report's count and time
func (s *SQLiteStore) LastReport(ctx context.Context) (int, time.Time, bool, error) {
	var count sql.NullInt64
	var notifiedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT count, notified_at FROM notify_state WHERE key = 'report'
	`).Scan(&count, &notifiedAt)
	if err == sql.ErrNoRows {
		return 0, time.Time{}, false, nil
	}
	if err != nil {
		return 0, time.Time{}, false, errors.NewTransientf("failed to query report state: %w", err)
	}
	return int(count.Int64), time.Unix(notifiedAt, 0), true, nil
}

// SetLastReport records a successful defect report
func (s *SQLiteStore) SetLastReport(ctx context.Context, count int, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notify_state (key, count, notified_at) VALUES ('report', ?, ?)
		ON CONFLICT(key) DO UPDATE SET count = excluded.count, notified_at = excluded.notified_at
	`, count, at.Unix())
	if err != nil {
		return errors.NewTransientf("failed to record report state: %w", err)
	}
	return nil
}

// LastError returns the last reported error message and time
func (s *SQLiteStore) LastError(ctx context.Context) (string, time.Time, bool, error) {
	var message sql.NullString
	var notifiedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT message, notified_at FROM notify_state WHERE key = 'error'
	`).Scan(&message, &notifiedAt)
	if err == sql.ErrNoRows {
		return "", time.Time{}, false, nil
	}
	if err != nil {
		return "", time.Time{}, false, errors.NewTransientf("failed to query error state: %w", err)
	}
	return message.String, time.Unix(notifiedAt, 0), true, nil
}

// SetLastError records a sent error notification
func (s *SQLiteStore) SetLastError(ctx context.Context, message string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notify_state (key, message, notified_at) VALUES ('error', ?, ?)
		ON CONFLICT(key) DO UPDATE SET message = excluded.message, notified_at = excluded.notified_at
	`, message, at.Unix())
	if err != nil {
		return errors.NewTransientf("failed to record error state: %w", err)
	}
	return nil
}

// ClearErrorHistory forgets the last reported error
func (s *SQLiteStore) ClearErrorHistory(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notify_state WHERE key = 'error'`)
	if err != nil {
		return errors.NewTransientf("failed to clear error history: %w", err)
	}
	return nil
}

// SetMarker stores a named durable marker
func (s *SQLiteStore) SetMarker(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO markers (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, name, value, time.Now().Unix())
	if err != nil {
		return errors.NewTransientf("failed to set marker %s: %w", name, err)
	}
	return nil
}

// GetMarker returns a marker value; ok is false when unset
func (s *SQLiteStore) GetMarker(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM markers WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewTransientf("failed to get marker %s: %w", name, err)
	}
	return value, true, nil
}

// ClearMarker removes a marker
func (s *SQLiteStore) ClearMarker(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM markers WHERE name = ?`, name)
	if err != nil {
		return errors.NewTransientf("failed to clear marker %s: %w", name, err)
	}
	return nil
}

// ClearInFlightMarkers removes every in-flight marker unconditionally
func (s *SQLiteStore) ClearInFlightMarkers(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM markers WHERE name IN (?, ?)`,
		MarkerCycleInFlight, MarkerLoginInFlight)
	if err != nil {
		return errors.NewTransientf("failed to clear in-flight markers: %w", err)
	}
	return nil
}
