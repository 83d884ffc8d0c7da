package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	// Cycle metrics
	CyclesTotal   prometheus.Counter
	CyclesFailed  prometheus.Counter
	CyclesSkipped prometheus.Counter
	CycleDuration prometheus.Histogram

	// Fetch metrics
	FetchesTotal  *prometheus.CounterVec
	FetchesFailed *prometheus.CounterVec

	// Defect metrics
	DefectsSeen *prometheus.CounterVec

	// Notification metrics
	NotificationsSent       *prometheus.CounterVec
	NotificationsSuppressed *prometheus.CounterVec
	NotificationsFailed     prometheus.Counter

	// Login recovery metrics
	LoginAttempts *prometheus.CounterVec

	// Retry loop metrics
	RetryLoopActivations prometheus.Counter
	RetryLoopAttempts    prometheus.Counter

	// Snapshot metrics
	SnapshotsWritten prometheus.Counter
	SnapshotsEvicted prometheus.Counter
	DigestsGenerated prometheus.Counter
	DigestsThrottled prometheus.Counter
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the singleton metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			CyclesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "triagewatch_cycles_total",
				Help: "Total number of defect check cycles started",
			}),
			CyclesFailed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "triagewatch_cycles_failed_total",
				Help: "Total number of defect check cycles that failed",
			}),
			CyclesSkipped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "triagewatch_cycles_skipped_total",
				Help: "Total number of cycle triggers dropped because a cycle was in flight",
			}),
			CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "triagewatch_cycle_duration_seconds",
				Help:    "Duration of defect check cycles in seconds",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
			}),

			FetchesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "triagewatch_fetches_total",
					Help: "Total number of upstream fetches by service",
				},
				[]string{"service"},
			),
			FetchesFailed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "triagewatch_fetches_failed_total",
					Help: "Total number of failed upstream fetches by service and kind",
				},
				[]string{"service", "kind"}, // kind: auth, status, network, malformed
			),

			DefectsSeen: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "triagewatch_defects_seen_total",
					Help: "Total number of defects seen by triage category",
				},
				[]string{"category"},
			),

			NotificationsSent: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "triagewatch_notifications_sent_total",
					Help: "Total number of webhook notifications sent by kind",
				},
				[]string{"kind"}, // report, error, digest
			),
			NotificationsSuppressed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "triagewatch_notifications_suppressed_total",
					Help: "Total number of notifications suppressed by kind",
				},
				[]string{"kind"},
			),
			NotificationsFailed: promauto.NewCounter(prometheus.CounterOpts{
				Name: "triagewatch_notifications_failed_total",
				Help: "Total number of webhook deliveries that failed",
			}),

			LoginAttempts: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "triagewatch_login_attempts_total",
					Help: "Total number of login recovery attempts by outcome",
				},
				[]string{"outcome"}, // silent, manual, timeout, dropped
			),

			RetryLoopActivations: promauto.NewCounter(prometheus.CounterOpts{
				Name: "triagewatch_retry_loop_activations_total",
				Help: "Total number of times the connection retry loop was activated",
			}),
			RetryLoopAttempts: promauto.NewCounter(prometheus.CounterOpts{
				Name: "triagewatch_retry_loop_attempts_total",
				Help: "Total number of silent retry cycles run by the retry loop",
			}),

			SnapshotsWritten: promauto.NewCounter(prometheus.CounterOpts{
				Name: "triagewatch_snapshots_written_total",
				Help: "Total number of daily snapshots written",
			}),
			SnapshotsEvicted: promauto.NewCounter(prometheus.CounterOpts{
				Name: "triagewatch_snapshots_evicted_total",
				Help: "Total number of daily snapshots evicted from the rolling window",
			}),
			DigestsGenerated: promauto.NewCounter(prometheus.CounterOpts{
				Name: "triagewatch_digests_generated_total",
				Help: "Total number of weekly digests generated",
			}),
			DigestsThrottled: promauto.NewCounter(prometheus.CounterOpts{
				Name: "triagewatch_digests_throttled_total",
				Help: "Total number of digest requests served from cache by the throttle",
			}),
		}
	})
	return metricsInstance
}
