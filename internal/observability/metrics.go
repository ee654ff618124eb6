package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	syncSessionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "sync",
		Name:      "sessions_total",
		Help:      "Number of sync sessions, labeled by outcome (success, failed, skipped, rolled_back, busy).",
	}, []string{"outcome"})

	syncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fitsync",
		Subsystem: "sync",
		Name:      "session_duration_seconds",
		Help:      "Wall time of completed sync sessions.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	entityRecordsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "sync",
		Name:      "entity_records_total",
		Help:      "Records processed per entity type, labeled by result (success, failed, dropped).",
	}, []string{"entity", "result"})

	entityErrorsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "sync",
		Name:      "entity_errors_total",
		Help:      "Entity steps that failed, labeled by entity type and error class.",
	}, []string{"entity", "class"})

	lastSyncGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fitsync",
		Subsystem: "sync",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the most recent successful sync session.",
	})

	backupCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fitsync",
		Subsystem: "backup",
		Name:      "operations_total",
		Help:      "Backup operations, labeled by operation (snapshot, restore, prune) and result.",
	}, []string{"operation", "result"})

	streakGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "fitsync",
		Subsystem: "streak",
		Name:      "current_days",
		Help:      "Current streak of the most recently updated owner.",
	})
)

func init() {
	prometheus.MustRegister(syncSessionsCounter, syncDuration, entityRecordsCounter, entityErrorsCounter, lastSyncGauge, backupCounter, streakGauge)
}

// RecordSession counts a finished session and observes its duration.
func RecordSession(outcome string, started time.Time) {
	syncSessionsCounter.WithLabelValues(outcome).Inc()
	if !started.IsZero() {
		syncDuration.Observe(time.Since(started).Seconds())
	}
}

// RecordSyncSucceeded updates the last-success watermark gauge.
func RecordSyncSucceeded(ts time.Time) {
	if ts.IsZero() {
		return
	}
	lastSyncGauge.Set(float64(ts.Unix()))
}

// RecordEntityRecords adds n records of entity with the given result.
func RecordEntityRecords(entity, result string, n int) {
	if n <= 0 {
		return
	}
	entityRecordsCounter.WithLabelValues(entity, result).Add(float64(n))
}

// RecordEntityError counts a failed entity step.
func RecordEntityError(entity, class string) {
	entityErrorsCounter.WithLabelValues(entity, class).Inc()
}

// RecordBackup counts a backup operation.
func RecordBackup(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	backupCounter.WithLabelValues(operation, result).Inc()
}

// RecordStreak sets the current streak gauge.
func RecordStreak(days int) {
	streakGauge.Set(float64(days))
}
