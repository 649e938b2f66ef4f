// Package services – metrics
//
// Prometheus collectors for background work and business outcomes. HTTP
// traffic is instrumented separately by the middleware package.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// submissions counts submissions by outcome: created|duplicate|invalid|error.
	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitproof_submissions_total",
			Help: "Submissions by outcome.",
		},
		[]string{"outcome"},
	)

	// searches counts searches by outcome: miss|no_proof|proof|error.
	searches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitproof_searches_total",
			Help: "Searches by outcome.",
		},
		[]string{"outcome"},
	)

	// syncAttempts counts archive sync attempts by outcome: done|failed.
	syncAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitproof_sync_attempts_total",
			Help: "Archive sync attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// stuckEntries gauges entries at the attempt cap that are no longer retried.
	stuckEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "visitproof_sync_stuck_entries",
			Help: "Entries that exhausted sync attempts without success.",
		},
	)

	// dispatchDropped counts sync tasks dropped because the queue was full.
	dispatchDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "visitproof_dispatch_dropped_total",
			Help: "Sync tasks dropped on a full queue (picked up by the sweep).",
		},
	)

	// purged counts purge deletions by target: archive|object|entry|visit_log.
	purged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visitproof_purge_deleted_total",
			Help: "Retention purge deletions by target.",
		},
		[]string{"target"},
	)

	// purgeDeferred counts expired entries left for the next sweep.
	purgeDeferred = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "visitproof_purge_deferred_total",
			Help: "Expired entries whose purge was deferred to the next sweep.",
		},
	)
)

func init() {
	prometheus.MustRegister(submissions, searches, syncAttempts, stuckEntries, dispatchDropped, purged, purgeDeferred)
}
