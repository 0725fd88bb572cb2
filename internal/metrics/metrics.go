// Package metrics provides Prometheus metrics for the vault service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Uploads tracks replicated uploads by final report status.
	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_uploads_total",
		Help: "Total number of replicated uploads by report status",
	}, []string{"status"})

	// UploadDuration tracks the wall time of a whole replicated upload.
	UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vault_upload_duration_seconds",
		Help:    "Duration of replicated uploads in seconds",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17min
	})

	// ReplicaAttempts tracks per-region upload outcomes.
	ReplicaAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_replica_attempts_total",
		Help: "Total number of per-region replica attempts by outcome",
	}, []string{"region", "status"})

	// ReplicaLatency tracks per-region upload latency.
	ReplicaLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vault_replica_latency_seconds",
		Help:    "Latency of successful replica uploads in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"region"})

	// AvailableCopies reports the copies confirmed by the last upload.
	AvailableCopies = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_available_copies",
		Help: "Number of available copies after the last upload",
	})

	// ArchiveSize tracks the size of the last uploaded archive.
	ArchiveSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_archive_size_bytes",
		Help: "Size of the last uploaded archive in bytes",
	})

	// LastUploadTimestamp tracks when the last healthy upload completed.
	LastUploadTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vault_last_success_timestamp",
		Help: "Unix timestamp of the last healthy upload",
	})

	// PruneDeleted tracks archives removed by retention.
	PruneDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_prune_deleted_total",
		Help: "Total number of archives deleted by retention",
	}, []string{"region"})

	// PruneErrors tracks failed retention deletes and listings.
	PruneErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_prune_errors_total",
		Help: "Total number of retention failures",
	}, []string{"region"})

	// Alerts tracks emitted alerts.
	Alerts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vault_alerts_total",
		Help: "Total number of alerts emitted",
	}, []string{"type", "severity"})

	// RateLimitBlocked tracks uploads skipped by respawn protection.
	RateLimitBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vault_rate_limit_blocked_total",
		Help: "Total number of uploads blocked by respawn protection",
	})

	// Info provides static information about the service.
	Info = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vault_info",
		Help: "Information about the vault service",
	}, []string{"version", "primary"})
)

// RecordReplicaAttempt records one region outcome.
func RecordReplicaAttempt(region, status string, latencySeconds float64) {
	ReplicaAttempts.WithLabelValues(region, status).Inc()
	if status == "ok" {
		ReplicaLatency.WithLabelValues(region).Observe(latencySeconds)
	}
}

// RecordPrune records the outcome of pruning one region.
func RecordPrune(region string, deleted, failed int) {
	PruneDeleted.WithLabelValues(region).Add(float64(deleted))
	PruneErrors.WithLabelValues(region).Add(float64(failed))
}
