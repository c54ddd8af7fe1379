// Package metrics holds the Prometheus collectors for the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chatdigest"

var (
	// DocumentsTotal counts document analysis outcomes by final status.
	DocumentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "documents_total",
		Help:      "Documents that finished an analysis attempt, by status.",
	}, []string{"status"})

	// AnalysisBatchSeconds observes how long one analysis batch took.
	AnalysisBatchSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "analysis_batch_seconds",
		Help:      "Duration of one document analysis batch.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	// DigestsTotal counts digest attempts by outcome.
	DigestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "digests_total",
		Help:      "Digest attempts per chat, by outcome.",
	}, []string{"outcome"})

	// LLMRequestsTotal counts completion calls.
	LLMRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_requests_total",
		Help:      "Completion requests, by driver and outcome.",
	}, []string{"driver", "outcome"})

	// IngestedMessagesTotal counts recorded chat messages by type.
	IngestedMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingested_messages_total",
		Help:      "Chat messages recorded, by message type.",
	}, []string{"type"})

	// DatabaseUp is 1 when the last health probe succeeded.
	DatabaseUp = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "database_up",
		Help:      "Whether the primary database answered the last health probe.",
	})
)

// Digest outcomes.
const (
	DigestSent     = "sent"
	DigestSkipped  = "skipped"
	DigestFailed   = "failed"
	DigestNotSent  = "send_failed"
	DigestReadFail = "read_failed"
	DigestDryRun   = "dry_run"
)

// SetDatabaseUp records a health probe result.
func SetDatabaseUp(ok bool) {
	if ok {
		DatabaseUp.Set(1)
		return
	}
	DatabaseUp.Set(0)
}
