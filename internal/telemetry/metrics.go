// Package telemetry registers the Prometheus instruments exported on
// /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TargetsCrawled counts crawl outcomes by class: success, broken, failed.
	TargetsCrawled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewtracker_targets_crawled_total",
		Help: "Crawl outcomes per target, labeled by outcome class.",
	}, []string{"outcome"})

	// SessionRestarts counts browser session launches, labeled by profile.
	SessionRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewtracker_session_restarts_total",
		Help: "Browser session starts and restarts, labeled by launch profile.",
	}, []string{"engine"})

	// SinkWrites counts sheet operations by kind: update, insert, delete.
	SinkWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "viewtracker_sink_writes_total",
		Help: "Sheet row writes, labeled by operation kind.",
	}, []string{"kind"})

	// SinkQuotaHits counts quota rejections from the sheet API.
	SinkQuotaHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "viewtracker_sink_quota_hits_total",
		Help: "Writes rejected by the sheet API's rate quota.",
	})

	// RunDuration observes whole-run latency in seconds.
	RunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "viewtracker_run_duration_seconds",
		Help:    "End-to-end duration of a crawl-and-reconcile run.",
		Buckets: prometheus.ExponentialBuckets(30, 2, 10),
	})
)

// CrawlOutcome maps a result onto the TargetsCrawled label value.
func CrawlOutcome(success, broken bool) string {
	switch {
	case success:
		return "success"
	case broken:
		return "broken"
	default:
		return "failed"
	}
}
