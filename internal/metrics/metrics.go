// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrelay_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"handler", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pushrelay_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method"},
	)

	DispatchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrelay_dispatch_outcomes_total",
			Help: "Push attempts by platform and outcome.",
		},
		[]string{"platform", "outcome"},
	)

	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pushrelay_dispatch_duration_seconds",
			Help:    "Duration of a single push attempt.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"platform"},
	)

	TokensRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pushrelay_tokens_removed_total",
		Help: "Registrations removed after a permanently invalid outcome.",
	})

	PrepareFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrelay_prepare_failures_total",
			Help: "Batches skipped for a platform because its preflight failed.",
		},
		[]string{"platform"},
	)

	AccessTokenMints = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pushrelay_access_token_mints_total",
		Help: "OAuth2 access tokens minted from the service account.",
	})

	BackgroundPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pushrelay_background_tasks_pending",
		Help: "Detached tasks still running.",
	})
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal, HTTPRequestDuration,
			DispatchOutcomes, DispatchDuration,
			TokensRemoved, PrepareFailures,
			AccessTokenMints, BackgroundPending,
		)
	})
}
