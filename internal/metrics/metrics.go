// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchAttempts counts upstream HTTP attempts by outcome
	// (ok, rate_limited, failed).
	FetchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardsync_fetch_attempts_total",
			Help: "Upstream HTTP attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// FetchFailures counts logical fetches that exhausted their retry budget.
	FetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardsync_fetch_failures_total",
			Help: "Fetches that failed after all retries, by error kind.",
		},
		[]string{"kind"},
	)

	// Pages counts collected card pages by outcome (ok, empty, failed).
	Pages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardsync_pages_total",
			Help: "Card pages processed by outcome.",
		},
		[]string{"outcome"},
	)

	// CardsDeleted counts stored cards removed by reconciliation.
	CardsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cardsync_cards_deleted_total",
		Help: "Stored cards removed because they vanished upstream.",
	})

	// RefreshDuration observes full refresh runs by result.
	RefreshDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cardsync_refresh_duration_seconds",
			Help:    "Duration of card refresh runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"result"},
	)

	// CategoryProbes counts live category probes by result category or "fallback".
	CategoryProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardsync_category_probes_total",
			Help: "Live category probes by observed result.",
		},
		[]string{"result"},
	)

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cardsync_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open).",
		},
		[]string{"name"},
	)
)
