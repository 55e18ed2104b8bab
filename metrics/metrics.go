// Package metrics exposes Prometheus instruments for the reconciliation
// pipelines. The engine swallows external failures by design, so the
// swallowed-error counter is the primary health signal.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus instruments for the engine.
type Metrics struct {
	// SwallowedErrors counts failures converted into absent values,
	// by component.
	SwallowedErrors *prometheus.CounterVec

	// PollsResolved counts resolved polls by outcome
	// (confirmed, unconfirmed, failed, late, pending).
	PollsResolved *prometheus.CounterVec

	// VotesRecorded counts persisted individual vote records.
	VotesRecorded prometheus.Counter

	// TransfersReconciled counts transfer aggregates written, by the
	// pipeline stage that produced the write.
	TransfersReconciled *prometheus.CounterVec

	// StatusQueries counts transfer-status lookups by parameter kind.
	StatusQueries *prometheus.CounterVec
}

// New creates and registers all engine metrics.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "reconciler"
	}

	return &Metrics{
		SwallowedErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swallowed_errors_total",
			Help:      "External failures converted into absent values, by component",
		}, []string{"component"}),
		PollsResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_resolved_total",
			Help:      "Polls resolved by the vote pipeline, by outcome",
		}, []string{"outcome"}),
		VotesRecorded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_recorded_total",
			Help:      "Individual vote records persisted",
		}),
		TransfersReconciled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_reconciled_total",
			Help:      "Transfer aggregates written, by pipeline stage",
		}, []string{"stage"}),
		StatusQueries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_queries_total",
			Help:      "Transfer status queries served, by lookup kind",
		}, []string{"kind"}),
	}
}

// Nop returns metrics backed by unregistered collectors, for tests.
func Nop() *Metrics {
	return &Metrics{
		SwallowedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swallowed_errors_total",
		}, []string{"component"}),
		PollsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "polls_resolved_total",
		}, []string{"outcome"}),
		VotesRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "votes_recorded_total",
		}),
		TransfersReconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transfers_reconciled_total",
		}, []string{"stage"}),
		StatusQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "status_queries_total",
		}, []string{"kind"}),
	}
}
