// Package metrics holds the prometheus collectors shared by the reconciliation
// components. Collectors register with the default registry on import and are
// served by the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "flowd"

// Ingestion outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
)

// EventsIngested counts webhook and backfill deliveries by outcome.
var EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "ingest",
	Name:      "events_total",
	Help:      "Flow events received, by outcome (accepted, duplicate, rejected).",
}, []string{"outcome"})

// MatchOutcomes counts matcher results by confidence.
var MatchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "matcher",
	Name:      "results_total",
	Help:      "Match attempts by confidence (EXACT, FUZZY, NONE).",
}, []string{"confidence"})

// MatchConflicts counts claims lost to a concurrent matcher.
var MatchConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "matcher",
	Name:      "conflicts_total",
	Help:      "Intent claims lost to a concurrent match.",
})

// EligibilityLookups counts verifier answers by source.
var EligibilityLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "eligibility",
	Name:      "lookups_total",
	Help:      "Eligibility answers by source (fresh, cache, stale, fail-closed).",
}, []string{"source"})

// Valuations counts valuation attempts by result.
var Valuations = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "pricing",
	Name:      "valuations_total",
	Help:      "Valuation attempts by result (ok, no_price_data, error).",
}, []string{"result"})

// PriceSampleAge observes the age of the sample used for each valuation.
var PriceSampleAge = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "pricing",
	Name:      "sample_age_seconds",
	Help:      "Age of the price sample used for a valuation.",
	Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600, 21600, 86400},
})

// PipelineQueueDepth is the number of events waiting for a worker.
var PipelineQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "pipeline",
	Name:      "queue_depth",
	Help:      "Event ids waiting for a reconciliation worker.",
})

// PipelineDropped counts enqueue attempts refused because the queue was full.
var PipelineDropped = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "pipeline",
	Name:      "dropped_total",
	Help:      "Events left for the sweep because the queue was full.",
})

// ProcessDuration observes how long one reconciliation pass over an event takes.
var ProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "pipeline",
	Name:      "process_seconds",
	Help:      "Time spent driving one event forward, by final state.",
	Buckets:   prometheus.DefBuckets,
}, []string{"state"})

// ProcessFailures counts failed reconciliation steps by step.
var ProcessFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "pipeline",
	Name:      "failures_total",
	Help:      "Failed reconciliation steps (match, valuate, verify, finalize).",
}, []string{"step"})

// SweepRuns counts sweep passes.
var SweepRuns = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "sweep",
	Name:      "runs_total",
	Help:      "Completed sweep passes.",
})

// EventsByState is refreshed after every sweep pass.
var EventsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "ledger",
	Name:      "events",
	Help:      "Stored flow events per reconciliation state.",
}, []string{"state"})

// AlertsRaised counts operational alerts by sink.
var AlertsRaised = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "alerting",
	Name:      "alerts_total",
	Help:      "Operational alerts raised, by sink.",
}, []string{"sink"})

// UpstreamRequests counts calls to external collaborators by service and result.
var UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "upstream",
	Name:      "requests_total",
	Help:      "Calls to the provider, launch adapter and price source.",
}, []string{"service", "result"})

// ObserveUpstream records a call to service as ok or error.
func ObserveUpstream(service string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	UpstreamRequests.WithLabelValues(service, result).Inc()
}
