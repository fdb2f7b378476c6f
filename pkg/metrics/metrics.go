package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	IntentsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "batcher_intents_submitted_total",
		Help: "The total number of accepted intents",
	})

	IntentsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batcher_intents_rejected_total",
		Help: "The total number of rejected intent submissions by reason",
	}, []string{"reason"})

	PendingIntents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "batcher_pending_intents",
		Help: "The number of intents waiting to be batched",
	})

	BatchesCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batcher_batches_created_total",
		Help: "The total number of formed batches by ordering rule",
	}, []string{"ordering_rule"})

	BatchRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batcher_batch_rejections_total",
		Help: "The total number of rejected batch creations by reason",
	}, []string{"reason"})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "batcher_batch_size",
		Help:    "Number of intents per formed batch",
		Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1 to 128 intents
	})

	BatchesExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batcher_batches_executed_total",
		Help: "The total number of executed batches by outcome",
	}, []string{"outcome"})

	SettlementTime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batcher_settlement_seconds",
		Help:    "Time from venue submission to recorded settlement",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"route"})

	VenueErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batcher_venue_errors_total",
		Help: "Total number of venue execution errors by type",
	}, []string{"route", "error_type"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batcher_events_dropped_total",
		Help: "Number of events that failed to publish",
	}, []string{"sink"})

	CircuitOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "batcher_circuit_open",
		Help: "Whether the circuit breaker for a route is open (1) or closed (0)",
	}, []string{"route"})

	SettlerTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batcher_settler_ticks_total",
		Help: "Number of settler polling passes by result",
	}, []string{"result"})
)
