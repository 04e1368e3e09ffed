package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline counters and histograms, partitioned by marketplace domain or
// by "<domain>.<contract>" where only the contract is known.

var (
	// Dispatcher
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "speculum",
		Subsystem: "processor",
		Name:      "events_processed_total",
		Help:      "Total events dispatched to at least one handler",
	}, []string{"domain", "event"})

	EventsUnmatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "speculum",
		Subsystem: "processor",
		Name:      "events_unmatched_total",
		Help:      "Total events no handler was registered for",
	}, []string{"domain", "event"})

	EventsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "speculum",
		Subsystem: "processor",
		Name:      "events_failed_total",
		Help:      "Total events for which at least one handler failed",
	}, []string{"domain", "event"})

	HandlerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "speculum",
		Subsystem: "processor",
		Name:      "dispatch_duration_seconds",
		Help:      "Time spent running every handler matched to one event",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"domain", "event"})

	// Precache
	PrecacheEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "speculum",
		Subsystem: "precache",
		Name:      "events_total",
		Help:      "Total historical events drained during precache",
	}, []string{"contract"})

	// Live stream
	StreamSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "speculum",
		Subsystem: "stream",
		Name:      "signals_total",
		Help:      "Total live stream notifications by kind",
	}, []string{"contract", "kind"})

	// Reconciliation
	ReconcilePasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "speculum",
		Subsystem: "reconcile",
		Name:      "passes_total",
		Help:      "Total reconciliation passes",
	}, []string{"domain"})

	ReconcileProviderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "speculum",
		Subsystem: "reconcile",
		Name:      "provider_failures_total",
		Help:      "Total providers skipped in a pass because of a fetch or write failure",
	}, []string{"domain"})

	ReconcilePlansDeactivated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "speculum",
		Subsystem: "reconcile",
		Name:      "plans_deactivated_total",
		Help:      "Total plans set inactive because they left the provider catalog",
	}, []string{"domain"})

	ReconcileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "speculum",
		Subsystem: "reconcile",
		Name:      "pass_duration_seconds",
		Help:      "Reconciliation pass duration, lock wait excluded",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	}, []string{"domain"})

	// Provider API
	ProviderAPIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "speculum",
		Subsystem: "provider_api",
		Name:      "errors_total",
		Help:      "Total provider API failures by kind",
	}, []string{"resource", "kind"})
)
