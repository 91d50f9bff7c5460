package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fpv",
		Name:      "verifications_total",
		Help:      "Total number of verification decisions by outcome code",
	}, []string{"backend", "outcome"})

	CandidatesFetched = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fpv",
		Name:      "candidates_fetched",
		Help:      "Number of candidates returned by a backend fetch",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
	}, []string{"backend"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fpv",
		Name:      "stage_duration_seconds",
		Help:      "Duration of verification pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"stage"})

	TemplateFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fpv",
		Name:      "template_fallbacks_total",
		Help:      "Verifications retried against image samples after a template incompatibility",
	}, []string{"backend"})

	QualityGateResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fpv",
		Name:      "quality_gate_results_total",
		Help:      "Quality gate outcomes after a non-match",
	}, []string{"result"})

	ReplayHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fpv",
		Name:      "replay_hits_total",
		Help:      "Submitted samples already present in the replay ledger",
	})

	ReplayErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fpv",
		Name:      "replay_errors_total",
		Help:      "Replay ledger writes that failed and were swallowed",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fpv",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	EventsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fpv",
		Name:      "events_stored_total",
		Help:      "Verification events persisted by the audit worker",
	}, []string{"type"})

	EventBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fpv",
		Name:      "event_backlog",
		Help:      "Verification events waiting in the stream",
	})
)
