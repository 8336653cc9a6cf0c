package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eco_rewards"

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	verificationOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "outcomes_total",
			Help:      "Verification results by final status and deciding stage.",
		},
		[]string{"status", "stage"},
	)

	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each verification stage.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"stage"},
	)

	ledgerPostings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "postings_total",
			Help:      "Ledger postings by transaction type and category.",
		},
		[]string{"type", "category"},
	)

	conversions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "conversions_total",
			Help:      "Point conversions by result.",
		},
		[]string{"result"},
	)

	fatalInconsistencies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "fatal_inconsistencies_total",
			Help:      "Conversions issued externally whose local debit failed.",
		},
	)

	effectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "effects",
			Name:      "failures_total",
			Help:      "Best-effort side effects that failed after the primary commit.",
		},
		[]string{"effect"},
	)

	sweptRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "records_total",
			Help:      "Records moved out of VERIFYING by the stale sweeper.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"method", "route"},
	)
)

func init() {
	Registry.MustRegister(
		verificationOutcomes,
		stageDuration,
		ledgerPostings,
		conversions,
		fatalInconsistencies,
		effectFailures,
		sweptRecords,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func ObserveVerification(status, stage string) {
	verificationOutcomes.WithLabelValues(status, stage).Inc()
}

// ObserveStage records how long a verification stage took since start.
func ObserveStage(stage string, start time.Time) {
	stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func ObservePosting(txType, category string) {
	ledgerPostings.WithLabelValues(txType, category).Inc()
}

func ObserveConversion(result string) {
	conversions.WithLabelValues(result).Inc()
}

func ObserveFatalInconsistency() {
	fatalInconsistencies.Inc()
}

func ObserveEffectFailure(effect string) {
	effectFailures.WithLabelValues(effect).Inc()
}

func ObserveSwept(n int) {
	sweptRecords.Add(float64(n))
}

func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
