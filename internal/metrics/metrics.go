package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels renders and calls that completed.
	OutcomeSuccess = "success"
	// OutcomeError labels renders and calls that ended in a terminal error.
	OutcomeError = "error"
)

var (
	rendersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wattlens",
			Name:      "renders_total",
			Help:      "Total number of page renders, partitioned by page and outcome.",
		},
		[]string{"page", "outcome"},
	)

	renderDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "wattlens",
			Name:      "render_seconds",
			Help:      "Page render latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"page"},
	)

	ingestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wattlens",
			Name:      "ingestions_total",
			Help:      "Table loads, partitioned by resolved encoding (or error) and memo hit.",
		},
		[]string{"encoding", "cached"},
	)

	droppedRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wattlens",
			Name:      "ingest_dropped_rows_total",
			Help:      "Rows dropped because their timestamp could not be parsed.",
		},
	)

	anomaliesFlaggedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "wattlens",
			Name:      "anomalies_flagged_total",
			Help:      "Samples flagged above threshold across all renders.",
		},
	)

	forecastCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "wattlens",
			Name:      "forecast_calls_total",
			Help:      "Calls to the inference endpoint, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	forecastDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "wattlens",
			Name:      "forecast_call_seconds",
			Help:      "Inference endpoint latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)
)

// Register attaches wattlens collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		rendersTotal,
		renderDurationSeconds,
		ingestionsTotal,
		droppedRowsTotal,
		anomaliesFlaggedTotal,
		forecastCallsTotal,
		forecastDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveRender records a page render duration and outcome label.
func ObserveRender(page string, duration time.Duration, outcome string) {
	rendersTotal.WithLabelValues(page, normaliseOutcome(outcome)).Inc()
	if duration < 0 {
		duration = 0
	}
	renderDurationSeconds.WithLabelValues(page).Observe(duration.Seconds())
}

// ObserveIngestion records one table load. An empty encoding marks a failed load.
func ObserveIngestion(encoding string, cached bool, dropped int) {
	if encoding == "" {
		encoding = "error"
	}
	cachedLabel := "false"
	if cached {
		cachedLabel = "true"
	}
	ingestionsTotal.WithLabelValues(encoding, cachedLabel).Inc()
	if dropped > 0 {
		droppedRowsTotal.Add(float64(dropped))
	}
}

// ObserveAnomalies adds flagged samples from one render.
func ObserveAnomalies(count int) {
	if count > 0 {
		anomaliesFlaggedTotal.Add(float64(count))
	}
}

// ObserveForecastCall records one inference call.
func ObserveForecastCall(duration time.Duration, outcome string) {
	forecastCallsTotal.WithLabelValues(normaliseOutcome(outcome)).Inc()
	if duration < 0 {
		duration = 0
	}
	forecastDurationSeconds.Observe(duration.Seconds())
}

func normaliseOutcome(outcome string) string {
	if outcome != OutcomeError {
		return OutcomeSuccess
	}
	return outcome
}
