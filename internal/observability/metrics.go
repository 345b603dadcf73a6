package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion pipeline.
type Metrics struct {
	RunsTotal    *prometheus.CounterVec // labels: outcome={success,failure,locked}
	RunDuration  prometheus.Histogram
	RowsUpserted *prometheus.CounterVec // labels: table={station_raw,station_3h,forecast_ow}
	SourceErrors *prometheus.CounterVec // labels: source={ecowitt,station_csv,openweather}
	LastSuccess  prometheus.Gauge       // unix seconds of the last successful run
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.RowsUpserted,
		m.SourceErrors,
		m.LastSuccess,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_ingest",
			Name:      "runs_total",
			Help:      "Ingest runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "weather_ingest",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete fetch-normalize-persist run.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		RowsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_ingest",
			Name:      "rows_upserted_total",
			Help:      "Rows written by destination table.",
		}, []string{"table"}),
		SourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weather_ingest",
			Name:      "source_errors_total",
			Help:      "Fetch or parse failures by upstream source.",
		}, []string{"source"}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "weather_ingest",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful ingest run.",
		}),
	}
}
