package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "weather_pipeline_"

var (
	registerOnce sync.Once

	passTotal   *prometheus.CounterVec
	passLatency *prometheus.HistogramVec

	cityOutcomes *prometheus.CounterVec
	rejections   *prometheus.CounterVec

	fetchTotal   *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec

	writeTotal   *prometheus.CounterVec
	writeRows    prometheus.Counter
	writeLatency *prometheus.HistogramVec

	lastPassTimestamp prometheus.Gauge
)

// Init registers pipeline metrics with the default registry. Until Init is
// called every Observe/Inc function is a no-op.
func Init() {
	registerOnce.Do(func() {
		passTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "passes_total",
				Help: "Total pipeline passes by result",
			},
			[]string{"result"},
		)
		passLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "pass_duration_seconds",
				Help:    "Pipeline pass duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"result"},
		)
		cityOutcomes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "city_outcomes_total",
				Help: "Per-city outcomes (written, rejected, errored)",
			},
			[]string{"outcome"},
		)
		rejections = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rejections_total",
				Help: "Validator rejections by reason",
			},
			[]string{"reason"},
		)
		fetchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "fetch_requests_total",
				Help: "Provider requests by result",
			},
			[]string{"result"},
		)
		fetchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "fetch_latency_seconds",
				Help:    "Provider request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		writeTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "write_requests_total",
				Help: "Warehouse append calls by result",
			},
			[]string{"result"},
		)
		writeRows = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "rows_written_total",
				Help: "Rows appended to the warehouse",
			},
		)
		writeLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "write_latency_seconds",
				Help:    "Warehouse append latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		lastPassTimestamp = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "last_pass_timestamp_seconds",
				Help: "Unix time of the last completed pass",
			},
		)

		prometheus.MustRegister(
			passTotal,
			passLatency,
			cityOutcomes,
			rejections,
			fetchTotal,
			fetchLatency,
			writeTotal,
			writeRows,
			writeLatency,
			lastPassTimestamp,
		)
	})
}

// ObservePass records a finished pass.
func ObservePass(result string, duration time.Duration) {
	if result == "" {
		result = "success"
	}
	if passTotal != nil {
		passTotal.WithLabelValues(result).Inc()
	}
	if passLatency != nil {
		passLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if lastPassTimestamp != nil {
		lastPassTimestamp.SetToCurrentTime()
	}
}

// IncCity counts the terminal outcome of one city within a pass.
func IncCity(outcome string) {
	if cityOutcomes != nil {
		cityOutcomes.WithLabelValues(outcome).Inc()
	}
}

// IncRejection counts a validator rejection.
func IncRejection(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if rejections != nil {
		rejections.WithLabelValues(reason).Inc()
	}
}

// ObserveFetch records one provider request.
func ObserveFetch(result string, duration time.Duration) {
	if fetchTotal != nil {
		fetchTotal.WithLabelValues(result).Inc()
	}
	if fetchLatency != nil {
		fetchLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveWrite records one append call and the rows it wrote.
func ObserveWrite(result string, rows int, duration time.Duration) {
	if writeTotal != nil {
		writeTotal.WithLabelValues(result).Inc()
	}
	if writeRows != nil && rows > 0 {
		writeRows.Add(float64(rows))
	}
	if writeLatency != nil {
		writeLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}
