package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "backpack"

var (
	requestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "The total number of requests. Broken down by method and status code.",
		},
		[]string{"method", "status"},
	)

	requestBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "bytes_total",
			Help:      "The total number of payload bytes received or sent. Broken down by method.",
		},
		[]string{"method"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "The duration of requests. Broken down by method.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		},
		[]string{"method"},
	)

	writeCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "writes_total",
			Help:      "The total number of finished writes. Broken down by outcome.",
		},
		[]string{"outcome"},
	)

	readOnlyCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "read_only_transitions_total",
			Help:      "The number of data files that were switched to read-only.",
		},
	)

	dataFiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "data_files",
			Help:      "The number of open data files.",
		},
	)
)

// Registry holds every backpack collector. It is private so that the
// exposed metrics do not depend on what else the process registers.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		requestCount,
		requestBytes,
		requestDuration,
		writeCount,
		readOnlyCount,
		dataFiles,
	)
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

func sinceInSeconds(start time.Time) float64 {
	return time.Since(start).Seconds()
}

func RequestCompleted(method string, status int, bytes int64, start time.Time) {
	requestCount.WithLabelValues(method, strconv.Itoa(status)).Inc()
	if bytes > 0 {
		requestBytes.WithLabelValues(method).Add(float64(bytes))
	}
	requestDuration.WithLabelValues(method).Observe(sinceInSeconds(start))
}

func WriteFinished(outcome string) {
	writeCount.WithLabelValues(outcome).Inc()
}

func ReadOnlyTransition() {
	readOnlyCount.Inc()
}

func DataFiles(n int) {
	dataFiles.Set(float64(n))
}
