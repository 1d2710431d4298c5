package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus counters and histograms for verbactl. A nil
// *Metrics is valid and turns every recording method into a no-op.
type Metrics struct {
	registry               *prometheus.Registry
	probeTotal             *prometheus.CounterVec
	detectTotal            *prometheus.CounterVec
	requestTotal           *prometheus.CounterVec
	requestDurationSeconds *prometheus.HistogramVec
	importDocumentsTotal   *prometheus.CounterVec
}

// New constructs a metrics registry and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	probeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verbactl",
			Subsystem: "detect",
			Name:      "probe_total",
			Help:      "Total health probes issued, by candidate and outcome.",
		},
		[]string{"candidate", "outcome"},
	)
	detectTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verbactl",
			Subsystem: "detect",
			Name:      "resolutions_total",
			Help:      "Total host detection attempts, by outcome.",
		},
		[]string{"outcome"},
	)
	requestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verbactl",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total API requests, by endpoint, method, and outcome.",
		},
		[]string{"endpoint", "method", "outcome"},
	)
	requestDurationSeconds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "verbactl",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "API request latency, including host detection.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"endpoint"},
	)
	importDocumentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verbactl",
			Subsystem: "import",
			Name:      "documents_total",
			Help:      "Total documents handled by the importer, by status.",
		},
		[]string{"status"},
	)

	registry.MustRegister(
		probeTotal,
		detectTotal,
		requestTotal,
		requestDurationSeconds,
		importDocumentsTotal,
	)

	return &Metrics{
		registry:               registry,
		probeTotal:             probeTotal,
		detectTotal:            detectTotal,
		requestTotal:           requestTotal,
		requestDurationSeconds: requestDurationSeconds,
		importDocumentsTotal:   importDocumentsTotal,
	}
}

// Handler returns an HTTP handler that serves the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncProbe(candidate, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.probeTotal.WithLabelValues(candidate, outcome).Inc()
}

func (m *Metrics) IncDetect(outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.detectTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncRequest(endpoint, method, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.requestTotal.WithLabelValues(endpoint, method, outcome).Inc()
}

func (m *Metrics) ObserveRequest(endpoint string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		return
	}
	m.requestDurationSeconds.WithLabelValues(endpoint).Observe(seconds)
}

func (m *Metrics) IncDocument(status string) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.importDocumentsTotal.WithLabelValues(status).Inc()
}
