// Package metrics exposes pipeline counters and latencies in the Prometheus
// text format. Each Metrics owns its registry, so tests and multiple servers
// in one process do not collide.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HISP-Uganda/survey-engine-sub003/internal/tracker/models"
)

const namespace = "tracker"

// Registry operations observed by ObserveRegistryCall.
const (
	OpSubmit = "submit"
	OpUpload = "upload"
)

type Metrics struct {
	registry        *prometheus.Registry
	submissions     *prometheus.CounterVec
	retries         prometheus.Counter
	uploads         *prometheus.CounterVec
	registryLatency *prometheus.HistogramVec
}

// New registers the pipeline collectors plus the Go runtime and process
// collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submission attempts by audit status.",
		}, []string{"status"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Manual retries accepted.",
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachment_uploads_total",
			Help:      "Attachment uploads by result.",
		}, []string{"result"}),
		registryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "registry_request_duration_seconds",
			Help:      "Latency of registry calls.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
	}
	m.registry.MustRegister(
		m.submissions, m.retries, m.uploads, m.registryLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveSubmission counts one finished attempt. Safe on a nil receiver.
func (m *Metrics) ObserveSubmission(status models.AuditStatus) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) ObserveRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) ObserveUploads(uploaded, failed int) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues("uploaded").Add(float64(uploaded))
	m.uploads.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) ObserveRegistryCall(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.registryLatency.WithLabelValues(op).Observe(d.Seconds())
}

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
