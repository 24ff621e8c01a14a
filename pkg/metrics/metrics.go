// Package metrics holds the Prometheus collectors for downloads and embedding calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fastembed"

// Metrics is a set of collectors registered on one registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	downloadsTotal  *prometheus.CounterVec   // by model
	downloadedBytes *prometheus.CounterVec   // by model
	embedCalls      *prometheus.CounterVec   // by model and status (ok/error)
	embeddedTexts   *prometheus.CounterVec   // by model
	embedDuration   *prometheus.HistogramVec // by model
	sessionsLoaded  *prometheus.CounterVec   // by model and status (ok/error)
}

// New creates collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		downloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "artifact",
			Name:      "downloads_total",
			Help:      "Total number of artifact files downloaded",
		}, []string{"model"}),

		downloadedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "artifact",
			Name:      "downloaded_bytes_total",
			Help:      "Total bytes of artifact files downloaded",
		}, []string{"model"}),

		embedCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embed",
			Name:      "calls_total",
			Help:      "Total number of embed calls",
		}, []string{"model", "status"}),

		embeddedTexts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embed",
			Name:      "texts_total",
			Help:      "Total number of texts embedded",
		}, []string{"model"}),

		embedDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "embed",
			Name:      "duration_seconds",
			Help:      "Embed call duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"model"}),

		sessionsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "loads_total",
			Help:      "Total number of session constructions",
		}, []string{"model", "status"}),
	}
	m.registry.MustRegister(
		m.downloadsTotal,
		m.downloadedBytes,
		m.embedCalls,
		m.embeddedTexts,
		m.embedDuration,
		m.sessionsLoaded,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordDownload counts one downloaded artifact file.
func (m *Metrics) RecordDownload(model string, bytes int64) {
	if m == nil {
		return
	}
	m.downloadsTotal.WithLabelValues(model).Inc()
	m.downloadedBytes.WithLabelValues(model).Add(float64(bytes))
}

// RecordEmbed records one embed call.
func (m *Metrics) RecordEmbed(model string, texts int, took time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.embedCalls.WithLabelValues(model, status).Inc()
	if err == nil {
		m.embeddedTexts.WithLabelValues(model).Add(float64(texts))
	}
	m.embedDuration.WithLabelValues(model).Observe(took.Seconds())
}

// RecordLoad records one session construction.
func (m *Metrics) RecordLoad(model string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.sessionsLoaded.WithLabelValues(model, status).Inc()
}
