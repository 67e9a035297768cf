/*
Package metrics defines the Prometheus collectors for the disclosure pipeline.

All helper methods are safe to call on a nil *Metrics so components can be
built without instrumentation in tests.
*/
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bsewatch"

type Metrics struct {
	registry *prometheus.Registry

	passes              *prometheus.CounterVec
	passDuration        prometheus.Histogram
	records             *prometheus.CounterVec
	fetchFailures       *prometheus.CounterVec
	cacheLookups        *prometheus.CounterVec
	classifications     *prometheus.CounterVec
	classifierFallbacks *prometheus.CounterVec
	deliveries          *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Engine passes by outcome.",
		}, []string{"outcome"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of completed engine passes.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Disclosure records by pipeline stage reached.",
		}, []string{"stage"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetch_failures_total",
			Help:      "Upstream feed failures by source.",
		}, []string{"source"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "document_cache_lookups_total",
			Help:      "Document cache lookups by result.",
		}, []string{"result"}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Sentiment classifications by method and label.",
		}, []string{"method", "label"}),
		classifierFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_fallbacks_total",
			Help:      "Keyword fallbacks by reason.",
		}, []string{"reason"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Sink deliveries by sink and result.",
		}, []string{"sink", "result"}),
	}

	reg.MustRegister(
		m.passes,
		m.passDuration,
		m.records,
		m.fetchFailures,
		m.cacheLookups,
		m.classifications,
		m.classifierFallbacks,
		m.deliveries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves this instance's registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) PassCompleted(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(outcome).Inc()
	m.passDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) PassSkipped() {
	if m == nil {
		return
	}
	m.passes.WithLabelValues("skipped").Inc()
}

func (m *Metrics) RecordsAt(stage string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.records.WithLabelValues(stage).Add(float64(n))
}

func (m *Metrics) FetchFailed(source string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) Classified(method, label string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(method, label).Inc()
}

func (m *Metrics) ClassifierFallback(reason string) {
	if m == nil {
		return
	}
	m.classifierFallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) Delivered(sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "failed"
	}
	m.deliveries.WithLabelValues(sink, result).Inc()
}
