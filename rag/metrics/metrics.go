// Package metrics exposes prometheus instrumentation for the retrieval
// engine and the ingestion pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ragengine"

// Metrics holds the engine's instruments. All methods are safe for
// concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	queryDuration   *prometheus.HistogramVec
	queryTotal      *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     prometheus.Counter
	cacheEvictions  prometheus.Counter
	fallbacks       *prometheus.CounterVec
	ingestDocuments *prometheus.CounterVec
	ingestChunks    prometheus.Counter
}

// New creates the instrument set on a fresh registry, including the standard
// Go and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		queryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Query latency by strategy.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy"}),
		queryTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_total",
			Help:      "Queries served, by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Cache hits by layer (exact or semantic).",
		}, []string{"layer"}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Queries that missed both cache layers.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted from the cache by the size bound.",
		}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_fallbacks_total",
			Help:      "Strategy fallback hops.",
		}, []string{"from", "to"}),
		ingestDocuments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestion_documents_total",
			Help:      "Ingested documents by terminal status.",
		}, []string{"status"}),
		ingestChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestion_chunks_total",
			Help:      "Chunks written by the ingestion pipeline.",
		}),
	}

	registry.MustRegister(
		m.queryDuration,
		m.queryTotal,
		m.cacheHits,
		m.cacheMisses,
		m.cacheEvictions,
		m.fallbacks,
		m.ingestDocuments,
		m.ingestChunks,
	)
	return m
}

// Handler serves the registry in prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveQuery(strategy, outcome string, seconds float64) {
	m.queryDuration.WithLabelValues(strategy).Observe(seconds)
	m.queryTotal.WithLabelValues(strategy, outcome).Inc()
}

func (m *Metrics) RecordCacheHit(layer string) {
	m.cacheHits.WithLabelValues(layer).Inc()
}

func (m *Metrics) RecordCacheMiss() {
	m.cacheMisses.Inc()
}

func (m *Metrics) RecordCacheEviction(n int) {
	m.cacheEvictions.Add(float64(n))
}

func (m *Metrics) RecordFallback(from, to string) {
	m.fallbacks.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordIngestedDocument(status string) {
	m.ingestDocuments.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordIngestedChunks(n int) {
	m.ingestChunks.Add(float64(n))
}
