// Package telemetry defines the Prometheus collectors exposed on the
// facade's HTTP mount for scraping (spec SPEC_FULL.md §A3): reconciler
// throughput, search latency by provider, event-bus subscriber health,
// and LaTeX cache effectiveness. Adapted from the pack's
// distributed-search-analytics platform metrics package — same
// CounterVec/HistogramVec/Gauge shape and promhttp exposition,
// generalized from HTTP/shard metrics to the outline domain's own
// concerns and registered against a private registry instead of the
// global one, so tests can construct independent instances.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the reconciler, event bus, search
// dispatcher, and LaTeX rasterizer report into.
type Metrics struct {
	registry *prometheus.Registry

	FilesReconciledTotal *prometheus.CounterVec
	CommitDuration       prometheus.Histogram
	ParseErrorsTotal     prometheus.Counter
	StoreErrorsTotal     prometheus.Counter
	DuplicateIDsTotal    prometheus.Counter

	SearchLatency      *prometheus.HistogramVec
	SearchResultsCount *prometheus.HistogramVec

	EventBusSubscribers  prometheus.Gauge
	EventBusDroppedTotal prometheus.Counter

	LatexCacheHitsTotal   prometheus.Counter
	LatexCacheMissesTotal prometheus.Counter
	LatexRenderDuration   prometheus.Histogram
}

// New creates and registers every collector against a fresh, private
// registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,

		FilesReconciledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outlined_files_reconciled_total",
				Help: "Total files reconciled, by outcome (committed, noop, parse_error, store_error).",
			},
			[]string{"outcome"},
		),
		CommitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "outlined_commit_duration_seconds",
				Help:    "Duration of metadata-store commit transactions.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),
		ParseErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "outlined_parse_errors_total",
				Help: "Total fatal parse errors encountered by the reconciler.",
			},
		),
		StoreErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "outlined_store_errors_total",
				Help: "Total commit failures that exhausted the retry and were abandoned.",
			},
		),
		DuplicateIDsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "outlined_duplicate_ids_total",
				Help: "Total cross-file node id collisions resolved.",
			},
		),

		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outlined_search_latency_seconds",
				Help:    "Per-provider search latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"provider"},
		),
		SearchResultsCount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outlined_search_results_count",
				Help:    "Number of results returned per provider per query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
			[]string{"provider"},
		),

		EventBusSubscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "outlined_event_bus_subscribers",
				Help: "Current number of connected event-bus subscribers.",
			},
		),
		EventBusDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "outlined_event_bus_dropped_subscribers_total",
				Help: "Total subscribers dropped for exceeding the slow-subscriber grace period.",
			},
		),

		LatexCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "outlined_latex_cache_hits_total",
				Help: "Total LaTeX rasterization cache hits.",
			},
		),
		LatexCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "outlined_latex_cache_misses_total",
				Help: "Total LaTeX rasterization cache misses.",
			},
		),
		LatexRenderDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "outlined_latex_render_duration_seconds",
				Help:    "Duration of the latex+dvisvgm subprocess pipeline.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
			},
		),
	}

	reg.MustRegister(
		m.FilesReconciledTotal,
		m.CommitDuration,
		m.ParseErrorsTotal,
		m.StoreErrorsTotal,
		m.DuplicateIDsTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.EventBusSubscribers,
		m.EventBusDroppedTotal,
		m.LatexCacheHitsTotal,
		m.LatexCacheMissesTotal,
		m.LatexRenderDuration,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler for this instance's
// private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
