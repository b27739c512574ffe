// Package metrics exposes the engine's Prometheus surface: catalog
// size/count gauges per family and create/evict/fail counters, served
// over /metrics via promhttp.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the process's metrics registry and the counters/gauges
// every family manager reports into.
type Collector struct {
	registry *prometheus.Registry

	catalogCount *prometheus.GaugeVec
	catalogBytes *prometheus.GaugeVec

	created *prometheus.CounterVec
	evicted *prometheus.CounterVec
	failed  *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
}

func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		catalogCount: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dumpmgr_catalog_entries",
			Help: "Number of entries currently tracked per family.",
		}, []string{"family"}),
		catalogBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dumpmgr_catalog_bytes",
			Help: "Total payload bytes currently tracked per family.",
		}, []string{"family"}),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dumpmgr_dumps_created_total",
			Help: "Dump creation requests accepted per family.",
		}, []string{"family"}),
		evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dumpmgr_dumps_evicted_total",
			Help: "Entries removed by quota enforcement per family.",
		}, []string{"family"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dumpmgr_dumps_failed_total",
			Help: "Collections that ended in Failed per family.",
		}, []string{"family"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dumpmgr_http_requests_total",
			Help: "Bus HTTP requests handled, by status code and method.",
		}, []string{"code", "method"}),
	}

	reg.MustRegister(
		c.catalogCount,
		c.catalogBytes,
		c.created,
		c.evicted,
		c.failed,
		c.httpRequests,
	)
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	return c
}

// Handler returns the promhttp handler for /metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetCatalog records the current size of one family's catalog, called
// periodically by the reconcile job rather than on every mutation.
func (c *Collector) SetCatalog(family string, count int, totalBytes uint64) {
	c.catalogCount.WithLabelValues(family).Set(float64(count))
	c.catalogBytes.WithLabelValues(family).Set(float64(totalBytes))
}

func (c *Collector) RecordCreated(family string) { c.created.WithLabelValues(family).Inc() }
func (c *Collector) RecordEvicted(family string) { c.evicted.WithLabelValues(family).Inc() }
func (c *Collector) RecordFailed(family string)  { c.failed.WithLabelValues(family).Inc() }

// ObserveHTTP records one served HTTP request's outcome.
func (c *Collector) ObserveHTTP(code, method string) {
	c.httpRequests.WithLabelValues(code, method).Inc()
}
