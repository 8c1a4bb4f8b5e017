// Package telemetry exposes Prometheus metrics for the HTTP surface, the
// reference table cache and the interpretation engine.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so that several collectors can coexist,
// e.g. one per test.
type Collector struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	TableLoads      *prometheus.CounterVec
	Classifications *prometheus.CounterVec
}

func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "path", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		}, []string{"method", "path", "status"}),

		InFlightGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reftable",
			Name:      "cache_hits_total",
			Help:      "Reference table reads served from cache.",
		}, []string{"species"}),

		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reftable",
			Name:      "cache_misses_total",
			Help:      "Reference table reads that required a load.",
		}, []string{"species"}),

		TableLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reftable",
			Name:      "loads_total",
			Help:      "Reference table loads by resulting source (store or default).",
		}, []string{"species", "source"}),

		Classifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "classifications_total",
			Help:      "Interpreted measurements by parameter and band.",
		}, []string{"species", "parameter", "band"}),
	}
}

func (c *Collector) CacheHit(species string)  { c.CacheHits.WithLabelValues(species).Inc() }
func (c *Collector) CacheMiss(species string) { c.CacheMisses.WithLabelValues(species).Inc() }

func (c *Collector) TableLoaded(species, source string) {
	c.TableLoads.WithLabelValues(species, source).Inc()
}

func (c *Collector) Classified(species, parameter, band string) {
	c.Classifications.WithLabelValues(species, parameter, band).Inc()
}

// PoolStats reports database connection counts; pgxpool's Stat() satisfies
// it through a small adapter in the caller.
type PoolStats func() (total, idle int32)

// RegisterPoolStats exports database pool gauges sampled at scrape time.
func (c *Collector) RegisterPoolStats(namespace string, stats PoolStats) {
	factory := promauto.With(c.registry)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "open_connections",
		Help:      "Current number of open database connections.",
	}, func() float64 {
		total, _ := stats()
		return float64(total)
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "db",
		Name:      "idle_connections",
		Help:      "Current number of idle database connections.",
	}, func() float64 {
		_, idle := stats()
		return float64(idle)
	})
}

// Middleware records request count, latency and in-flight gauge. Routes are
// labelled by their pattern, not the concrete path.
func (c *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			c.InFlightGauge.Inc()
			defer c.InFlightGauge.Dec()

			start := time.Now()
			err := next(ctx)
			if err != nil {
				ctx.Error(err)
			}

			route := ctx.Path()
			if route == "" {
				route = "unmatched"
			}
			status := strconv.Itoa(ctx.Response().Status)
			method := ctx.Request().Method

			c.RequestsTotal.WithLabelValues(method, route, status).Inc()
			c.RequestDuration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Gatherer exposes the registry, for tests.
func (c *Collector) Gatherer() prometheus.Gatherer { return c.registry }
