// Package telemetry exposes Prometheus metrics for the protocol service:
// HTTP server metrics plus domain counters for merge and narrative work.
package telemetry

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Provider owns the metrics registry and all instruments.
type Provider struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	requestSize     prometheus.Histogram
	responseSize    prometheus.Histogram
	activeRequests  prometheus.Gauge

	mergeOps           *prometheus.CounterVec
	versionConflicts   prometheus.Counter
	narrativesTotal    *prometheus.CounterVec
	narrativeDuration  prometheus.Histogram
	protocolsActive    prometheus.Gauge
	dbPoolAcquiredConn prometheus.Gauge
	dbPoolIdleConn     prometheus.Gauge
}

// NewProvider creates a Provider with its own registry so tests can run
// several providers side by side.
func NewProvider(serviceName string) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	constLabels := prometheus.Labels{"service": serviceName}

	p := &Provider{registry: reg}

	p.requestDuration = promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
		Name:        "http_server_request_duration_seconds",
		Help:        "Duration of HTTP requests in seconds.",
		ConstLabels: constLabels,
		Buckets:     []float64{0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1, 2.5, 5, 10},
	}, []string{"method", "route", "status_code"})

	p.requestSize = promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
		Name:        "http_server_request_size_bytes",
		Help:        "Size of HTTP request bodies in bytes.",
		ConstLabels: constLabels,
		Buckets:     prometheus.ExponentialBuckets(100, 10, 6),
	})

	p.responseSize = promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
		Name:        "http_server_response_size_bytes",
		Help:        "Size of HTTP response bodies in bytes.",
		ConstLabels: constLabels,
		Buckets:     prometheus.ExponentialBuckets(100, 10, 6),
	})

	p.activeRequests = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name:        "http_server_active_requests",
		Help:        "Number of in-flight HTTP requests.",
		ConstLabels: constLabels,
	})

	p.mergeOps = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name:        "template_merge_operations_total",
		Help:        "Template merge operations by source and result.",
		ConstLabels: constLabels,
	}, []string{"source", "result"})

	p.versionConflicts = promauto.With(reg).NewCounter(prometheus.CounterOpts{
		Name:        "protocol_version_conflicts_total",
		Help:        "Optimistic concurrency conflicts observed on protocol writes.",
		ConstLabels: constLabels,
	})

	p.narrativesTotal = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name:        "narrative_generations_total",
		Help:        "Clinical narrative generations by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})

	p.narrativeDuration = promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
		Name:        "narrative_generation_duration_seconds",
		Help:        "Wall time spent generating clinical narratives.",
		ConstLabels: constLabels,
		Buckets:     []float64{0.5, 1, 2.5, 5, 10, 30, 60},
	})

	p.protocolsActive = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name:        "protocols_active",
		Help:        "Number of active protocols.",
		ConstLabels: constLabels,
	})

	p.dbPoolAcquiredConn = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name:        "db_pool_acquired_connections",
		Help:        "Number of acquired database pool connections.",
		ConstLabels: constLabels,
	})

	p.dbPoolIdleConn = promauto.With(reg).NewGauge(prometheus.GaugeOpts{
		Name:        "db_pool_idle_connections",
		Help:        "Number of idle database pool connections.",
		ConstLabels: constLabels,
	})

	return p
}

// Registry exposes the underlying registry for test assertions.
func (p *Provider) Registry() *prometheus.Registry {
	return p.registry
}

// Middleware records HTTP server metrics for every request.
func (p *Provider) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.activeRequests.Inc()
			start := time.Now()
			req := c.Request()

			err := next(c)

			p.activeRequests.Dec()

			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			status := c.Response().Status
			if err != nil {
				if httpErr, ok := err.(*echo.HTTPError); ok {
					status = httpErr.Code
				}
			}

			p.requestDuration.WithLabelValues(req.Method, route, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			if req.ContentLength > 0 {
				p.requestSize.Observe(float64(req.ContentLength))
			}
			if size := c.Response().Size; size > 0 {
				p.responseSize.Observe(float64(size))
			}

			return err
		}
	}
}

// Handler serves the registry in Prometheus exposition format.
func (p *Provider) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
}

// MergeObserved counts one template merge. source is the merge path
// (auto, import, apply), result is merged or skipped.
func (p *Provider) MergeObserved(source, result string) {
	p.mergeOps.WithLabelValues(source, result).Inc()
}

// ConflictObserved counts one optimistic concurrency conflict.
func (p *Provider) ConflictObserved() {
	p.versionConflicts.Inc()
}

// NarrativeObserved records a narrative generation attempt.
func (p *Provider) NarrativeObserved(outcome string, elapsed time.Duration) {
	p.narrativesTotal.WithLabelValues(outcome).Inc()
	p.narrativeDuration.Observe(elapsed.Seconds())
}

// SetActiveProtocols updates the active protocol gauge.
func (p *Provider) SetActiveProtocols(n int) {
	p.protocolsActive.Set(float64(n))
}

// SetDBPoolStats updates the connection pool gauges.
func (p *Provider) SetDBPoolStats(acquired, idle int32) {
	p.dbPoolAcquiredConn.Set(float64(acquired))
	p.dbPoolIdleConn.Set(float64(idle))
}

// WatchDBPool refreshes the pool gauges from snap every interval until the
// returned stop function is called. stop is idempotent.
func (p *Provider) WatchDBPool(interval time.Duration, snap func() (acquired, idle int32)) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				p.SetDBPoolStats(snap())
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
