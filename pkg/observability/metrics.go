package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheMetrics exports permission cache activity. It satisfies cache.Observer.
type CacheMetrics struct {
	HitsTotal          *prometheus.CounterVec
	MissesTotal        *prometheus.CounterVec
	ExpirationsTotal   *prometheus.CounterVec
	EvictionsTotal     *prometheus.CounterVec
	InvalidationsTotal *prometheus.CounterVec
	Entries            *prometheus.GaugeVec
}

// NewCacheMetrics creates and registers the cache metrics
func NewCacheMetrics(registry prometheus.Registerer) *CacheMetrics {
	m := &CacheMetrics{
		HitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boardperm_cache_hits_total",
				Help: "Total number of permission cache hits",
			},
			[]string{"cache"},
		),
		MissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boardperm_cache_misses_total",
				Help: "Total number of permission cache misses",
			},
			[]string{"cache"},
		),
		ExpirationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boardperm_cache_expirations_total",
				Help: "Total number of entries dropped after their TTL",
			},
			[]string{"cache"},
		),
		EvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boardperm_cache_evictions_total",
				Help: "Total number of entries evicted at capacity",
			},
			[]string{"cache"},
		),
		InvalidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boardperm_cache_invalidations_total",
				Help: "Total number of entries removed by invalidation",
			},
			[]string{"cache"},
		),
		Entries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "boardperm_cache_entries",
				Help: "Current number of cached entries",
			},
			[]string{"cache"},
		),
	}

	registry.MustRegister(
		m.HitsTotal,
		m.MissesTotal,
		m.ExpirationsTotal,
		m.EvictionsTotal,
		m.InvalidationsTotal,
		m.Entries,
	)

	return m
}

func (m *CacheMetrics) CacheHit(cache string)     { m.HitsTotal.WithLabelValues(cache).Inc() }
func (m *CacheMetrics) CacheMiss(cache string)    { m.MissesTotal.WithLabelValues(cache).Inc() }
func (m *CacheMetrics) CacheExpired(cache string) { m.ExpirationsTotal.WithLabelValues(cache).Inc() }

func (m *CacheMetrics) CacheEvicted(cache string, count int) {
	m.EvictionsTotal.WithLabelValues(cache).Add(float64(count))
}

func (m *CacheMetrics) CacheInvalidated(cache string, count int) {
	m.InvalidationsTotal.WithLabelValues(cache).Add(float64(count))
}

func (m *CacheMetrics) CacheSize(cache string, size int) {
	m.Entries.WithLabelValues(cache).Set(float64(size))
}

// HTTPMetrics holds request metrics for the API server
type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewHTTPMetrics creates and registers the HTTP metrics
func NewHTTPMetrics(registry prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boardperm_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "boardperm_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(m.RequestsTotal, m.RequestDuration)
	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware instruments requests. Routes are labelled by their mux template
// so IDs in the path do not explode label cardinality.
func (m *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := routeTemplate(r)
		m.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
