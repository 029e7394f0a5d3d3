// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace is used when NewMetrics receives an empty namespace.
const DefaultNamespace = "evm_token_lab"

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Resolver metrics
	StoreHits          *prometheus.CounterVec
	StoreMisses        *prometheus.CounterVec
	FetchesTotal       *prometheus.CounterVec
	UnderlyingResolved *prometheus.CounterVec
	ResolveDuration    *prometheus.HistogramVec
	ResolveErrors      *prometheus.CounterVec

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Cache metrics
	CacheRequests *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on reg.
// A nil reg registers on the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		StoreHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "store_hits_total",
			Help:      "Token addresses served from the metadata store",
		}, []string{"pass"}),
		StoreMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "store_misses_total",
			Help:      "Token addresses missing from the metadata store",
		}, []string{"pass"}),
		FetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "fetches_total",
			Help:      "Chain metadata fetches by outcome",
		}, []string{"status"}),
		UnderlyingResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "underlying_tokens_total",
			Help:      "Underlying component tokens discovered from pool tokens",
		}, []string{"chain"}),
		ResolveDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolve_duration_seconds",
			Help:      "Duration of a full resolve call",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode", "status"}),
		ResolveErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "errors_total",
			Help:      "Resolve calls that returned an error, by error kind",
		}, []string{"kind"}),

		RPCCallLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_latency_seconds",
			Help:      "Latency of contract calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database query duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		CacheRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "requests_total",
			Help:      "Read-through cache lookups by result",
		}, []string{"result"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler for a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// RecordStoreLookup records hits and misses of one resolution pass.
func (m *Metrics) RecordStoreLookup(pass string, hits, misses int) {
	if m == nil {
		return
	}
	m.StoreHits.WithLabelValues(pass).Add(float64(hits))
	m.StoreMisses.WithLabelValues(pass).Add(float64(misses))
}

// RecordFetch records one fetch outcome.
func (m *Metrics) RecordFetch(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.FetchesTotal.WithLabelValues(status).Inc()
}

// RecordUnderlying records the number of underlying tokens found on chain.
func (m *Metrics) RecordUnderlying(chain string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.UnderlyingResolved.WithLabelValues(chain).Add(float64(n))
}

// RecordResolve records a resolve call duration.
func (m *Metrics) RecordResolve(mode string, seconds float64, errKind string) {
	if m == nil {
		return
	}
	status := "ok"
	if errKind != "" {
		status = "error"
		m.ResolveErrors.WithLabelValues(errKind).Inc()
	}
	m.ResolveDuration.WithLabelValues(mode, status).Observe(seconds)
}

// RecordRPCLatency records contract call latency.
func (m *Metrics) RecordRPCLatency(method string, seconds float64) {
	if m == nil {
		return
	}
	m.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(database, operation string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// RecordCache records cache hits and misses.
func (m *Metrics) RecordCache(hits, misses int) {
	if m == nil {
		return
	}
	m.CacheRequests.WithLabelValues("hit").Add(float64(hits))
	m.CacheRequests.WithLabelValues("miss").Add(float64(misses))
}
