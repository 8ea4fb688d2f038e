package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wrapper_requests_total",
			Help: "Total wrapper requests",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wrapper_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wrapper_in_flight",
		Help: "In-flight HTTP requests",
	})
	CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wrapper_cache_hits_total",
		Help: "Variant cache hits",
	})
	CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wrapper_cache_misses_total",
		Help: "Variant cache misses",
	})
	CacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wrapper_cache_evictions_total",
		Help: "Entries removed by sweep, expiry or capacity",
	})
	CacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wrapper_cache_entries",
		Help: "Current variant cache size",
	})
	RuleEvaluations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "wrapper_rule_evaluations_total",
		Help: "Full rule-set evaluations (cache misses that reached the evaluator)",
	})
	ABAssignments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wrapper_ab_assignments_total",
			Help: "A/B variant assignments by variant name",
		}, []string{"variant"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal, Latency, InFlight,
		CacheHits, CacheMisses, CacheEvictions, CacheEntries,
		RuleEvaluations, ABAssignments,
	)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
