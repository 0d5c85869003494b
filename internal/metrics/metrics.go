package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var durationBuckets = []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000}

var (
	RequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoheat_requests_total",
		Help: "Total number of /heatmap requests",
	})
	RequestDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geoheat_request_duration_ms",
		Help:    "Request duration in milliseconds",
		Buckets: durationBuckets,
	})
	BadRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoheat_bad_requests_total",
		Help: "Total number of /heatmap requests rejected for malformed input",
	})
	ComputeDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geoheat_compute_duration_ms",
		Help:    "Heatmap aggregation duration in milliseconds",
		Buckets: durationBuckets,
	})
	ComputeFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoheat_compute_fail_total",
		Help: "Total heatmap aggregations that failed at the query layer",
	})
	CellsReturned = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geoheat_cells_returned",
		Help:    "Number of cells per computed heatmap",
		Buckets: []float64{0, 1, 10, 50, 100, 500, 1000, 5000},
	})
	CacheHitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoheat_cache_hits_total",
		Help: "Total cache hits",
	}, []string{"cache"})
	CacheMissesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoheat_cache_misses_total",
		Help: "Total cache misses (including misses caused by store errors)",
	}, []string{"cache"})
	CacheErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoheat_cache_errors_total",
		Help: "Total swallowed cache store errors by operation",
	}, []string{"cache", "op"})
	CacheInvalidatedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoheat_cache_invalidated_keys_total",
		Help: "Total cache keys removed by explicit invalidation",
	}, []string{"cache"})
	IndexRecordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoheat_index_records_total",
		Help: "Spatial index records visited by maintenance jobs, by outcome",
	}, []string{"job", "result"})
	IndexBatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geoheat_index_batches_total",
		Help: "Spatial index batches processed by maintenance jobs",
	}, []string{"job"})
	RateLimitedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geoheat_rate_limited_total",
		Help: "Total requests rejected by the rate limiter",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(BadRequestsTotal)
	prometheus.MustRegister(ComputeDurationMs)
	prometheus.MustRegister(ComputeFailTotal)
	prometheus.MustRegister(CellsReturned)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(CacheErrorsTotal)
	prometheus.MustRegister(CacheInvalidatedTotal)
	prometheus.MustRegister(IndexRecordsTotal)
	prometheus.MustRegister(IndexBatchesTotal)
	prometheus.MustRegister(RateLimitedTotal)
}

// Handler：Prometheus 抓取端点，在主入口挂载到 <API_BASE>/metrics
func Handler() http.Handler { return promhttp.Handler() }
