// Package metrics provides Prometheus instrumentation for the riskserve API.
package metrics

import (
	"context"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finsight/riskserve/internal/cache"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskserve",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "riskserve",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PredictionsTotal counts predictions served by cache outcome.
	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskserve",
			Name:      "predictions_total",
			Help:      "Total predictions served, labeled by cache outcome (hit/miss).",
		},
		[]string{"cache"},
	)

	// DecisionsTotal counts credit decisions by outcome and risk tier.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "riskserve",
			Name:      "decisions_total",
			Help:      "Total credit decisions by final decision and risk tier.",
		},
		[]string{"decision", "risk_tier"},
	)

	// OverridesTotal counts policy overrides that replaced a decision.
	OverridesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "riskserve",
		Name:      "policy_overrides_total",
		Help:      "Total decisions replaced by a mandatory policy override.",
	})

	// EscalationsTotal counts explanation-driven risk tier escalations.
	EscalationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "riskserve",
		Name:      "risk_escalations_total",
		Help:      "Total risk tier escalations driven by strong risk factors.",
	})

	// --- Cache gauges, sampled from cache.Stats() ---

	CacheHits = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskserve", Name: "cache_hits_total",
		Help: "Cumulative prediction cache hits.",
	})
	CacheMisses = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskserve", Name: "cache_misses_total",
		Help: "Cumulative prediction cache misses.",
	})
	CacheEvictions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskserve", Name: "cache_evictions_total",
		Help: "Cumulative LRU evictions.",
	})
	CacheExpirations = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskserve", Name: "cache_expirations_total",
		Help: "Cumulative TTL expirations.",
	})
	CacheHighRiskBypasses = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskserve", Name: "cache_high_risk_bypasses_total",
		Help: "Cumulative puts skipped because the prediction was high risk.",
	})
	CacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskserve", Name: "cache_entries",
		Help: "Current number of cached predictions.",
	})
	CacheHitRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskserve", Name: "cache_hit_rate",
		Help: "Prediction cache hit rate over the process lifetime.",
	})

	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "riskserve", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PredictionsTotal,
		DecisionsTotal,
		OverridesTotal,
		EscalationsTotal,
		CacheHits,
		CacheMisses,
		CacheEvictions,
		CacheExpirations,
		CacheHighRiskBypasses,
		CacheSize,
		CacheHitRate,
		GoroutineCount,
	)
}

// StartCacheStatsCollector periodically samples cache counters and the
// runtime goroutine count into Prometheus gauges. Call in a goroutine;
// exits when ctx is done.
func StartCacheStatsCollector(ctx context.Context, c *cache.Cache, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			RecordCacheStats(c.Stats())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// RecordCacheStats copies a cache snapshot into the gauges.
func RecordCacheStats(stats cache.Stats) {
	CacheHits.Set(float64(stats.Hits))
	CacheMisses.Set(float64(stats.Misses))
	CacheEvictions.Set(float64(stats.Evictions))
	CacheExpirations.Set(float64(stats.Expirations))
	CacheHighRiskBypasses.Set(float64(stats.HighRiskBypasses))
	CacheSize.Set(float64(stats.CurrentSize))
	CacheHitRate.Set(stats.HitRate)
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
