package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	QueueItemsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "misconception_queue_processed_total",
			Help: "Misconception queue items processed, by outcome",
		},
		[]string{"outcome"},
	)

	LLMCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "misconception_llm_calls_total",
			Help: "Calls made to LLM providers, by provider and status",
		},
		[]string{"provider", "status"},
	)

	ExplanationCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "misconception_cache_hits_total",
			Help: "Explanation cache hits",
		},
	)

	QueueBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "misconception_queue_batch_duration_seconds",
			Help:    "Duration of a queue processor batch",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120},
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			QueueItemsProcessed,
			LLMCalls,
			ExplanationCacheHits,
			QueueBatchDuration,
		)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
