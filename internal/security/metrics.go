package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// StoreLatency records document database operation latency.
	StoreLatency *prometheus.HistogramVec

	// StoreErrorsTotal counts failed document database operations (not-found excluded).
	StoreErrorsTotal *prometheus.CounterVec

	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// ValueSizeBytes observes the estimated encoded size of every value written.
	ValueSizeBytes prometheus.Histogram

	// DBPoolOpenConnections tracks the number of currently open SQL connections.
	DBPoolOpenConnections prometheus.Gauge
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Only the first call registers. Until then every recording helper is a no-op.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_datastore_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_datastore_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_datastore_store_latency_seconds",
			Help:    "Document database operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	StoreErrorsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_datastore_store_errors_total",
			Help: "Total failed document database operations",
		},
		[]string{"operation"},
	)

	CacheHitsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "agent_datastore_cache_hits_total",
		Help: "Total document cache hits",
	})

	CacheMissesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "agent_datastore_cache_misses_total",
		Help: "Total document cache misses",
	})

	ValueSizeBytes = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "agent_datastore_value_size_bytes",
		Help:    "Estimated JSON size of stored values in bytes",
		Buckets: prometheus.ExponentialBuckets(64, 4, 10),
	})

	DBPoolOpenConnections = f.NewGauge(prometheus.GaugeOpts{
		Name: "agent_datastore_db_pool_open_connections",
		Help: "Number of open SQL connections",
	})
}

// ObserveValueSize records the estimated size of a stored value.
func ObserveValueSize(bytes int) {
	if ValueSizeBytes != nil {
		ValueSizeBytes.Observe(float64(bytes))
	}
}

// ObserveStore records the latency of a document database operation started at start,
// and counts it as an error when failed is set.
func ObserveStore(operation string, start time.Time, failed bool) {
	if StoreLatency == nil {
		return
	}
	StoreLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if failed {
		StoreErrorsTotal.WithLabelValues(operation).Inc()
	}
}

// CacheHit counts a document cache hit.
func CacheHit() {
	if CacheHitsTotal != nil {
		CacheHitsTotal.Inc()
	}
}

// CacheMiss counts a document cache miss.
func CacheMiss() {
	if CacheMissesTotal != nil {
		CacheMissesTotal.Inc()
	}
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}
