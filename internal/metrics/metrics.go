// Package metrics provides Prometheus instrumentation for the MedLedger service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medledger",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "medledger",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PaymentsIngestedTotal counts remittance records accepted into the ledger by source.
	PaymentsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medledger",
			Name:      "payments_ingested_total",
			Help:      "Total remittance payment records accepted, by source (api, feed).",
		},
		[]string{"source"},
	)

	// PaymentsRejectedTotal counts malformed remittance records by source.
	PaymentsRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medledger",
			Name:      "payments_rejected_total",
			Help:      "Total malformed remittance records rejected, by source (api, feed).",
		},
		[]string{"source"},
	)

	// MatchOutcomesTotal counts matching outcomes by result.
	MatchOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medledger",
			Name:      "match_outcomes_total",
			Help:      "Total payment match outcomes by result (matched, partial_match, unmatched).",
		},
		[]string{"result"},
	)

	// DiscrepanciesTotal counts discrepancies recorded by kind.
	DiscrepanciesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medledger",
			Name:      "discrepancies_total",
			Help:      "Total discrepancies recorded by kind.",
		},
		[]string{"kind"},
	)

	// SessionsTotal counts reconciliation sessions by final status.
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medledger",
			Name:      "reconciliation_sessions_total",
			Help:      "Total reconciliation sessions by final status (committed, conflict, failed).",
		},
		[]string{"status"},
	)

	// SessionDuration observes reconciliation session run time.
	SessionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "medledger",
		Name:      "reconciliation_session_duration_seconds",
		Help:      "Time from session start to commit in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	})

	// DenialScoresTotal counts denial risk assessments by tier.
	DenialScoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "medledger",
			Name:      "denial_scores_total",
			Help:      "Total denial risk assessments by tier (low, medium, high).",
		},
		[]string{"tier"},
	)

	// ActiveSessionLocks tracks currently held reconciliation record locks.
	ActiveSessionLocks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "medledger",
			Name:      "active_session_locks",
			Help:      "Number of ledger records currently locked by reconciliation sessions.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "medledger", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "medledger", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "medledger", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "medledger", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "medledger", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "medledger", Name: "goroutines",
		Help: "Current number of goroutines.",
	})

	// FeedLagSeconds tracks the age of the last remittance feed record consumed.
	FeedLagSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "medledger", Name: "feed_lag_seconds",
		Help: "Seconds between the last consumed feed record's timestamp and now.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		PaymentsIngestedTotal,
		PaymentsRejectedTotal,
		MatchOutcomesTotal,
		DiscrepanciesTotal,
		SessionsTotal,
		SessionDuration,
		DenialScoresTotal,
		ActiveSessionLocks,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
		FeedLagSeconds,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
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
