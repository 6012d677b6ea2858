// Package metrics provides Prometheus instrumentation for the settlement engine.
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
			Namespace: "kasuwa",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kasuwa",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HoldsCreatedTotal counts escrow holds created.
	HoldsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kasuwa",
		Name:      "escrow_holds_created_total",
		Help:      "Total escrow holds created.",
	})

	// HoldsReleasedTotal counts holds released to seller wallets.
	HoldsReleasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kasuwa",
		Name:      "escrow_holds_released_total",
		Help:      "Total escrow holds released to seller wallets.",
	})

	// HoldsRefundedTotal counts holds refunded to buyers.
	HoldsRefundedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kasuwa",
		Name:      "escrow_holds_refunded_total",
		Help:      "Total escrow holds refunded to buyers.",
	})

	// DuplicateTriggersTotal counts release/refund calls that hit an
	// already-settled hold (retried webhooks, double-clicked admin buttons).
	DuplicateTriggersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kasuwa",
		Name:      "settlement_duplicate_triggers_total",
		Help:      "Settlement calls rejected because the hold was already settled.",
	}, []string{"operation"})

	// WithdrawalsTotal counts processed withdrawal requests by outcome.
	WithdrawalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kasuwa",
		Name:      "withdrawals_total",
		Help:      "Total withdrawal requests processed by outcome.",
	}, []string{"outcome"})

	// RailRequestsTotal counts external rail calls by rail and result.
	RailRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kasuwa",
		Name:      "rail_requests_total",
		Help:      "External gateway/payout rail calls by rail and result.",
	}, []string{"rail", "result"})

	// ReconciliationDriftWallets tracks wallets whose balance disagrees
	// with the sum of their transaction entries.
	ReconciliationDriftWallets = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kasuwa",
		Name:      "reconciliation_drift_wallets",
		Help:      "Wallets with balance drift above the alert threshold at last run.",
	})

	// ActiveWebSocketClients tracks connected admin-console feed clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kasuwa",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kasuwa", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kasuwa", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kasuwa", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kasuwa", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HoldsCreatedTotal,
		HoldsReleasedTotal,
		HoldsRefundedTotal,
		DuplicateTriggersTotal,
		WithdrawalsTotal,
		RailRequestsTotal,
		ReconciliationDriftWallets,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
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
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Route pattern, not actual path (avoids cardinality explosion)
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
