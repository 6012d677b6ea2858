package wallet

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	opsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kasuwa",
			Subsystem: "wallet",
			Name:      "operations_total",
			Help:      "Wallet balance operations by type.",
		},
		[]string{"op"},
	)

	opDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kasuwa",
			Subsystem: "wallet",
			Name:      "operation_duration_seconds",
			Help:      "Latency of wallet balance operations.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"op"},
	)
)

// observeOp records one wallet operation and returns a func that stops
// the latency timer.
func observeOp(op string) func() {
	start := time.Now()
	opsTotal.WithLabelValues(op).Inc()
	return func() {
		opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}
