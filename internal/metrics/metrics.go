package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapcart_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapcart_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	checkoutCommits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapcart_checkout_commits_total",
			Help: "Checkout commits by payment method and outcome",
		},
		[]string{"payment_method", "outcome"},
	)

	checkoutDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snapcart_checkout_commit_duration_seconds",
			Help:    "Duration of checkout commits",
			Buckets: prometheus.DefBuckets,
		},
	)

	orderOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapcart_order_operations_total",
			Help: "Total number of order lifecycle operations",
		},
		[]string{"operation", "status"},
	)

	reconciled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapcart_reconciliation_actions_total",
			Help: "Records fixed by the reconciliation worker",
		},
		[]string{"action"},
	)
)

// Outcome labels for RecordCheckout.
const (
	OutcomeCreated  = "created"
	OutcomeReplayed = "replayed"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeFailed   = "failed"
)

// PrometheusMiddleware records request count and latency per route.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
	}
}

func RecordCheckout(paymentMethod, outcome string, took time.Duration) {
	checkoutCommits.WithLabelValues(paymentMethod, outcome).Inc()
	checkoutDuration.Observe(took.Seconds())
}

func RecordOrderOperation(operation string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	orderOperations.WithLabelValues(operation, status).Inc()
}

func RecordReconciled(action string, n int) {
	reconciled.WithLabelValues(action).Add(float64(n))
}
