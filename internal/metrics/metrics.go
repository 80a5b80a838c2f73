// Package metrics provides Prometheus instrumentation for the facilitator.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrowd",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "escrowd",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ChallengesIssued counts 402 challenges returned to callers.
	ChallengesIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "escrowd",
			Name:      "payment_challenges_total",
			Help:      "Total 402 payment challenges issued.",
		},
	)

	// PaymentsAccepted counts accepted payment proofs by scheme.
	PaymentsAccepted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrowd",
			Name:      "payments_accepted_total",
			Help:      "Accepted payment proofs by header scheme.",
		},
		[]string{"scheme"},
	)

	// PaymentsRejected counts rejected payment attempts by reason class.
	PaymentsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrowd",
			Name:      "payments_rejected_total",
			Help:      "Rejected payment attempts by reason.",
		},
		[]string{"reason"},
	)

	// SettlementsTotal counts settlement outcomes (settled, refunded, failed).
	SettlementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrowd",
			Name:      "settlements_total",
			Help:      "Settlement attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// RailFallbacks counts internal-route misses that fell back to the external route.
	RailFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "escrowd",
			Name:      "rail_fallbacks_total",
			Help:      "Payouts retried on the external rail route after an internal-route recipient miss.",
		},
	)

	// DisputesTotal counts dispute workflow events.
	DisputesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrowd",
			Name:      "disputes_total",
			Help:      "Dispute workflow events by kind (filed, analyzed, resolved_refund, resolved_reject).",
		},
		[]string{"event"},
	)

	// SweepRuns observes the auto-settle sweep results.
	SweepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escrowd",
			Name:      "sweep_transactions_total",
			Help:      "Auto-settle sweep transaction results (settled, failed).",
		},
		[]string{"result"},
	)

	// SweepDuration observes time spent per sweep tick.
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "escrowd",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of auto-settle sweep ticks.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry.
// Safe to call more than once.
func Register() {
	registerOnce.Do(register)
}

func register() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ChallengesIssued,
		PaymentsAccepted,
		PaymentsRejected,
		SettlementsTotal,
		RailFallbacks,
		DisputesTotal,
		SweepRuns,
		SweepDuration,
	)
}

// Handler returns the /metrics endpoint handler.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// Middleware instruments HTTP requests.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status()),
		).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).
			Observe(time.Since(start).Seconds())
	}
}
