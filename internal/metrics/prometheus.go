package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
)

var (
	// RequestsTotal tracks total HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "endpoint", "status"},
	)

	// RequestDuration tracks HTTP request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "endpoint"},
	)

	// ActiveFlows tracks booking flows held in memory
	ActiveFlows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reservation_flows_active",
			Help: "Number of booking flows currently held in memory",
		},
	)

	// FlowsExpired counts flows torn down by the idle sweeper
	FlowsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reservation_flows_expired_total",
			Help: "Total number of booking flows removed after idling out",
		},
	)

	// PreflightOutcomes counts preflight checks by outcome
	PreflightOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_preflight_total",
			Help: "Total number of preflight availability checks by outcome",
		},
		[]string{"outcome"},
	)

	// SubmissionOutcomes counts reservation submissions by status
	SubmissionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_submissions_total",
			Help: "Total number of reservation submissions by status",
		},
		[]string{"status"},
	)

	// NegotiationActions counts answers to submission conflicts
	NegotiationActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservation_negotiation_actions_total",
			Help: "Total number of conflict negotiation answers by action",
		},
		[]string{"action"},
	)

	// CircuitBreakerState tracks circuit breaker state (0=closed, 1=open, 2=half-open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"service", "circuit_name"},
	)
)

// BreakerStateRecorder returns an OnStateChange hook that exports breaker state
func BreakerStateRecorder(serviceName string) func(name string, from, to gobreaker.State) {
	return func(name string, _ gobreaker.State, to gobreaker.State) {
		state := float64(0)
		switch to {
		case gobreaker.StateOpen:
			state = 1
		case gobreaker.StateHalfOpen:
			state = 2
		}
		CircuitBreakerState.WithLabelValues(serviceName, name).Set(state)
	}
}

// PrometheusMiddleware creates a Gin middleware for automatic metrics collection
func PrometheusMiddleware(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		RequestsTotal.WithLabelValues(
			serviceName,
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()

		RequestDuration.WithLabelValues(
			serviceName,
			c.Request.Method,
			endpoint,
		).Observe(time.Since(start).Seconds())
	}
}
