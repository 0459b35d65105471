package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmerrifield20/sublease/internal/registrar"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sublease_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sublease_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	registrarCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sublease_registrar_calls_total",
		Help: "Registrar API calls by registrar, operation, and result.",
	}, []string{"registrar", "op", "result"})

	billingEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sublease_billing_events_total",
		Help: "Billing webhook events by type and handling result.",
	}, []string{"type", "result"})

	provisioningFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sublease_dns_provisioning_failures_total",
		Help: "DNS side effects of the rental lifecycle that failed and need manual reconciliation.",
	}, []string{"op"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		requestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordRegistrarCall counts one registrar API call. Its signature matches
// registrar.Observer.
func RecordRegistrarCall(tag registrar.Tag, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	registrarCallsTotal.WithLabelValues(string(tag), op, result).Inc()
}

// RecordBillingEvent counts one webhook delivery.
func RecordBillingEvent(eventType, result string) {
	billingEventsTotal.WithLabelValues(eventType, result).Inc()
}

// RecordProvisioningFailure counts a failed lifecycle DNS side effect.
func RecordProvisioningFailure(op string) {
	provisioningFailuresTotal.WithLabelValues(op).Inc()
}

var dependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "sublease_dependency_up",
	Help: "Whether the last health probe of a dependency succeeded (1) or failed (0).",
}, []string{"dependency"})

// RecordHealthCheck records a dependency probe result.
func RecordHealthCheck(name string, success bool) {
	v := 0.0
	if success {
		v = 1
	}
	dependencyUp.WithLabelValues(name).Set(v)
}
