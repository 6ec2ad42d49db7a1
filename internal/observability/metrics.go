package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors for the API and dispatch flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	deliveryAttemptsTotal    *prometheus.CounterVec
	deliveriesSucceededTotal *prometheus.CounterVec
	deliveriesFailedTotal    *prometheus.CounterVec
	retriesScheduledTotal    *prometheus.CounterVec
	devicesInvalidatedTotal  *prometheus.CounterVec
	providerSendDuration     *prometheus.HistogramVec
	attemptsInFlight         *prometheus.GaugeVec
	sweepBatchSize           prometheus.Histogram
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "push_dispatch",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "push_dispatch",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		deliveryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "push_dispatch",
				Name:      "delivery_attempts_total",
				Help:      "Total number of provider send attempts grouped by platform.",
			},
			[]string{"platform"},
		),
		deliveriesSucceededTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "push_dispatch",
				Name:      "deliveries_succeeded_total",
				Help:      "Total number of deliveries that reached SUCCESS.",
			},
			[]string{"platform"},
		),
		deliveriesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "push_dispatch",
				Name:      "deliveries_failed_total",
				Help:      "Total number of deliveries that exhausted their attempts, by error code.",
			},
			[]string{"platform", "code"},
		),
		retriesScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "push_dispatch",
				Name:      "retries_scheduled_total",
				Help:      "Total number of delivery retries scheduled with backoff.",
			},
			[]string{"platform"},
		),
		devicesInvalidatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "push_dispatch",
				Name:      "devices_invalidated_total",
				Help:      "Total number of devices deleted after a permanent token failure.",
			},
			[]string{"platform"},
		),
		providerSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "push_dispatch",
				Name:      "provider_send_duration_seconds",
				Help:      "Provider send duration in seconds grouped by platform.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"platform"},
		),
		attemptsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "push_dispatch",
				Name:      "attempts_in_flight",
				Help:      "Current number of in-flight delivery attempts grouped by platform.",
			},
			[]string{"platform"},
		),
		sweepBatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "push_dispatch",
				Name:      "sweep_batch_size",
				Help:      "Number of retry-eligible deliveries picked up per sweep.",
				Buckets:   prometheus.LinearBuckets(0, 5, 10),
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.deliveryAttemptsTotal,
		m.deliveriesSucceededTotal,
		m.deliveriesFailedTotal,
		m.retriesScheduledTotal,
		m.devicesInvalidatedTotal,
		m.providerSendDuration,
		m.attemptsInFlight,
		m.sweepBatchSize,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncAttempt(platform string) {
	if m == nil {
		return
	}
	m.deliveryAttemptsTotal.WithLabelValues(normalizePlatform(platform)).Inc()
}

func (m *Metrics) IncDelivered(platform string) {
	if m == nil {
		return
	}
	m.deliveriesSucceededTotal.WithLabelValues(normalizePlatform(platform)).Inc()
}

func (m *Metrics) IncDeliveryFailed(platform string, code string) {
	if m == nil {
		return
	}
	codeLabel := strings.TrimSpace(strings.ToLower(code))
	if codeLabel == "" {
		codeLabel = "unknown"
	}
	m.deliveriesFailedTotal.WithLabelValues(normalizePlatform(platform), codeLabel).Inc()
}

func (m *Metrics) IncRetryScheduled(platform string) {
	if m == nil {
		return
	}
	m.retriesScheduledTotal.WithLabelValues(normalizePlatform(platform)).Inc()
}

func (m *Metrics) IncDeviceInvalidated(platform string) {
	if m == nil {
		return
	}
	m.devicesInvalidatedTotal.WithLabelValues(normalizePlatform(platform)).Inc()
}

func (m *Metrics) ObserveSendDuration(platform string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.providerSendDuration.WithLabelValues(normalizePlatform(platform)).Observe(seconds)
}

func (m *Metrics) IncAttemptInFlight(platform string) {
	if m == nil {
		return
	}
	m.attemptsInFlight.WithLabelValues(normalizePlatform(platform)).Inc()
}

func (m *Metrics) DecAttemptInFlight(platform string) {
	if m == nil {
		return
	}
	m.attemptsInFlight.WithLabelValues(normalizePlatform(platform)).Dec()
}

func (m *Metrics) ObserveSweepBatch(size int) {
	if m == nil {
		return
	}
	if size < 0 {
		size = 0
	}
	m.sweepBatchSize.Observe(float64(size))
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizePlatform(platform string) string {
	normalized := strings.ToLower(strings.TrimSpace(platform))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
