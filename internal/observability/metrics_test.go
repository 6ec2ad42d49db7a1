package observability

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCounters(t *testing.T) {
	t.Parallel()

	m := NewMetrics()

	m.IncAttempt("IOS")
	m.IncAttempt("ios")
	m.IncDelivered("android")
	m.IncDeliveryFailed("ios", "INVALID_TOKEN")
	m.IncRetryScheduled("android")
	m.IncDeviceInvalidated("ios")
	m.ObserveSendDuration("ios", 120*time.Millisecond)
	m.ObserveSweepBatch(7)

	if got := testutil.ToFloat64(m.deliveryAttemptsTotal.WithLabelValues("ios")); got != 2 {
		t.Errorf("delivery attempts = %v, want 2 (labels are normalized)", got)
	}
	if got := testutil.ToFloat64(m.deliveriesSucceededTotal.WithLabelValues("android")); got != 1 {
		t.Errorf("deliveries succeeded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.deliveriesFailedTotal.WithLabelValues("ios", "invalid_token")); got != 1 {
		t.Errorf("deliveries failed = %v, want 1 (code is lowercased)", got)
	}
	if got := testutil.ToFloat64(m.retriesScheduledTotal.WithLabelValues("android")); got != 1 {
		t.Errorf("retries scheduled = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.devicesInvalidatedTotal.WithLabelValues("ios")); got != 1 {
		t.Errorf("devices invalidated = %v, want 1", got)
	}
}

func TestMetricsInFlightGauge(t *testing.T) {
	t.Parallel()

	m := NewMetrics()

	m.IncAttemptInFlight("ios")
	m.IncAttemptInFlight("ios")
	m.DecAttemptInFlight("ios")

	if got := testutil.ToFloat64(m.attemptsInFlight.WithLabelValues("ios")); got != 1 {
		t.Errorf("attempts in flight = %v, want 1", got)
	}
}

func TestMetricsNilReceiverIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics

	m.IncAttempt("ios")
	m.IncDelivered("ios")
	m.IncDeliveryFailed("ios", "UNKNOWN")
	m.IncRetryScheduled("ios")
	m.IncDeviceInvalidated("ios")
	m.ObserveSendDuration("ios", time.Second)
	m.IncAttemptInFlight("ios")
	m.DecAttemptInFlight("ios")
	m.ObserveSweepBatch(3)

	if m.Handler() == nil {
		t.Fatal("Handler must fall back to the default registry")
	}
}

func TestHTTPMiddlewareRecordsRequests(t *testing.T) {
	t.Parallel()

	m := NewMetrics()

	app := fiber.New()
	app.Use(m.HTTPMiddleware())
	app.Get("/v1/notifications/:id", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest(fiber.MethodGet, "/v1/notifications/abc", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/v1/notifications/:id", "200"))
	if got != 1 {
		t.Errorf("http requests = %v, want 1 with the route pattern label", got)
	}
}

func TestHTTPMiddlewareSkipsMetricsEndpoint(t *testing.T) {
	t.Parallel()

	m := NewMetrics()

	app := fiber.New()
	app.Use(m.HTTPMiddleware())
	app.Get("/metrics", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest(fiber.MethodGet, "/metrics", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	got := testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "/metrics", "200"))
	if got != 0 {
		t.Errorf("metrics endpoint must not be recorded, got %v", got)
	}
}
