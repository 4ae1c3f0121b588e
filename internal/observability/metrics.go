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

const namespace = "lifelink_engine"

// Metrics stores Prometheus collectors used by the API, the matching engine
// and background loops. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDuration       *prometheus.HistogramVec
	requestsSubmittedTotal    *prometheus.CounterVec
	requestTransitionsTotal   *prometheus.CounterVec
	notificationsDispatched   *prometheus.CounterVec
	notificationSendDuration  *prometheus.HistogramVec
	donorResponsesTotal       *prometheus.CounterVec
	escalationActionsTotal    *prometheus.CounterVec
	sweepDuration             prometheus.Histogram
	handoffsTotal             *prometheus.CounterVec
	storageRetriesTotal       prometheus.Counter
	escalationLogsPrunedTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		requestsSubmittedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_submitted_total",
				Help:      "Total number of blood requests submitted by urgency.",
			},
			[]string{"urgency"},
		),
		requestTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "request_transitions_total",
				Help:      "Total number of requests entering a non-pending state.",
			},
			[]string{"state"},
		),
		notificationsDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_dispatched_total",
				Help:      "Total number of donor notifications by channel and send result.",
			},
			[]string{"channel", "result"},
		),
		notificationSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "notification_send_duration_seconds",
				Help:      "Provider send duration in seconds grouped by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		donorResponsesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "donor_responses_total",
				Help:      "Total number of resolved donor notifications by outcome.",
			},
			[]string{"outcome"},
		),
		escalationActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalation_actions_total",
				Help:      "Total number of autonomous escalation actions by type.",
			},
			[]string{"action"},
		),
		sweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "escalation_sweep_duration_seconds",
				Help:      "Duration of escalation sweeps in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
		handoffsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bloodbank_handoffs_total",
				Help:      "Total number of blood-bank handoff publish attempts by result.",
			},
			[]string{"result"},
		),
		storageRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_retries_total",
				Help:      "Total number of retried storage transactions.",
			},
		),
		escalationLogsPrunedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "escalation_logs_pruned_total",
				Help:      "Total number of escalation log rows removed by retention cleanup.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.requestsSubmittedTotal,
		m.requestTransitionsTotal,
		m.notificationsDispatched,
		m.notificationSendDuration,
		m.donorResponsesTotal,
		m.escalationActionsTotal,
		m.sweepDuration,
		m.handoffsTotal,
		m.storageRetriesTotal,
		m.escalationLogsPrunedTotal,
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
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncRequestSubmitted(urgency string) {
	if m == nil {
		return
	}
	m.requestsSubmittedTotal.WithLabelValues(normalizeLabel(urgency)).Inc()
}

func (m *Metrics) IncRequestTransition(state string) {
	if m == nil {
		return
	}
	m.requestTransitionsTotal.WithLabelValues(normalizeLabel(state)).Inc()
}

func (m *Metrics) IncNotificationDispatched(channel string, delivered bool) {
	if m == nil {
		return
	}
	result := "sent"
	if !delivered {
		result = "failed"
	}
	m.notificationsDispatched.WithLabelValues(normalizeLabel(channel), result).Inc()
}

func (m *Metrics) ObserveNotificationSendDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.notificationSendDuration.WithLabelValues(normalizeLabel(channel)).Observe(seconds)
}

func (m *Metrics) IncDonorResponse(outcome string) {
	if m == nil {
		return
	}
	m.donorResponsesTotal.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Metrics) IncEscalationAction(action string) {
	if m == nil {
		return
	}
	m.escalationActionsTotal.WithLabelValues(normalizeLabel(action)).Inc()
}

func (m *Metrics) ObserveSweepDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(max(duration.Seconds(), 0))
}

func (m *Metrics) IncHandoff(published bool) {
	if m == nil {
		return
	}
	result := "published"
	if !published {
		result = "failed"
	}
	m.handoffsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncStorageRetry() {
	if m == nil {
		return
	}
	m.storageRetriesTotal.Inc()
}

func (m *Metrics) AddEscalationLogsPruned(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.escalationLogsPrunedTotal.Add(float64(n))
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

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
