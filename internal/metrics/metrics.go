// Package metrics exposes Prometheus collectors for the notifier service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Cycle statuses.
const (
	CycleSuccess = "success"
	CycleFailure = "failure"
)

// Notification results.
const (
	NotificationSent   = "sent"
	NotificationFailed = "failed"
)

var (
	cyclesTotal                *prometheus.CounterVec
	postsDetectedTotal         prometheus.Counter
	notificationsTotal         *prometheus.CounterVec
	fetchAttemptsTotal         *prometheus.CounterVec
	webhookCommandsTotal       *prometheus.CounterVec
	sendWaitSeconds            prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noticebot_cycles_total",
				Help: "Total number of dispatch cycles, labeled by status.",
			},
			[]string{"status"},
		)

		postsDetectedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "noticebot_posts_detected_total",
				Help: "Total number of new posts detected on the board.",
			},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noticebot_notifications_total",
				Help: "Total number of per-recipient notifications, labeled by result.",
			},
			[]string{"result"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noticebot_fetch_attempts_total",
				Help: "Total number of board fetch attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		webhookCommandsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "noticebot_webhook_commands_total",
				Help: "Total number of webhook commands handled, labeled by command.",
			},
			[]string{"command"},
		)

		sendWaitSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "noticebot_send_wait_seconds",
				Help:    "Histogram of time spent waiting on the outbound send limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle increments the cycle counter for the given status.
func ObserveCycle(status string) {
	Init()
	cyclesTotal.WithLabelValues(status).Inc()
}

// ObservePostsDetected adds n newly detected posts.
func ObservePostsDetected(n int) {
	Init()
	if n > 0 {
		postsDetectedTotal.Add(float64(n))
	}
}

// ObserveNotification records a single per-recipient send.
func ObserveNotification(ok bool) {
	Init()
	result := NotificationSent
	if !ok {
		result = NotificationFailed
	}
	notificationsTotal.WithLabelValues(result).Inc()
}

// ObserveFetchAttempt records one fetch attempt outcome.
func ObserveFetchAttempt(outcome string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveWebhookCommand records a handled webhook command.
func ObserveWebhookCommand(command string) {
	Init()
	webhookCommandsTotal.WithLabelValues(command).Inc()
}

// ObserveSendWait records the duration of a limiter wait.
func ObserveSendWait(d time.Duration) {
	Init()
	sendWaitSeconds.Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
