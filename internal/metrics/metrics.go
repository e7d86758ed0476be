package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_http_requests_total", Help: "HTTP requests"},
		[]string{"method", "route", "status"},
	)
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	DispatchRequestsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_requests_published_total", Help: "Dispatch requests published to the queue"},
	)
	DispatchRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_runs_total", Help: "Dispatch pipeline runs by outcome"},
		[]string{"outcome"},
	)
	QuotaRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_quota_rejections_total", Help: "Sends refused because provider quota was exhausted"},
		[]string{"provider"},
	)

	MessagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "messages_sent_total", Help: "Messages accepted by a provider"},
		[]string{"provider"},
	)
	MessagesFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "messages_failed_total", Help: "Messages a provider did not accept"},
		[]string{"provider", "reason"},
	)
	SendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "message_send_duration_seconds",
			Help:    "Time spent in a provider send call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	WebhookEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_events_total", Help: "Delivery events received by provider, kind and result"},
		[]string{"provider", "kind", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		APIRequestsTotal, APIRequestDuration,
		DispatchRequestsPublished, DispatchRuns, QuotaRejections,
		MessagesSent, MessagesFailed, SendDuration,
		WebhookEvents,
	)
}

func Handler() http.Handler { return promhttp.Handler() }
