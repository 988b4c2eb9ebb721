package metrics

import "github.com/prometheus/client_golang/prometheus"

var HttpRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests received",
	},
	[]string{"endpoint", "status", "method"},
)

var HttpRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"endpoint", "method"},
)

var HttpRateLimitRejectionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "http_rate_limit_rejections_total",
		Help: "Total number of HTTP requests rejected due to rate limiting",
	},
)

// PushDeliveriesTotal counts per-subscription outcomes:
// delivered, gone, failed, invalid_key, encrypt_error.
var PushDeliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "push_deliveries_total",
		Help: "Total number of push deliveries by outcome",
	},
	[]string{"outcome"},
)

var PushSendDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "push_send_duration_seconds",
		Help:    "Duration of HTTP requests to push services in seconds",
		Buckets: prometheus.DefBuckets,
	},
)

var PushDispatchBatchesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "push_dispatch_batches_total",
		Help: "Total number of notification batches dispatched",
	},
)

var PushSubscriptionsRemovedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "push_subscriptions_removed_total",
		Help: "Total number of subscriptions deleted after a 404/410 response",
	},
)

func Init() {
	prometheus.MustRegister(HttpRequestsTotal)
	prometheus.MustRegister(HttpRequestDuration)
	prometheus.MustRegister(HttpRateLimitRejectionsTotal)
	prometheus.MustRegister(PushDeliveriesTotal)
	prometheus.MustRegister(PushSendDuration)
	prometheus.MustRegister(PushDispatchBatchesTotal)
	prometheus.MustRegister(PushSubscriptionsRemovedTotal)
}
