// Package metrics provides Prometheus metrics definitions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wingsight"

var (
	// HTTPRequestDuration tracks local API request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Local API request duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route", "status_code"},
	)

	// GatewayRequestDuration tracks backend gateway call latency.
	GatewayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Backend gateway request duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "outcome"},
	)

	// SubscriptionStoreSize tracks the size of the local subscription set.
	SubscriptionStoreSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "subscriptions",
			Help:      "Number of subscriptions in the local store",
		},
	)
)

// RecordGatewayRequest records a single backend gateway call.
func RecordGatewayRequest(endpoint, outcome string, duration time.Duration) {
	GatewayRequestDuration.WithLabelValues(endpoint, outcome).Observe(duration.Seconds())
}

// RecordStoreSize records the current subscription set size.
func RecordStoreSize(n int) {
	SubscriptionStoreSize.Set(float64(n))
}
