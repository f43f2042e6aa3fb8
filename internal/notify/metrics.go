package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wingsight"

var (
	pollTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "poll_ticks_total",
			Help:      "Total poller ticks by outcome",
		},
		[]string{"result"},
	)

	notificationsDisplayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "displayed_total",
			Help:      "Total notifications surfaced to the user",
		},
	)
)

// recordPollTick records one poller tick outcome.
func recordPollTick(result string) {
	pollTicks.WithLabelValues(result).Inc()
}

// recordDisplayed records a notification shown to the user.
func recordDisplayed() {
	notificationsDisplayed.Inc()
}
