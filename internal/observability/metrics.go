package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	engineSpawns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mediactl",
			Subsystem: "engine",
			Name:      "spawns_total",
			Help:      "Engine processes spawned.",
		},
	)
	engineExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediactl",
			Subsystem: "engine",
			Name:      "exits_total",
			Help:      "Engine process exits by outcome.",
		},
		[]string{"outcome"},
	)
	channelRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediactl",
			Subsystem: "channel",
			Name:      "requests_total",
			Help:      "Channel requests by method and outcome.",
		},
		[]string{"method", "outcome"},
	)
	channelNotifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediactl",
			Subsystem: "channel",
			Name:      "notifications_total",
			Help:      "Inbound notifications by disposition.",
		},
		[]string{"disposition"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mediactl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mediactl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			engineSpawns, engineExits,
			channelRequests, channelNotifications,
			httpRequests, httpDuration,
		)
	})
}

func RecordEngineSpawn() {
	RegisterMetrics()
	engineSpawns.Inc()
}

func RecordEngineExit(outcome string) {
	RegisterMetrics()
	engineExits.WithLabelValues(outcome).Inc()
}

func RecordChannelRequest(method, outcome string) {
	RegisterMetrics()
	channelRequests.WithLabelValues(method, outcome).Inc()
}

func RecordNotification(disposition string) {
	RegisterMetrics()
	channelNotifications.WithLabelValues(disposition).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
