// Package metrics provides Prometheus instrumentation for the chat
// server: connection gauges, event counters and fan-out latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of live websocket
	// connections.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "socials_connections_active",
		Help: "Current number of active websocket connections",
	})

	// EventsTotal counts inbound realtime events by event name.
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "socials_events_total",
		Help: "Total number of realtime events received",
	}, []string{"event"})

	// MessagesTotal counts messages by the path that produced them.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "socials_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"path"}) // path = "rest", "socket", "fanout"

	// FanoutDuration records how long one message fan-out took.
	FanoutDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "socials_fanout_duration_seconds",
		Help:    "Message fan-out duration in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		EventsTotal,
		MessagesTotal,
		FanoutDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
