// Package metrics exposes the engine's Prometheus collectors and the
// scrape handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ws_active_connections",
		Help: "Active websocket connections",
	})
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messages_sent_total",
		Help: "Messages persisted and broadcast",
	})
	DroppedSubscribers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ws_dropped_subscribers_total",
		Help: "Room subscribers evicted after a failed send",
	})
)

func Init() {
	prometheus.MustRegister(ActiveConnections, MessagesSent, DroppedSubscribers)
}

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
