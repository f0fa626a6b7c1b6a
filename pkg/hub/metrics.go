package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "stagehand",
		Name:      "hub_connections_active",
		Help:      "Number of live event stream connections.",
	})
	metricConnectionsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stagehand",
		Name:      "hub_connections_dropped_total",
		Help:      "Connections removed after a write failure or disconnect.",
	})
	metricEventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stagehand",
		Name:      "hub_events_published_total",
		Help:      "Events published through the hub.",
	})
)
