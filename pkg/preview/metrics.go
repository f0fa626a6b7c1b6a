package preview

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPreviewsRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "stagehand",
		Name:      "previews_running",
		Help:      "Dev-server processes currently supervised and alive.",
	})
	metricSpawnFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stagehand",
		Name:      "preview_spawn_failures_total",
		Help:      "Dev-server processes that failed to start.",
	})
	metricAllocationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stagehand",
		Name:      "preview_port_allocation_failures_total",
		Help:      "Port allocation attempts that found no free port.",
	})
)
