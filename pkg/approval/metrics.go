package approval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPermissionsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "stagehand",
		Name:      "permissions_pending",
		Help:      "Permissions currently awaiting a human decision.",
	})
	metricPermissionsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stagehand",
		Name:      "permissions_resolved_total",
		Help:      "Permissions resolved by a human decision.",
	})
	metricPermissionsTimedOut = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "stagehand",
		Name:      "permissions_timed_out_total",
		Help:      "Permissions denied by the fail-closed timeout.",
	})
)
