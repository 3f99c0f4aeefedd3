package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fieldtrack"

var (
	// FixDecisions counts filter outcomes by decision (accept/reject) and reason.
	FixDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "filter",
			Name:      "decisions_total",
			Help:      "Raw fixes processed by the quality filter",
		},
		[]string{"decision", "reason"},
	)

	// PointsDropped counts pending points evicted by the capacity bound.
	PointsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "points_dropped_total",
		Help:      "Pending points evicted because the queue exceeded its cap",
	})

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Point store operations that failed",
		},
		[]string{"op"},
	)

	PendingPoints = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "pending_points",
		Help:      "Points waiting for delivery after the last insert",
	})

	BatchesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "batches_sent_total",
			Help:      "Telemetry batches written to the uplink",
		},
		[]string{"transport", "kind"},
	)

	BatchesAcked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "batches_acked_total",
			Help:      "Telemetry batches acknowledged by the collector",
		},
		[]string{"transport"},
	)

	ConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts by result",
		},
		[]string{"result"},
	)

	Connected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "connected",
		Help:      "1 while the persistent uplink connection is open",
	})

	RelayPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "points_total",
			Help:      "Points handed to the mesh relay by result",
		},
		[]string{"result"},
	)
)
