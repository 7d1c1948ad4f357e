package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "betabae",
		Subsystem: "ws",
		Name:      "connections",
		Help:      "Currently open websocket connections.",
	})

	wsEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "betabae",
		Subsystem: "ws",
		Name:      "events_total",
		Help:      "Validated client events handled by the gateway, by type.",
	}, []string{"type"})

	fanoutDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "betabae",
		Subsystem: "ws",
		Name:      "fanout_dropped_total",
		Help:      "Envelopes dropped during room fanout because a member queue was full.",
	})
)
