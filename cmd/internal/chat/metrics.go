package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "betabae",
		Subsystem: "chat",
		Name:      "messages_sent_total",
		Help:      "Messages accepted by the dispatcher, labeled by conversation type.",
	}, []string{"type"})

	botFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "betabae",
		Subsystem: "chat",
		Name:      "bot_failures_total",
		Help:      "Automated responder calls that failed.",
	})
)
