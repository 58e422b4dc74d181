package amqp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric names follow the internal/rescue/rescue.go pattern: a package
// namespace, promauto registration at package init so every Connection in
// a process shares one registry instead of each instantiating its own.
const metricsNamespace = "amqpcore"

var (
	connectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "connection_state",
		Help:      "current Connection state as an enum value (see amqp.state)",
	})

	heartbeatsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "heartbeats_sent_total",
		Help:      "total outbound heartbeat frames written",
	})

	heartbeatsMissed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "heartbeats_missed_total",
		Help:      "total times the inbound heartbeat grace period was exceeded",
	})

	reconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "reconnect_attempts_total",
		Help:      "total reconnect attempts made by the Reconnection Supervisor",
	})
)

func observeConnectionState(s state) {
	connectionState.Set(float64(s))
}

func observeHeartbeatSent() {
	heartbeatsSent.Inc()
}

func observeHeartbeatMissed() {
	heartbeatsMissed.Inc()
}

func observeReconnectAttempt() {
	reconnectAttempts.Inc()
}
