package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds all Prometheus metrics for the Siren service
type Metrics struct {
	// WebSocket hub metrics
	HubConnections     *prometheus.GaugeVec
	HubMessages        *prometheus.CounterVec
	RoomMembers        *prometheus.GaugeVec
	QueueOverflows     *prometheus.CounterVec
	AuthRejections     *prometheus.CounterVec
	MessageDeliveryLag *prometheus.HistogramVec

	// Event log metrics
	EventLogEntries  *prometheus.CounterVec
	EventLogFailures *prometheus.CounterVec
	EventLogDuration *prometheus.HistogramVec
}
