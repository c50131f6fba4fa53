package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MonitorMetrics contains Prometheus metrics for the monitor service.
type MonitorMetrics struct {
	MessagesTotal        *prometheus.CounterVec // labels: kind={heartbeat,device_check,sensor_reading,unhandled}
	MessageErrors        *prometheus.CounterVec // labels: kind
	ProcessingDuration   *prometheus.HistogramVec
	NotificationsTotal   *prometheus.CounterVec // labels: type, severity
	NotificationErrors   prometheus.Counter
	BroadcastsTotal      *prometheus.CounterVec // labels: channel_kind={global,device,location}
	ClientsConnected     prometheus.Gauge
	SweepsTotal          prometheus.Counter
	DevicesMarkedOffline prometheus.Counter
	StatusTransitions    *prometheus.CounterVec // labels: from, to
	SensorLogsSaved      prometheus.Counter
	BrokerConnected      prometheus.Gauge
}

// NewMonitorMetrics creates and registers monitor service metrics.
func NewMonitorMetrics(namespace string) *MonitorMetrics {
	m := &MonitorMetrics{
		MessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "messages_total",
				Help:      "Total inbound broker messages by kind",
			},
			[]string{"kind"},
		),
		MessageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "message_errors_total",
				Help:      "Total per-message failures by kind",
			},
			[]string{"kind"},
		),
		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "processing_duration_seconds",
				Help:      "Message handling duration by kind",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notify",
				Name:      "notifications_total",
				Help:      "Total notifications emitted by type and severity",
			},
			[]string{"type", "severity"},
		),
		NotificationErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notify",
				Name:      "notification_errors_total",
				Help:      "Total notifications rejected by validation",
			},
		),
		BroadcastsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ws",
				Name:      "broadcasts_total",
				Help:      "Total websocket broadcasts by channel kind",
			},
			[]string{"channel_kind"},
		),
		ClientsConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "ws",
				Name:      "clients_connected",
				Help:      "Currently connected websocket clients",
			},
		),
		SweepsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweeper",
				Name:      "sweeps_total",
				Help:      "Total offline sweep ticks",
			},
		),
		DevicesMarkedOffline: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sweeper",
				Name:      "devices_marked_offline_total",
				Help:      "Total devices flipped to disconnected by the sweeper",
			},
		),
		StatusTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "status_transitions_total",
				Help:      "Total flood-status transitions by previous and new status",
			},
			[]string{"from", "to"},
		),
		SensorLogsSaved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "sensor_logs_saved_total",
				Help:      "Total sensor readings persisted",
			},
		),
		BrokerConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "broker",
				Name:      "connected",
				Help:      "1 when the MQTT connection is up, 0 otherwise",
			},
		),
	}

	MustRegister(
		m.MessagesTotal,
		m.MessageErrors,
		m.ProcessingDuration,
		m.NotificationsTotal,
		m.NotificationErrors,
		m.BroadcastsTotal,
		m.ClientsConnected,
		m.SweepsTotal,
		m.DevicesMarkedOffline,
		m.StatusTransitions,
		m.SensorLogsSaved,
		m.BrokerConnected,
	)

	return m
}
