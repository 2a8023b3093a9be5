package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "syncplay"

type Metrics struct {
	DevicesConnected prometheus.Gauge
	MessagesRelayed  *prometheus.CounterVec
	SchedulesIssued  *prometheus.CounterVec
	ClockProbes      prometheus.Counter
	FramesDropped    *prometheus.CounterVec
	MessagesRejected *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DevicesConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices_connected",
			Help:      "Number of devices currently registered.",
		}),
		MessagesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_relayed_total",
			Help:      "Transport events relayed to other devices, by type.",
		}, []string{"type"}),
		SchedulesIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedules_issued_total",
			Help:      "Synchronized start schedules broadcast, by type.",
		}, []string{"type"}),
		ClockProbes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clock_probes_total",
			Help:      "Clock probes answered.",
		}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Outgoing frames dropped because a device queue was full or closed.",
		}, []string{"type"}),
		MessagesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_rejected_total",
			Help:      "Inbound messages dropped, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.DevicesConnected,
		m.MessagesRelayed,
		m.SchedulesIssued,
		m.ClockProbes,
		m.FramesDropped,
		m.MessagesRejected,
	)

	return m
}
