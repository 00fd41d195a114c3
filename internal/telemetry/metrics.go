package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
)

const namespace = "livequiz"

// Metrics counts session traffic. A nil *Metrics is valid and records nothing.
type Metrics struct {
	framesReceived   *prometheus.CounterVec
	framesDropped    prometheus.Counter
	commandsSent     prometheus.Counter
	connections      *prometheus.CounterVec
	snapshotsApplied prometheus.Counter
	playersAnswered  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		framesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound frames decoded, by kind.",
		}, []string{"kind"}),
		framesDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames that could not be decoded or had an unknown kind.",
		}),
		commandsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_sent_total",
			Help:      "Outbound command frames written to the socket.",
		}),
		connections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Connection lifecycle transitions.",
		}, []string{"event"}),
		snapshotsApplied: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_applied_total",
			Help:      "Snapshots applied by the session view model.",
		}),
		playersAnswered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "player_answered_notifications_total",
			Help:      "Advisory player answered notifications.",
		}),
	}
}

func (m *Metrics) FrameReceived(kind string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) FrameDropped() {
	if m == nil {
		return
	}
	m.framesDropped.Inc()
}

func (m *Metrics) CommandSent() {
	if m == nil {
		return
	}
	m.commandsSent.Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.WithLabelValues("opened").Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.WithLabelValues("closed").Inc()
}

// Subscribe counts the view model events published on the bus.
func (m *Metrics) Subscribe(eb *event.Bus) {
	if m == nil {
		return
	}

	eb.Subscribe(domain.EventNameSnapshotApplied, func(context.Context, event.Event) error {
		m.snapshotsApplied.Inc()
		return nil
	})

	eb.Subscribe(domain.EventNamePlayerAnswered, func(context.Context, event.Event) error {
		m.playersAnswered.Inc()
		return nil
	})
}
