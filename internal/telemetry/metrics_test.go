package telemetry_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/telemetry"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	m := telemetry.NewMetrics(reg)

	m.FrameReceived("state")
	m.FrameReceived("state")
	m.FrameDropped()
	m.CommandSent()
	m.ConnectionOpened()

	eb := event.NewBus()
	m.Subscribe(eb)
	eb.Publish(context.Background(), domain.EventSnapshotApplied{Seq: 1})
	eb.Publish(context.Background(), domain.EventPlayerAnswered{})
	eb.Stop()

	n, err := testutil.GatherAndCount(reg,
		"livequiz_frames_received_total",
		"livequiz_frames_dropped_total",
		"livequiz_commands_sent_total",
		"livequiz_connections_total",
		"livequiz_snapshots_applied_total",
		"livequiz_player_answered_notifications_total",
	)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	assert.Equal(t, 2.0, testutil.ToFloat64(counter(t, reg, "livequiz_frames_received_total")))
	assert.Equal(t, 1.0, testutil.ToFloat64(counter(t, reg, "livequiz_snapshots_applied_total")))
}

func TestMetrics_Nil(t *testing.T) {
	var m *telemetry.Metrics

	assert.NotPanics(t, func() {
		m.FrameReceived("state")
		m.FrameDropped()
		m.CommandSent()
		m.ConnectionOpened()
		m.ConnectionClosed()
		m.Subscribe(event.NewBus())
	})
}

// counter re-collects a single metric family so ToFloat64 can read it.
func counter(t *testing.T, reg *prometheus.Registry, name string) prometheus.Collector {
	t.Helper()

	families, err := reg.Gather()
	require.NoError(t, err)

	for _, f := range families {
		if f.GetName() != name {
			continue
		}

		var total float64
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}

		c := prometheus.NewCounter(prometheus.CounterOpts{Name: name})
		c.Add(total)
		return c
	}

	t.Fatalf("metric %s not found", name)
	return nil
}
