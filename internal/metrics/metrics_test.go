package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.PacketsSent.WithLabelValues("0x07").Inc()
	m.MalformedPackets.Add(2)
	m.TrackerActive.Set(1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PacketsSent.WithLabelValues("0x07")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MalformedPackets))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["gimbal_link_packets_sent_total"])
	assert.True(t, names["gimbal_tracker_active"])
}

func TestDiscardIsIndependent(t *testing.T) {
	// Two private registries must not collide on registration.
	a := Discard()
	b := OrDiscard(nil)
	a.MalformedPackets.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.MalformedPackets))

	assert.Same(t, a, OrDiscard(a))
}
