// Package metrics defines the Prometheus collectors exported by the tracker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gimbal"

// Metrics groups every collector the tracker updates. A zero registry is
// never used: callers either pass their registry to New or use Discard.
type Metrics struct {
	PacketsSent      *prometheus.CounterVec
	PacketsReceived  *prometheus.CounterVec
	MalformedPackets prometheus.Counter
	RequestTimeouts  *prometheus.CounterVec
	MotionCommands   *prometheus.CounterVec
	TrackerActive    prometheus.Gauge
	TrackingEvents   *prometheus.CounterVec
	DetectionSeconds prometheus.Histogram
	CycleSeconds     prometheus.Histogram
	FramesGrabbed    *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PacketsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "packets_sent_total",
			Help:      "Packets written to the gimbal, by command id",
		}, []string{"cmd"}),
		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "packets_received_total",
			Help:      "Well-formed packets read from the gimbal, by command id",
		}, []string{"cmd"}),
		MalformedPackets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "malformed_packets_total",
			Help:      "Inbound byte runs dropped as link noise",
		}),
		RequestTimeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "request_timeouts_total",
			Help:      "Requests that saw no response within their window",
		}, []string{"cmd"}),
		MotionCommands: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "motion_commands_total",
			Help:      "Rotate commands issued by the control loop",
		}, []string{"kind"}),
		TrackerActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "active",
			Help:      "1 while a target is being tracked",
		}),
		TrackingEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "events_total",
			Help:      "Tracker transitions and misses",
		}, []string{"event"}),
		DetectionSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "duration_seconds",
			Help:      "Time spent in one detection pass",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		}),
		CycleSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "cycle_seconds",
			Help:      "Duration of one control loop cycle",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25},
		}),
		FramesGrabbed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frames",
			Name:      "grabbed_total",
			Help:      "Frames pulled from the video transport, by result",
		}, []string{"result"}),
	}
}

// Discard returns collectors bound to a private registry nobody scrapes.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}

// OrDiscard returns m, or Discard() when m is nil.
func OrDiscard(m *Metrics) *Metrics {
	if m == nil {
		return Discard()
	}
	return m
}
