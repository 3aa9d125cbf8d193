package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"screenshare/internal/capture"
)

const namespace = "screenshare"

// Drop reasons for the frames_dropped_total counter.
const (
	dropLate      = "late"
	dropQueueFull = "queue_full"
	dropMuted     = "muted"
)

// Metrics is the engine's Prometheus instrumentation.
type Metrics struct {
	FramesDelivered prometheus.Counter
	FramesDropped   *prometheus.CounterVec
	AudioDropped    prometheus.Counter
	Overruns        prometheus.Counter
	Sessions        *prometheus.CounterVec
	OpenHandles     prometheus.GaugeFunc
}

// NewMetrics creates the engine collectors and registers them with reg when
// reg is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "frames_delivered_total",
			Help: "Video frames handed to the consumer.",
		}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "frames_dropped_total",
			Help: "Video frames dropped before delivery.",
		}, []string{"reason"}),
		AudioDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "audio_frames_dropped_total",
			Help: "PCM sample frames dropped on buffer overflow.",
		}),
		Overruns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "audio_overruns_total",
			Help: "PCM buffer overrun episodes.",
		}),
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "engine", Name: "sessions_total",
			Help: "Capture sessions by start result.",
		}, []string{"result"}),
		OpenHandles: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "capture", Name: "open_handles",
			Help: "Native capture handles currently open in the process.",
		}, func() float64 { return float64(capture.OpenHandles()) }),
	}
	if reg != nil {
		reg.MustRegister(m.FramesDelivered, m.FramesDropped, m.AudioDropped, m.Overruns, m.Sessions, m.OpenHandles)
	}
	return m
}
