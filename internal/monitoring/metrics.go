package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the pipeline counters. A Metrics value is registered
// against exactly one registry; use NewMetrics(prometheus.NewRegistry()) in
// tests to avoid duplicate registration panics.
type Metrics struct {
	FramesRead     prometheus.Counter
	FramesDecoded  prometheus.Counter
	DecodeErrors   prometheus.Counter
	SerialErrors   prometheus.Counter
	Reconnects     *prometheus.CounterVec
	SinkErrors     *prometheus.CounterVec
	RecordsSent    *prometheus.CounterVec
	ConfigUpdates  *prometheus.CounterVec
	DistanceTravel prometheus.Gauge
}

// NewMetrics creates the pipeline metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pitwall_frames_read_total",
			Help: "Non-empty frames returned by the serial link.",
		}),
		FramesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pitwall_frames_decoded_total",
			Help: "Frames successfully decoded into records.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pitwall_decode_errors_total",
			Help: "Frames rejected by the decoder.",
		}),
		SerialErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pitwall_serial_errors_total",
			Help: "Serial read failures.",
		}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitwall_serial_reconnects_total",
			Help: "Serial reconnect attempts by result.",
		}, []string{"result"}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitwall_sink_errors_total",
			Help: "Records a sink failed to handle.",
		}, []string{"sink"}),
		RecordsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitwall_sink_records_total",
			Help: "Records a sink handled successfully.",
		}, []string{"sink"}),
		ConfigUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pitwall_config_updates_total",
			Help: "Configuration hot-reload attempts by result.",
		}, []string{"result"}),
		DistanceTravel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pitwall_distance_traveled_feet",
			Help: "Distance accumulated in the current session.",
		}),
	}

	reg.MustRegister(
		m.FramesRead,
		m.FramesDecoded,
		m.DecodeErrors,
		m.SerialErrors,
		m.Reconnects,
		m.SinkErrors,
		m.RecordsSent,
		m.ConfigUpdates,
		m.DistanceTravel,
	)
	return m
}

// NewDiscardMetrics returns metrics registered on a private registry, for
// callers that do not expose them.
func NewDiscardMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
