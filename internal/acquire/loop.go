// Package acquire runs the acquisition loop: read the freshest frame,
// decode it, show it on the dashboard and hand it to the sinks.
package acquire

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/pitwall/internal/monitoring"
	"github.com/banshee-data/pitwall/internal/packet"
	"github.com/banshee-data/pitwall/internal/timeutil"
)

const (
	DefaultThrottle       = 50 * time.Millisecond
	DefaultReconnectDelay = 3 * time.Second
)

// Link is the serial connection. *seriallink.Link implements it.
type Link interface {
	IsOpen() bool
	Reconnect(ctx context.Context) bool
	ReadLatest(size int) ([]byte, error)
}

// Decoder turns a frame into a record. *packet.Decoder implements it.
type Decoder interface {
	Decode(frame []byte) (packet.Record, error)
}

// Sink receives decoded records. *transmit.Fanout implements it.
type Sink interface {
	HandleRecord(rec packet.Record) error
}

// Display receives every record before the sinks. *display.Hub implements
// it.
type Display interface {
	Publish(rec packet.Record) error
}

// Loop drives the pipeline. Display and Sink may be nil.
type Loop struct {
	Link    Link
	Decoder Decoder
	Sink    Sink
	Display Display

	PacketSize     int
	Throttle       time.Duration
	ReconnectDelay time.Duration

	Clock   timeutil.Clock
	Log     *zap.Logger
	Metrics *monitoring.Metrics

	setup sync.Once
}

func (l *Loop) defaults() {
	if l.PacketSize <= 0 {
		l.PacketSize = packet.FrameSize
	}
	if l.Throttle <= 0 {
		l.Throttle = DefaultThrottle
	}
	if l.ReconnectDelay <= 0 {
		l.ReconnectDelay = DefaultReconnectDelay
	}
	if l.Clock == nil {
		l.Clock = timeutil.RealClock{}
	}
	l.Log = monitoring.OrDefault(l.Log).Named("acquire")
	if l.Metrics == nil {
		l.Metrics = monitoring.NewDiscardMetrics()
	}
}

// Run loops until ctx ends and returns ctx.Err(). While the link is down
// it retries every ReconnectDelay and emits nothing. Errors from a single
// frame are logged and the loop moves on to the next one.
func (l *Loop) Run(ctx context.Context) error {
	l.setup.Do(l.defaults)
	l.Log.Info("acquisition started", zap.Int("packet_size", l.PacketSize))
	defer l.Log.Info("acquisition stopped")

	for ctx.Err() == nil {
		if err := l.Step(ctx); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// Step runs one iteration of the loop. It returns an error only when ctx
// ends during a wait.
func (l *Loop) Step(ctx context.Context) error {
	l.setup.Do(l.defaults)

	if !l.Link.IsOpen() {
		result := "failed"
		if l.Link.Reconnect(ctx) {
			result = "ok"
		}
		l.Metrics.Reconnects.WithLabelValues(result).Inc()
		return timeutil.SleepContext(ctx, l.Clock, l.ReconnectDelay)
	}

	frame, err := l.Link.ReadLatest(l.PacketSize)
	if err != nil {
		l.Metrics.SerialErrors.Inc()
		l.Log.Warn("serial read failed", zap.Error(err))
		return nil
	}
	if len(frame) == 0 {
		return nil
	}
	l.Metrics.FramesRead.Inc()

	rec, err := l.Decoder.Decode(frame)
	if err != nil {
		l.Metrics.DecodeErrors.Inc()
		l.Log.Warn("dropping undecodable frame", zap.Error(err))
		return nil
	}
	l.Metrics.FramesDecoded.Inc()
	l.Metrics.DistanceTravel.Set(rec[packet.FieldDistance])

	if l.Display != nil {
		if err := l.Display.Publish(rec); err != nil {
			l.Log.Warn("display publish failed", zap.Error(err))
		}
	}
	if err := timeutil.SleepContext(ctx, l.Clock, l.Throttle); err != nil {
		return err
	}
	if l.Sink != nil {
		if err := l.Sink.HandleRecord(rec); err != nil {
			l.Log.Debug("record not delivered to every sink", zap.Error(err))
		}
	}
	return nil
}
