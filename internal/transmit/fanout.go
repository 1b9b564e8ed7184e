package transmit

import (
	"io"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/banshee-data/pitwall/internal/monitoring"
	"github.com/banshee-data/pitwall/internal/packet"
)

type namedSink struct {
	name string
	t    Transmitter
}

// Fanout hands every record to each registered sink in registration order.
type Fanout struct {
	log     *zap.Logger
	metrics *monitoring.Metrics

	mu    sync.RWMutex
	sinks []namedSink
}

// NewFanout returns an empty fanout. A nil logger uses the package logger
// and nil metrics are discarded.
func NewFanout(log *zap.Logger, metrics *monitoring.Metrics) *Fanout {
	if metrics == nil {
		metrics = monitoring.NewDiscardMetrics()
	}
	return &Fanout{
		log:     monitoring.OrDefault(log).Named("transmit"),
		metrics: metrics,
	}
}

// Add registers t under name.
func (f *Fanout) Add(name string, t Transmitter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sinks = append(f.sinks, namedSink{name: name, t: t})
}

// Names returns the registered sink names in order.
func (f *Fanout) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, len(f.sinks))
	for i, s := range f.sinks {
		names[i] = s.name
	}
	return names
}

// Len returns the number of registered sinks.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

// HandleRecord delivers rec to every sink. A failing sink is logged and
// counted; the remaining sinks still receive the record. The returned
// error combines every failure.
func (f *Fanout) HandleRecord(rec packet.Record) error {
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()

	var errs error
	for _, s := range sinks {
		if err := s.t.HandleRecord(rec); err != nil {
			f.log.Warn("sink failed to handle record", zap.String("sink", s.name), zap.Error(err))
			f.metrics.SinkErrors.WithLabelValues(s.name).Inc()
			errs = multierr.Append(errs, err)
			continue
		}
		f.metrics.RecordsSent.WithLabelValues(s.name).Inc()
	}
	return errs
}

// Close closes every sink that implements io.Closer.
func (f *Fanout) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var errs error
	for _, s := range f.sinks {
		if c, ok := s.t.(io.Closer); ok {
			errs = multierr.Append(errs, c.Close())
		}
	}
	return errs
}
