// Package transmit delivers decoded records to the configured sinks: a
// local CSV log, a remote MQTT broker, a NATS bus and the SQLite archive.
// Each sink fails independently; the Fanout collects and logs failures
// without letting one sink starve the others.
package transmit

import (
	"errors"
	"fmt"

	"github.com/banshee-data/pitwall/internal/packet"
)

// Transmitter consumes decoded records. Sinks holding connections or files
// also implement io.Closer.
type Transmitter interface {
	HandleRecord(rec packet.Record) error
}

// ConfigUpdater applies a configuration document received from a remote
// channel. *carconfig.Store implements it.
type ConfigUpdater interface {
	Update(text string) error
}

var (
	ErrNilRecord      = errors.New("record is nil")
	ErrMissingField   = errors.New("record is missing a field")
	ErrMissingSetting = errors.New("required setting not provided")
	ErrConnect        = errors.New("could not connect to MQTT broker")
	ErrInvalidTopic   = errors.New("topic or QoS is invalid")
	ErrPublish        = errors.New("failed to publish")
	ErrNotUTF8        = errors.New("payload is not valid UTF-8")
	ErrWrite          = errors.New("could not write record")
)

// TransmitterError reports a sink failure. Err wraps one of the sentinels
// above and, where there is one, the underlying cause.
type TransmitterError struct {
	Sink string
	Err  error
}

func (e *TransmitterError) Error() string {
	return fmt.Sprintf("transmit %s: %v", e.Sink, e.Err)
}

func (e *TransmitterError) Unwrap() error { return e.Err }

func sinkErr(sink string, sentinel error, cause error) *TransmitterError {
	if cause == nil {
		return &TransmitterError{Sink: sink, Err: sentinel}
	}
	return &TransmitterError{Sink: sink, Err: fmt.Errorf("%w: %w", sentinel, cause)}
}
