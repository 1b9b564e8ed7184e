// Package seriallink owns the serial connection to the vehicle's
// microcontroller: port discovery, crash-loop opening, reconnection and
// drain-to-latest frame reads.
package seriallink

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/banshee-data/pitwall/internal/monitoring"
	"github.com/banshee-data/pitwall/internal/timeutil"
)

// ErrClosed is returned by reads on a link that was closed by its owner.
var ErrClosed = errors.New("serial link closed")

// Link is a serial connection that can be reopened after I/O failures.
// It is Disconnected whenever port is nil; Close is terminal.
type Link struct {
	opts Options
	mode *serial.Mode
	path string
	log  *zap.Logger

	mu     sync.Mutex
	port   Port
	closed bool
}

// Open resolves the port and opens it. With CrashLoop set it retries every
// RetryDelay until it succeeds or ctx ends, logging each failure.
func Open(ctx context.Context, opts Options) (*Link, error) {
	opts = opts.withDefaults()
	l := &Link{
		opts: opts,
		path: resolvePort(opts.Port, opts.Factory),
	}
	l.log = monitoring.OrDefault(opts.Logger).Named("serial").With(zap.String("port", l.path))

	mode, err := opts.Serial.SerialMode()
	if err != nil {
		return nil, &SerialError{Kind: KindUnavailable, Port: l.path, Err: err}
	}
	l.mode = mode

	if !opts.CrashLoop {
		if err := l.open(); err != nil {
			l.logOpenFailure(err)
			return nil, err
		}
		return l, nil
	}

	op := func() error { return l.open() }
	notify := func(err error, wait time.Duration) {
		l.logOpenFailure(err)
		l.log.Info("retrying serial open", zap.Duration("wait", wait))
	}
	b := backoff.WithContext(backoff.NewConstantBackOff(opts.RetryDelay), ctx)
	if err := backoff.RetryNotifyWithTimer(op, b, notify, &clockTimer{clock: opts.Clock}); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Link) open() error {
	port, err := l.opts.Factory.Open(l.path, l.mode)
	if err != nil {
		return classifyOpenError(l.path, err)
	}
	if err := port.SetReadTimeout(l.opts.ReadTimeout); err != nil {
		port.Close()
		return &SerialError{Kind: KindUnavailable, Port: l.path, Err: err}
	}

	l.mu.Lock()
	l.port = port
	l.mu.Unlock()
	l.log.Info("serial connection established", zap.Int("baud", l.mode.BaudRate))
	return nil
}

func (l *Link) logOpenFailure(err error) {
	switch {
	case IsKind(err, KindPermission):
		l.log.Error("permission denied opening serial port; check the user is in the dialout group", zap.Error(err))
	default:
		l.log.Error("serial port unavailable; check the controller is connected", zap.Error(err))
	}
}

// Port returns the resolved device path.
func (l *Link) Port() string { return l.path }

// IsOpen reports whether the link currently holds an open port.
func (l *Link) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

// Reconnect reopens a disconnected link with the original options. It is a
// no-op on an open link. Failures are logged, not returned; the result
// reports whether the link is open afterwards.
func (l *Link) Reconnect(ctx context.Context) bool {
	l.mu.Lock()
	open, closed := l.port != nil, l.closed
	l.mu.Unlock()
	if open {
		return true
	}
	if closed || ctx.Err() != nil {
		return false
	}
	if err := l.open(); err != nil {
		l.log.Warn("failed to reconnect to serial", zap.Error(err))
		return false
	}
	return true
}

// ReadLatest returns the most recent frame available, discarding older
// ones. It reads one frame of up to size bytes, then keeps probing; every
// probe that yields data replaces the held frame. An empty result means
// nothing was available. An I/O failure disconnects the link.
func (l *Link) ReadLatest(size int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, &SerialError{Kind: KindIO, Port: l.path, Err: ErrClosed}
	}
	if l.port == nil {
		return nil, &SerialError{Kind: KindIO, Port: l.path, Err: errors.New("not connected")}
	}

	frame, err := l.readFrame(size)
	if err != nil {
		return nil, l.fail(err)
	}
	if len(frame) == 0 {
		return frame, nil
	}
	for {
		next, err := l.readFrame(size)
		if err != nil {
			return nil, l.fail(err)
		}
		if len(next) == 0 {
			return frame, nil
		}
		frame = next
	}
}

// readFrame reads until size bytes arrive or a read times out.
func (l *Link) readFrame(size int) ([]byte, error) {
	buf := make([]byte, size)
	n := 0
	for n < size {
		m, err := l.port.Read(buf[n:])
		n += m
		if err != nil {
			return nil, err
		}
		if m == 0 {
			break
		}
	}
	return buf[:n], nil
}

// fail drops the port after an I/O error. Callers hold mu.
func (l *Link) fail(err error) error {
	l.port.Close()
	l.port = nil
	l.log.Warn("serial read failed; link disconnected", zap.Error(err))
	return &SerialError{Kind: KindIO, Port: l.path, Err: err}
}

// Close releases the port. The link cannot be reopened afterwards.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}

// clockTimer drives backoff retries from a timeutil.Clock.
type clockTimer struct {
	clock timeutil.Clock
	c     <-chan time.Time
}

func (t *clockTimer) Start(d time.Duration) { t.c = t.clock.After(d) }
func (t *clockTimer) Stop()                 {}
func (t *clockTimer) C() <-chan time.Time   { return t.c }
