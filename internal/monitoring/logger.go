package monitoring

import (
	"sync/atomic"

	"go.uber.org/zap"
)

var logger atomic.Pointer[zap.Logger]

func init() {
	logger.Store(zap.NewNop())
}

// Logger returns the process-wide diagnostic logger. It is a no-op logger
// until SetLogger or one of the Init helpers is called, so library code and
// tests can log unconditionally.
func Logger() *zap.Logger {
	return logger.Load()
}

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger.Store(l)
}

// InitProductionLogger installs a JSON production logger.
func InitProductionLogger() error {
	l, err := zap.NewProduction()
	if err != nil {
		return err
	}
	SetLogger(l)
	return nil
}

// InitDevelopmentLogger installs a human-readable development logger.
func InitDevelopmentLogger() error {
	l, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	SetLogger(l)
	return nil
}

// OrDefault returns l, or the package logger when l is nil.
func OrDefault(l *zap.Logger) *zap.Logger {
	if l == nil {
		return Logger()
	}
	return l
}
