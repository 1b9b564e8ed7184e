package seriallink

import (
	"sync"
	"time"

	"go.bug.st/serial"
)

// SimulatedPort stands in for the controller during development. Reads
// alternate between a fresh frame from Next and a timed-out read, the way
// the controller has data on every other poll.
type SimulatedPort struct {
	Next func() []byte

	mu      sync.Mutex
	pending []byte
	idle    bool
}

func (s *SimulatedPort) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		if s.idle {
			s.idle = false
			return 0, nil
		}
		s.pending = s.Next()
		s.idle = true
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *SimulatedPort) Close() error                      { return nil }
func (s *SimulatedPort) SetReadTimeout(time.Duration) error { return nil }

// SimulatedFactory opens a SimulatedPort regardless of path.
type SimulatedFactory struct {
	Next func() []byte
}

func (f SimulatedFactory) Open(string, *serial.Mode) (Port, error) {
	return &SimulatedPort{Next: f.Next}, nil
}

func (SimulatedFactory) List() ([]string, error) { return []string{"/dev/ttyUSB0"}, nil }
