package seriallink

import (
	"errors"
	"sync"
	"time"

	"go.bug.st/serial"
)

// TestableSerialPort is a Port double. Each Read consumes the next queued
// chunk; an empty queue, or an empty chunk, behaves like a read timeout.
type TestableSerialPort struct {
	mu sync.Mutex

	chunks [][]byte

	// ReadError is returned by the next Read call if set.
	ReadError error
	// CloseError is returned by Close if set.
	CloseError error

	Closed      bool
	ReadCalls   int
	ReadTimeout time.Duration
}

// NewTestableSerialPort returns a port with nothing to read.
func NewTestableSerialPort() *TestableSerialPort {
	return &TestableSerialPort{}
}

// QueueRead appends chunks to be returned by subsequent reads.
func (t *TestableSerialPort) QueueRead(chunks ...[]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range chunks {
		t.chunks = append(t.chunks, append([]byte(nil), c...))
	}
}

// FailNextRead makes the next Read return err.
func (t *TestableSerialPort) FailNextRead(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadError = err
}

// Pending returns the number of queued chunks not yet read.
func (t *TestableSerialPort) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.chunks)
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.ReadCalls++
	if t.Closed {
		return 0, errors.New("serial port closed")
	}
	if t.ReadError != nil {
		err := t.ReadError
		t.ReadError = nil
		return 0, err
	}
	if len(t.chunks) == 0 {
		return 0, nil
	}

	n := copy(p, t.chunks[0])
	if n < len(t.chunks[0]) {
		t.chunks[0] = t.chunks[0][n:]
	} else {
		t.chunks = t.chunks[1:]
	}
	return n, nil
}

func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Closed = true
	return t.CloseError
}

func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ReadTimeout = timeout
	return nil
}

// FakePortFactory hands out Ports and records open attempts. OpenErrors are
// consumed one per Open call before Port is returned.
type FakePortFactory struct {
	mu sync.Mutex

	Port       Port
	Ports      []string
	ListError  error
	OpenErrors []error

	Opened []string
	Modes  []*serial.Mode
}

func (f *FakePortFactory) Open(path string, mode *serial.Mode) (Port, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Opened = append(f.Opened, path)
	f.Modes = append(f.Modes, mode)
	if len(f.OpenErrors) > 0 {
		err := f.OpenErrors[0]
		f.OpenErrors = f.OpenErrors[1:]
		return nil, err
	}
	return f.Port, nil
}

func (f *FakePortFactory) List() ([]string, error) {
	return f.Ports, f.ListError
}

// Attempts returns the number of Open calls.
func (f *FakePortFactory) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Opened)
}
