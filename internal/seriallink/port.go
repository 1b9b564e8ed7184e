package seriallink

import (
	"io"
	"sort"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Port is the subset of a serial port the link needs. serial.Port
// satisfies it; tests use TestableSerialPort.
type Port interface {
	io.Reader
	io.Closer
	// SetReadTimeout bounds each Read. A Read that times out returns 0, nil.
	SetReadTimeout(timeout time.Duration) error
}

// PortFactory opens and enumerates serial ports.
type PortFactory interface {
	Open(path string, mode *serial.Mode) (Port, error)
	// List returns the candidate device paths.
	List() ([]string, error)
}

// SystemPortFactory opens real devices through go.bug.st/serial.
type SystemPortFactory struct{}

// Open opens the device at path.
func (SystemPortFactory) Open(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

// List returns the USB serial adapters known to the OS, sorted by name.
func (SystemPortFactory) List() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, err
	}
	return usbPorts(ports), nil
}

const (
	usbPrefix = "/dev/ttyUSB"
	// FallbackPort is used when no port is given and none is enumerated.
	FallbackPort = "/dev/ttyUSB1"
)

func usbPorts(ports []string) []string {
	var out []string
	for _, p := range ports {
		if strings.HasPrefix(p, usbPrefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// resolvePort returns explicit when set, else the first enumerated USB
// adapter, else FallbackPort. Enumeration failures fall through to the
// fallback.
func resolvePort(explicit string, f PortFactory) string {
	if explicit != "" {
		return explicit
	}
	if ports, err := f.List(); err == nil {
		if usb := usbPorts(ports); len(usb) > 0 {
			return usb[0]
		}
	}
	return FallbackPort
}
