package seriallink

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// Kind classifies a SerialError.
type Kind int

const (
	// KindUnavailable covers a missing, busy or otherwise unopenable device.
	KindUnavailable Kind = iota
	// KindPermission means the process may not open the device.
	KindPermission
	// KindIO is a failure on an open link.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindPermission:
		return "permission"
	case KindIO:
		return "io"
	default:
		return "unavailable"
	}
}

// SerialError reports a failure to open or read the serial link.
type SerialError struct {
	Kind Kind
	Port string
	Err  error
}

func (e *SerialError) Error() string {
	switch e.Kind {
	case KindPermission:
		return fmt.Sprintf("serial: permission denied opening %s: %v", e.Port, e.Err)
	case KindIO:
		return fmt.Sprintf("serial: i/o error on %s: %v", e.Port, e.Err)
	default:
		return fmt.Sprintf("serial: could not open %s: %v", e.Port, e.Err)
	}
}

func (e *SerialError) Unwrap() error { return e.Err }

// classifyOpenError maps an open failure to a SerialError.
func classifyOpenError(port string, err error) *SerialError {
	kind := KindUnavailable
	var pe *serial.PortError
	if errors.As(err, &pe) && pe.Code() == serial.PermissionDenied {
		kind = KindPermission
	} else if strings.Contains(strings.ToLower(err.Error()), "permission") {
		kind = KindPermission
	}
	return &SerialError{Kind: kind, Port: port, Err: err}
}

// IsKind reports whether err is a SerialError of kind k.
func IsKind(err error, k Kind) bool {
	var se *SerialError
	return errors.As(err, &se) && se.Kind == k
}
