package packet

import (
	"errors"
	"fmt"
)

// ErrFrameSize is wrapped by every DecodeError.
var ErrFrameSize = errors.New("unexpected frame size")

// DecodeError reports a frame that is not exactly FrameSize bytes.
type DecodeError struct {
	Expected int
	Actual   int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("packet: expected %d bytes, got %d", e.Expected, e.Actual)
}

func (e *DecodeError) Unwrap() error { return ErrFrameSize }
