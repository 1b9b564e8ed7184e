package seriallink

import (
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/banshee-data/pitwall/internal/timeutil"
)

const (
	DefaultBaudRate    = 9600
	DefaultReadTimeout = 25 * time.Millisecond
	DefaultRetryDelay  = 3 * time.Second
)

// PortOptions describes the line settings of the serial connection.
type PortOptions struct {
	BaudRate int    `json:"baud_rate" mapstructure:"baud_rate"`
	DataBits int    `json:"data_bits" mapstructure:"data_bits"`
	StopBits int    `json:"stop_bits" mapstructure:"stop_bits"`
	Parity   string `json:"parity" mapstructure:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	switch strings.TrimSpace(strings.ToUpper(opts.Parity)) {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", o.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into the mode go.bug.st/serial opens with.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// Options configures Open.
type Options struct {
	// Port is the device path. Empty selects the first /dev/ttyUSB* adapter.
	Port   string
	Serial PortOptions
	// ReadTimeout bounds each read; a read that times out yields no data.
	ReadTimeout time.Duration
	// CrashLoop makes Open retry every RetryDelay until it succeeds or the
	// context ends, instead of returning the first failure.
	CrashLoop  bool
	RetryDelay time.Duration

	Factory PortFactory
	Clock   timeutil.Clock
	Logger  *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.Factory == nil {
		o.Factory = SystemPortFactory{}
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}
