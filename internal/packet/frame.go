// Package packet decodes the controller's fixed-layout telemetry frame into
// a named record and derives the session distance.
package packet

import (
	"bytes"
	"encoding/binary"
)

// FrameSize is the encoded length of a Frame.
const FrameSize = 23

// Frame is the controller's wire layout: four little-endian float32
// readings, five digital channels and one analog channel, unpadded.
type Frame struct {
	Speed      float32
	Airspeed   float32
	EngineTemp float32
	RadTemp    float32
	Digital    [5]uint8
	Analog     uint16
}

// Channel slot names as they appear in the sensor configuration.
var channelSlots = [...]string{"channel0", "channel1", "channel2", "channel3", "channel4", "channelA0"}

// channels returns the raw channel values keyed by slot, in slot order.
func (f Frame) channels() [6]float64 {
	var out [6]float64
	for i, v := range f.Digital {
		out[i] = float64(v)
	}
	out[5] = float64(f.Analog)
	return out
}

// Encode serialises f in the wire layout.
func Encode(f Frame) []byte {
	var buf bytes.Buffer
	buf.Grow(FrameSize)
	// binary.Write only fails on unsupported types or writer errors.
	_ = binary.Write(&buf, binary.LittleEndian, f)
	return buf.Bytes()
}

func unpack(b []byte) Frame {
	var f Frame
	_ = binary.Read(bytes.NewReader(b), binary.LittleEndian, &f)
	return f
}
