package packet

import (
	"sync"

	"github.com/banshee-data/pitwall/internal/carconfig"
	"github.com/banshee-data/pitwall/internal/timeutil"
)

const (
	// feetPerMsPerMph converts miles per hour to feet per millisecond.
	feetPerMsPerMph = 0.00146667
	// DistanceLimit is the accumulator value above which it wraps to 0.
	DistanceLimit = 100_000_000
)

// SensorSource supplies the sensor map of the active car. *carconfig.Store
// implements it.
type SensorSource interface {
	Sensors(name string) (carconfig.Sensors, error)
}

// Decoder turns frames into records. It owns the distance state of one
// acquisition session and is safe for concurrent use.
type Decoder struct {
	sensors SensorSource
	clock   timeutil.Clock

	mu       sync.Mutex
	distance float64
	lastMs   int64
}

// NewDecoder returns a decoder reading the active sensor map from sensors
// on every call, so configuration swaps apply from the next frame. A nil
// clock uses wall time.
func NewDecoder(sensors SensorSource, clock timeutil.Clock) *Decoder {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Decoder{sensors: sensors, clock: clock}
}

// Decode unpacks frame and applies the active car's sensor map. A frame of
// the wrong size is the only error; a missing active car or an unmapped
// slot just yields fewer fields.
func (d *Decoder) Decode(frame []byte) (Record, error) {
	if len(frame) != FrameSize {
		return nil, &DecodeError{Expected: FrameSize, Actual: len(frame)}
	}
	f := unpack(frame)

	rec := Record{
		FieldSpeed:      float64(f.Speed),
		FieldAirspeed:   float64(f.Airspeed),
		FieldEngineTemp: float64(f.EngineTemp),
		FieldRadTemp:    float64(f.RadTemp),
	}

	if d.sensors != nil {
		if sensors, err := d.sensors.Sensors(""); err == nil {
			raw := f.channels()
			for i, slot := range channelSlots {
				if def, ok := sensors.Lookup(slot); ok {
					rec[def.Name] = raw[i] * def.Factor()
				}
			}
		}
	}

	now := timeutil.UnixMilli(d.clock)
	rec[FieldDistance] = d.advance(rec[FieldSpeed], now)
	rec[FieldTime] = float64(now)
	return rec, nil
}

func (d *Decoder) advance(speed float64, now int64) float64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.distance > DistanceLimit {
		d.distance = 0
	}
	if d.lastMs > 0 {
		d.distance += feetPerMsPerMph * speed * float64(now-d.lastMs)
	}
	d.lastMs = now
	return d.distance
}

// Reset starts a new session: the accumulator and the last timestamp are
// cleared. The configuration is not touched.
func (d *Decoder) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.distance = 0
	d.lastMs = 0
}

// Distance returns the accumulated distance in feet.
func (d *Decoder) Distance() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.distance
}
