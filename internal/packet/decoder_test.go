package packet

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pitwall/internal/carconfig"
	"github.com/banshee-data/pitwall/internal/timeutil"
)

type staticSensors struct {
	sensors carconfig.Sensors
	err     error
}

func (s staticSensors) Sensors(string) (carconfig.Sensors, error) { return s.sensors, s.err }

func ptr[T any](v T) *T { return &v }

var exampleFrame = Frame{
	Speed:      25.5,
	Airspeed:   28.0,
	EngineTemp: 180.0,
	RadTemp:    160.0,
	Digital:    [5]uint8{1, 0, 1, 0, 1},
	Analog:     1000,
}

var exampleSensors = carconfig.Sensors{
	{Slot: "channel0", Sensor: carconfig.SensorDefinition{
		Name: "voltage", InputType: carconfig.Analog, Unit: ptr("V"), ConversionFactor: ptr(0.1),
	}},
	{Slot: "channelA0", Sensor: carconfig.SensorDefinition{
		Name: "analog_sensor", InputType: carconfig.Analog, Unit: ptr("units"), ConversionFactor: ptr(0.5),
	}},
}

const startMs = 1_700_000_000_000

func newTestDecoder(src SensorSource) (*Decoder, *timeutil.MockClock) {
	clock := timeutil.NewMockClock(time.UnixMilli(startMs))
	return NewDecoder(src, clock), clock
}

func TestEncodeLayout(t *testing.T) {
	b := Encode(exampleFrame)
	require.Len(t, b, FrameSize)
	assert.Equal(t, []byte{1, 0, 1, 0, 1}, b[16:21])
	assert.Equal(t, []byte{0xe8, 0x03}, b[21:23])
	assert.Equal(t, exampleFrame, unpack(b))
}

func TestDecode_Example(t *testing.T) {
	d, _ := newTestDecoder(staticSensors{sensors: exampleSensors})

	rec, err := d.Decode(Encode(exampleFrame))
	require.NoError(t, err)

	want := Record{
		"speed":             25.5,
		"airspeed":          28.0,
		"engine_temp":       180.0,
		"rad_temp":          160.0,
		"voltage":           0.1,
		"analog_sensor":     500.0,
		"distance_traveled": 0,
		"time":              startMs,
	}
	if diff := cmp.Diff(want, rec, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, int64(startMs), rec.Time())
}

func TestDecode_WrongSize(t *testing.T) {
	d, _ := newTestDecoder(staticSensors{sensors: exampleSensors})

	for _, n := range []int{0, 22, 24, 32} {
		rec, err := d.Decode(make([]byte, n))
		require.Error(t, err)
		assert.Nil(t, rec)

		var de *DecodeError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, FrameSize, de.Expected)
		assert.Equal(t, n, de.Actual)
		assert.ErrorIs(t, err, ErrFrameSize)
	}
	assert.Zero(t, d.Distance())
}

func TestDecode_NoActiveCar(t *testing.T) {
	d, _ := newTestDecoder(staticSensors{err: carconfig.ErrNoActiveVehicle})

	rec, err := d.Decode(Encode(exampleFrame))
	require.NoError(t, err)
	assert.Len(t, rec, 6)
	assert.NotContains(t, rec, "voltage")

	d = NewDecoder(nil, nil)
	rec, err = d.Decode(Encode(exampleFrame))
	require.NoError(t, err)
	assert.Len(t, rec, 6)
}

func TestDecode_ZeroFactorPassesThrough(t *testing.T) {
	d, _ := newTestDecoder(staticSensors{sensors: carconfig.Sensors{
		{Slot: "channel2", Sensor: carconfig.SensorDefinition{Name: "button", InputType: carconfig.Digital, ConversionFactor: ptr(0.0)}},
		{Slot: "channel7", Sensor: carconfig.SensorDefinition{Name: "ghost", InputType: carconfig.Digital}},
	}})

	rec, err := d.Decode(Encode(exampleFrame))
	require.NoError(t, err)
	assert.Equal(t, 1.0, rec["button"])
	assert.NotContains(t, rec, "ghost")
}

func TestDecode_ConfigSwapAppliesNextFrame(t *testing.T) {
	store, err := carconfig.NewStore(carconfig.NewStringSource(`{"cars": {"a": {"active": true, "sensors": {
		"channelA0": {"name": "oil", "input_type": "analog", "unit": "psi", "conversion_factor": 0.01}
	}, "metadata": {}}}}`))
	require.NoError(t, err)
	d, _ := newTestDecoder(store)

	rec, err := d.Decode(Encode(exampleFrame))
	require.NoError(t, err)
	assert.InDelta(t, 10.0, rec["oil"], 1e-9)

	require.NoError(t, store.Update(`{"cars": {"a": {"active": true, "sensors": {
		"channelA0": {"name": "fuel", "input_type": "analog", "unit": "l", "conversion_factor": 2}
	}, "metadata": {}}}}`))

	rec, err = d.Decode(Encode(exampleFrame))
	require.NoError(t, err)
	assert.NotContains(t, rec, "oil")
	assert.Equal(t, 2000.0, rec["fuel"])
}

func TestDistance_Integrates(t *testing.T) {
	d, clock := newTestDecoder(nil)
	f := exampleFrame
	f.Speed = 60

	rec, err := d.Decode(Encode(f))
	require.NoError(t, err)
	assert.Zero(t, rec[FieldDistance])

	clock.Advance(1000 * time.Millisecond)
	rec, err = d.Decode(Encode(f))
	require.NoError(t, err)
	assert.InDelta(t, 0.00146667*60*1000, rec[FieldDistance], 1e-6)

	clock.Advance(500 * time.Millisecond)
	rec, err = d.Decode(Encode(f))
	require.NoError(t, err)
	assert.InDelta(t, 0.00146667*60*1500, rec[FieldDistance], 1e-6)
	assert.Equal(t, rec[FieldDistance], d.Distance())
}

func TestDistance_FirstCallIgnoresSpeed(t *testing.T) {
	d, _ := newTestDecoder(nil)
	f := exampleFrame
	f.Speed = 200
	rec, err := d.Decode(Encode(f))
	require.NoError(t, err)
	assert.Zero(t, rec[FieldDistance])
}

func TestDistance_Reset(t *testing.T) {
	d, clock := newTestDecoder(nil)
	_, err := d.Decode(Encode(exampleFrame))
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = d.Decode(Encode(exampleFrame))
	require.NoError(t, err)
	require.Positive(t, d.Distance())

	d.Reset()
	assert.Zero(t, d.Distance())

	clock.Advance(time.Second)
	rec, err := d.Decode(Encode(exampleFrame))
	require.NoError(t, err)
	assert.Zero(t, rec[FieldDistance], "first frame after reset has no baseline")
}

func TestDistance_OverflowResetsBeforeIntegrating(t *testing.T) {
	d, clock := newTestDecoder(nil)
	_, err := d.Decode(Encode(exampleFrame))
	require.NoError(t, err)

	d.mu.Lock()
	d.distance = DistanceLimit + 1
	d.mu.Unlock()

	clock.Advance(100 * time.Millisecond)
	rec, err := d.Decode(Encode(exampleFrame))
	require.NoError(t, err)
	assert.InDelta(t, 0.00146667*25.5*100, rec[FieldDistance], 1e-6)
}

func TestDistance_AtLimitDoesNotReset(t *testing.T) {
	d, clock := newTestDecoder(nil)
	_, err := d.Decode(Encode(exampleFrame))
	require.NoError(t, err)

	d.mu.Lock()
	d.distance = DistanceLimit
	d.mu.Unlock()

	clock.Advance(time.Millisecond)
	rec, err := d.Decode(Encode(exampleFrame))
	require.NoError(t, err)
	assert.Greater(t, rec[FieldDistance], float64(DistanceLimit))
}

func TestDecoder_ConcurrentReset(t *testing.T) {
	d, _ := newTestDecoder(staticSensors{sensors: exampleSensors})
	frame := Encode(exampleFrame)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = d.Decode(frame)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d.Reset()
			}
		}()
	}
	wg.Wait()
}

func TestColumns(t *testing.T) {
	assert.Equal(t,
		[]string{"speed", "airspeed", "engine_temp", "rad_temp", "voltage", "button", "distance_traveled", "time"},
		Columns([]string{"voltage", "button"}))
	assert.Equal(t,
		[]string{"speed", "airspeed", "engine_temp", "rad_temp", "distance_traveled", "time"},
		Columns(nil))
}
