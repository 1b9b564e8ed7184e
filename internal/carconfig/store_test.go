package carconfig

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/banshee-data/pitwall/internal/fsutil"
)

const singleCar = `{"cars": {"car9": {"active": true, "sensors": {
	"channel0": {"name": "oil_pressure", "input_type": "analog", "unit": "psi", "conversion_factor": 2}
}, "metadata": {"power_plant": "electric"}}}}`

func TestLoad_File(t *testing.T) {
	s, err := Load("testdata/car_config.json")
	require.NoError(t, err)

	sensors, err := s.Sensors("")
	require.NoError(t, err)
	assert.Equal(t, []string{"voltage", "button"}, sensors.Names())

	sensors, err = s.Sensors("car2")
	require.NoError(t, err)
	assert.Empty(t, sensors)

	md, err := s.Metadata("car1")
	require.NoError(t, err)
	assert.Equal(t, 200, *md.Weight)

	_, err = s.Sensors("car3")
	assert.ErrorIs(t, err, ErrVehicleNotFound)
	_, err = s.Metadata("car3")
	assert.ErrorIs(t, err, ErrVehicleNotFound)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("")
	assert.ErrorIs(t, err, ErrNoSource)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, ErrUnreadable)

	_, err = NewStore(NewStringSource(""))
	assert.ErrorIs(t, err, ErrNoSource)

	_, err = NewStore(nil)
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestStore_NoActiveCar(t *testing.T) {
	s, err := NewStore(NewStringSource(`{"cars": {"a": {"sensors": {}, "metadata": {}}}}`))
	require.NoError(t, err)

	_, err = s.Sensors("")
	assert.ErrorIs(t, err, ErrNoActiveVehicle)
	_, err = s.Metadata("")
	assert.ErrorIs(t, err, ErrNoActiveVehicle)

	sensors, err := s.Sensors("a")
	require.NoError(t, err)
	assert.Empty(t, sensors)
}

func TestStore_MultipleActiveWarns(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s, err := NewStore(NewStringSource(`{"cars": {
		"first": {"active": true, "sensors": {}, "metadata": {}},
		"second": {"active": true, "sensors": {"channel1": {"name": "x", "input_type": "digital"}}, "metadata": {}}
	}}`), WithLogger(zap.New(core)))
	require.NoError(t, err)

	sensors, err := s.Sensors("")
	require.NoError(t, err)
	assert.Empty(t, sensors)

	entries := logs.FilterMessageSnippet("multiple cars").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "first", entries[0].ContextMap()["using"])
}

func TestStore_UpdateValid(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	require.NoError(t, mem.WriteFile("/cfg/cars.json", readTestdata(t), 0o644))

	s, err := NewStore(&FileSource{Path: "/cfg/cars.json", FS: mem})
	require.NoError(t, err)
	before := s.Document()

	require.NoError(t, s.Update(singleCar))

	sensors, err := s.Sensors("")
	require.NoError(t, err)
	assert.Equal(t, []string{"oil_pressure"}, sensors.Names())
	assert.NotSame(t, before, s.Document())

	persisted, err := mem.ReadFile("/cfg/cars.json")
	require.NoError(t, err)
	assert.Equal(t, singleCar, string(persisted))

	// the old snapshot is not modified by the swap
	assert.Equal(t, 2, before.Len())
}

func TestStore_UpdateInvalidLeavesDocument(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	original := readTestdata(t)
	require.NoError(t, mem.WriteFile("/cars.json", original, 0o644))

	s, err := NewStore(&FileSource{Path: "/cars.json", FS: mem})
	require.NoError(t, err)
	before := s.Document()

	for _, text := range []string{
		`not json`,
		`{"cars": {}}`,
		`{"cars": {"a": {"sensors": {}}}}`,
	} {
		err := s.Update(text)
		require.Error(t, err, text)
		var cfgErr *ConfigError
		assert.True(t, errors.As(err, &cfgErr))
	}

	assert.Same(t, before, s.Document())
	persisted, err := mem.ReadFile("/cars.json")
	require.NoError(t, err)
	assert.Equal(t, original, persisted)
}

func TestStore_UpdatePersistFailure(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	require.NoError(t, mem.WriteFile("/cars.json", readTestdata(t), 0o644))
	faulty := &fsutil.FaultyFileSystem{FileSystem: mem}

	s, err := NewStore(&FileSource{Path: "/cars.json", FS: faulty})
	require.NoError(t, err)
	before := s.Document()

	faulty.WriteErr = errors.New("disk full")
	err = s.Update(singleCar)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersist)
	assert.Contains(t, err.Error(), "disk full")
	assert.Same(t, before, s.Document())
}

func TestStore_UpdateStringSource(t *testing.T) {
	src := NewStringSource(string(readTestdata(t)))
	s, err := NewStore(src)
	require.NoError(t, err)

	require.NoError(t, s.Update(singleCar))
	data, err := src.Read()
	require.NoError(t, err)
	assert.Equal(t, singleCar, string(data))

	md, err := s.Metadata("")
	require.NoError(t, err)
	assert.Equal(t, Electric, *md.PowerPlant)
}

func TestStore_Reload(t *testing.T) {
	mem := fsutil.NewMemoryFileSystem()
	require.NoError(t, mem.WriteFile("/cars.json", readTestdata(t), 0o644))
	s, err := NewStore(&FileSource{Path: "/cars.json", FS: mem})
	require.NoError(t, err)

	require.NoError(t, mem.WriteFile("/cars.json", []byte(singleCar), 0o644))
	require.NoError(t, s.Reload())
	assert.Equal(t, 1, s.Document().Len())

	require.NoError(t, mem.WriteFile("/cars.json", []byte(`{`), 0o644))
	assert.ErrorIs(t, s.Reload(), ErrMalformed)
	assert.Equal(t, 1, s.Document().Len())
}

func TestStore_SensorsReturnsCopy(t *testing.T) {
	s, err := NewStore(NewStringSource(singleCar))
	require.NoError(t, err)

	sensors, err := s.Sensors("")
	require.NoError(t, err)
	sensors[0].Sensor.Name = "mutated"

	again, err := s.Sensors("")
	require.NoError(t, err)
	assert.Equal(t, "oil_pressure", again[0].Sensor.Name)
}
