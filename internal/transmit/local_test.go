package transmit

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pitwall/internal/fsutil"
	"github.com/banshee-data/pitwall/internal/packet"
	"github.com/banshee-data/pitwall/internal/timeutil"
)

var sessionStart = time.Date(2026, 5, 2, 14, 3, 9, 0, time.Local)

func newTestLocalSink(t *testing.T, fs fsutil.FileSystem, sensors []string) *LocalSink {
	t.Helper()
	s, err := NewLocalSink(LocalConfig{
		Dir:     "/data",
		Sensors: sensors,
		FS:      fs,
		Clock:   timeutil.NewMockClock(sessionStart),
	})
	require.NoError(t, err)
	return s
}

func TestLocalSink_Header(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	s := newTestLocalSink(t, fs, []string{"voltage", "button"})

	assert.Equal(t, "/data/2026-05-02_14-03-09_car_data.csv", s.Path())
	assert.True(t, fs.Exists("/data"))

	data, err := fs.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, "speed,airspeed,engine_temp,rad_temp,voltage,button,distance_traveled,time\n", string(data))
	assert.Equal(t, packet.Columns([]string{"voltage", "button"}), s.Columns())
}

func TestLocalSink_AppendsRowsInColumnOrder(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	s := newTestLocalSink(t, fs, []string{"voltage"})

	require.NoError(t, s.HandleRecord(sampleRecord()))
	rec := sampleRecord()
	rec["speed"] = 30.25
	rec["distance_traveled"] = 44.0004
	rec["time"] = 1700000000050
	require.NoError(t, s.HandleRecord(rec))

	data, err := fs.ReadFile(s.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "25.5,28,180,160,0.1,0,1700000000000", lines[1])
	assert.Equal(t, "30.25,28,180,160,0.1,44.0004,1700000000050", lines[2])
}

func TestLocalSink_ExtraKeysIgnored(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	s := newTestLocalSink(t, fs, nil)

	require.NoError(t, s.HandleRecord(sampleRecord()))
	data, err := fs.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n25.5,28,180,160,0,1700000000000\n")
}

func TestLocalSink_MissingKey(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	s := newTestLocalSink(t, fs, []string{"voltage", "sensor2"})

	err := s.HandleRecord(sampleRecord())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingField)
	assert.Contains(t, err.Error(), `"sensor2"`)

	var te *TransmitterError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "local", te.Sink)

	data, err := fs.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"), "no partial row written")
}

func TestLocalSink_NilRecord(t *testing.T) {
	s := newTestLocalSink(t, fsutil.NewMemoryFileSystem(), nil)
	assert.ErrorIs(t, s.HandleRecord(nil), ErrNilRecord)
}

func TestLocalSink_IOFailures(t *testing.T) {
	cause := errors.New("read-only filesystem")

	_, err := NewLocalSink(LocalConfig{
		Dir:   "/data",
		FS:    &fsutil.FaultyFileSystem{FileSystem: fsutil.NewMemoryFileSystem(), WriteErr: cause},
		Clock: timeutil.NewMockClock(sessionStart),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWrite)
	assert.ErrorIs(t, err, cause)

	faulty := &fsutil.FaultyFileSystem{FileSystem: fsutil.NewMemoryFileSystem()}
	s := newTestLocalSink(t, faulty, nil)
	faulty.AppendErr = cause
	err = s.HandleRecord(sampleRecord())
	assert.ErrorIs(t, err, ErrWrite)
	assert.ErrorIs(t, err, cause)
}

func TestLocalSink_RealFilesystem(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalSink(LocalConfig{Dir: dir, Sensors: []string{"voltage"}, Clock: timeutil.NewMockClock(sessionStart)})
	require.NoError(t, err)
	require.NoError(t, s.HandleRecord(sampleRecord()))

	data, err := fsutil.OSFileSystem{}.ReadFile(s.Path())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "speed,"))
	assert.True(t, strings.HasSuffix(string(data), "1700000000000\n"))
}
