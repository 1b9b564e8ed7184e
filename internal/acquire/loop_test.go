package acquire

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pitwall/internal/monitoring"
	"github.com/banshee-data/pitwall/internal/packet"
	"github.com/banshee-data/pitwall/internal/seriallink"
	"github.com/banshee-data/pitwall/internal/timeutil"
)

type readResult struct {
	frame []byte
	err   error
}

type fakeLink struct {
	open       bool
	reconnects []bool
	reads      []readResult
	sizes      []int
	attempts   int
}

func (f *fakeLink) IsOpen() bool { return f.open }

func (f *fakeLink) Reconnect(context.Context) bool {
	f.attempts++
	if len(f.reconnects) == 0 {
		return false
	}
	ok := f.reconnects[0]
	f.reconnects = f.reconnects[1:]
	f.open = ok
	return ok
}

func (f *fakeLink) ReadLatest(size int) ([]byte, error) {
	f.sizes = append(f.sizes, size)
	if len(f.reads) == 0 {
		return nil, nil
	}
	r := f.reads[0]
	f.reads = f.reads[1:]
	if r.err != nil {
		f.open = false
	}
	return r.frame, r.err
}

type orderLog struct {
	events []string
}

type fakeDisplay struct {
	log     *orderLog
	records []packet.Record
}

func (d *fakeDisplay) Publish(rec packet.Record) error {
	d.log.events = append(d.log.events, "display")
	d.records = append(d.records, rec)
	return nil
}

type fakeSink struct {
	log     *orderLog
	err     error
	records []packet.Record
	onCall  func()
}

func (s *fakeSink) HandleRecord(rec packet.Record) error {
	s.log.events = append(s.log.events, "sink")
	s.records = append(s.records, rec)
	if s.onCall != nil {
		s.onCall()
	}
	return s.err
}

func frameWithSpeed(speed float32) []byte {
	return packet.Encode(packet.Frame{Speed: speed, Airspeed: 1, EngineTemp: 2, RadTemp: 3, Analog: 7})
}

type harness struct {
	loop    *Loop
	link    *fakeLink
	display *fakeDisplay
	sink    *fakeSink
	clock   *timeutil.MockClock
	metrics *monitoring.Metrics
	order   *orderLog
}

func newHarness(link *fakeLink) *harness {
	order := &orderLog{}
	clock := timeutil.NewMockClock(time.UnixMilli(1_700_000_000_000))
	h := &harness{
		link:    link,
		display: &fakeDisplay{log: order},
		sink:    &fakeSink{log: order},
		clock:   clock,
		metrics: monitoring.NewMetrics(prometheus.NewRegistry()),
		order:   order,
	}
	h.loop = &Loop{
		Link:    link,
		Decoder: packet.NewDecoder(nil, clock),
		Sink:    h.sink,
		Display: h.display,
		Clock:   clock,
		Metrics: h.metrics,
	}
	return h
}

func TestStep_DecodesDisplaysThenSinks(t *testing.T) {
	h := newHarness(&fakeLink{open: true, reads: []readResult{{frame: frameWithSpeed(10)}}})

	require.NoError(t, h.loop.Step(context.Background()))

	assert.Equal(t, []string{"display", "sink"}, h.order.events)
	require.Len(t, h.sink.records, 1)
	assert.Equal(t, 10.0, h.sink.records[0][packet.FieldSpeed])
	assert.Equal(t, []int{packet.FrameSize}, h.link.sizes)
	assert.Equal(t, []time.Duration{DefaultThrottle}, h.clock.Sleeps())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FramesRead))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.FramesDecoded))
}

func TestStep_EmptyReadEmitsNothing(t *testing.T) {
	h := newHarness(&fakeLink{open: true})

	require.NoError(t, h.loop.Step(context.Background()))
	assert.Empty(t, h.order.events)
	assert.Empty(t, h.clock.Sleeps())
}

func TestStep_DecodeErrorSkipsFrame(t *testing.T) {
	h := newHarness(&fakeLink{open: true, reads: []readResult{{frame: []byte{1, 2, 3}}}})

	require.NoError(t, h.loop.Step(context.Background()))
	assert.Empty(t, h.order.events)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.DecodeErrors))
	assert.Zero(t, testutil.ToFloat64(h.metrics.FramesDecoded))
}

func TestStep_SerialErrorThenReconnect(t *testing.T) {
	link := &fakeLink{
		open:       true,
		reads:      []readResult{{err: &seriallink.SerialError{Kind: seriallink.KindIO, Err: errors.New("unplugged")}}},
		reconnects: []bool{false, true},
	}
	h := newHarness(link)
	ctx := context.Background()

	require.NoError(t, h.loop.Step(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SerialErrors))
	assert.False(t, link.IsOpen())

	require.NoError(t, h.loop.Step(ctx))
	require.NoError(t, h.loop.Step(ctx))
	assert.Equal(t, 2, link.attempts)
	assert.True(t, link.IsOpen())
	assert.Equal(t, []time.Duration{DefaultReconnectDelay, DefaultReconnectDelay}, h.clock.Sleeps())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Reconnects.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Reconnects.WithLabelValues("ok")))
	assert.Empty(t, h.order.events, "nothing is emitted while disconnected")
}

func TestStep_SinkErrorDoesNotStop(t *testing.T) {
	h := newHarness(&fakeLink{open: true, reads: []readResult{
		{frame: frameWithSpeed(1)},
		{frame: frameWithSpeed(2)},
	}})
	h.sink.err = errors.New("remote down")

	require.NoError(t, h.loop.Step(context.Background()))
	require.NoError(t, h.loop.Step(context.Background()))
	assert.Len(t, h.sink.records, 2)
}

func TestStep_OptionalCollaborators(t *testing.T) {
	clock := timeutil.NewMockClock(time.UnixMilli(1))
	l := &Loop{
		Link:    &fakeLink{open: true, reads: []readResult{{frame: frameWithSpeed(3)}}},
		Decoder: packet.NewDecoder(nil, clock),
		Clock:   clock,
	}
	assert.NoError(t, l.Step(context.Background()))
}

func TestRun_StopsOnCancel(t *testing.T) {
	reads := make([]readResult, 5)
	for i := range reads {
		reads[i] = readResult{frame: frameWithSpeed(float32(10 * (i + 1)))}
	}
	h := newHarness(&fakeLink{open: true, reads: reads})

	ctx, cancel := context.WithCancel(context.Background())
	h.sink.onCall = func() {
		if len(h.sink.records) == 3 {
			cancel()
		}
	}

	err := h.loop.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, h.sink.records, 3)
	assert.Equal(t, 30.0, h.sink.records[2][packet.FieldSpeed])
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.FramesDecoded))

	// the decoder integrates distance across frames
	assert.Zero(t, h.sink.records[0][packet.FieldDistance])
	assert.Positive(t, h.sink.records[1][packet.FieldDistance])
	assert.Equal(t, h.sink.records[2][packet.FieldDistance], testutil.ToFloat64(h.metrics.DistanceTravel))
}

func TestRun_CancelDuringThrottleSkipsSinks(t *testing.T) {
	h := newHarness(&fakeLink{open: true, reads: []readResult{{frame: frameWithSpeed(5)}}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.loop.Step(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"display"}, h.order.events)
}
