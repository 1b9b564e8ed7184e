package display

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pitwall/internal/packet"
)

func TestHub_PublishToSubscribers(t *testing.T) {
	h := NewHub()
	id1, ch1 := h.Subscribe()
	_, ch2 := h.Subscribe()
	assert.Equal(t, 2, h.Subscribers())

	require.NoError(t, h.Publish(packet.Record{"speed": 12.5}))

	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := <-ch
		assert.Equal(t, EventNewData, ev.Name)
		var got map[string]float64
		require.NoError(t, json.Unmarshal(ev.Data, &got))
		assert.Equal(t, 12.5, got["speed"])
	}

	h.Unsubscribe(id1)
	_, ok := <-ch1
	assert.False(t, ok)
	assert.Equal(t, 1, h.Subscribers())
	h.Unsubscribe(id1)
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub()
	_, ch := h.Subscribe()

	for i := 0; i < subscriberBuffer*3; i++ {
		h.Broadcast(Event{Name: EventNewData, Data: []byte("{}")})
	}
	assert.Len(t, ch, subscriberBuffer)
}

func TestHub_Close(t *testing.T) {
	h := NewHub()
	_, ch := h.Subscribe()
	h.Close()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, h.Subscribers())

	_, late := h.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
	h.Broadcast(Event{Name: EventReset})
}
