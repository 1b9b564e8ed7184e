// Package display pushes decoded records to local dashboards over
// server-sent events and exposes the session reset and metrics endpoints.
package display

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/pitwall/internal/packet"
)

// Event names sent to dashboards.
const (
	EventNewData = "new_data"
	EventReset   = "session_reset"
)

// Event is one server-sent event.
type Event struct {
	Name string
	Data []byte
}

const subscriberBuffer = 16

// Hub fans events out to subscribers. A subscriber that falls behind
// misses events rather than stalling the publisher.
type Hub struct {
	mu          sync.Mutex
	subscribers map[string]chan Event
	closed      bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan Event)}
}

// Subscribe registers a new subscriber. The channel is closed by
// Unsubscribe or Close.
func (h *Hub) Subscribe() (string, <-chan Event) {
	id := uuid.NewString()
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// Broadcast sends ev to every subscriber without blocking.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Publish broadcasts rec as a new_data event.
func (h *Hub) Publish(rec packet.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	h.Broadcast(Event{Name: EventNewData, Data: data})
	return nil
}

// Close disconnects every subscriber. Later subscriptions are closed
// immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}
