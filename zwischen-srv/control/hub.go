// Package control exposes the admin surface of the proxy: a JSON API
// over the block list, cache and statistics, plus a websocket stream of
// proxy events. The proxy core never depends on this package; it only
// emits events into the hub.
package control

import (
	"sync"

	"github.com/codefionn/zwischen/zwischen-srv/logger"
	"github.com/codefionn/zwischen/zwischen-srv/proxy"
)

const subscriberBuffer = 64

// Hub fans proxy events out to websocket subscribers. Emit never
// blocks: a subscriber that cannot keep up has events dropped.
type Hub struct {
	mu          sync.Mutex
	subscribers map[int64]chan proxy.Event
	nextID      int64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[int64]chan proxy.Event),
	}
}

// Emit implements proxy.EventSink.
func (h *Hub) Emit(event proxy.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			logger.Trace("Dropping event for slow subscriber %d", id)
		}
	}
}

// Subscribe registers a new subscriber and returns its channel and an
// unsubscribe function.
func (h *Hub) Subscribe() (<-chan proxy.Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	ch := make(chan proxy.Event, subscriberBuffer)
	h.subscribers[id] = ch

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[id]; ok {
			delete(h.subscribers, id)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
