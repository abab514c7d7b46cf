package proxy

import "time"

// EventKind classifies the events the proxy core emits.
type EventKind string

const (
	EventServerStarted    EventKind = "server_started"
	EventServerStopped    EventKind = "server_stopped"
	EventConnectionOpened EventKind = "connection_opened"
	EventConnectionClosed EventKind = "connection_closed"
	EventRequestForwarded EventKind = "request_forwarded"
	EventRequestBlocked   EventKind = "request_blocked"
	EventCacheHit         EventKind = "cache_hit"
	EventCacheStore       EventKind = "cache_store"
	EventTunnelOpened     EventKind = "tunnel_opened"
	EventTunnelClosed     EventKind = "tunnel_closed"
	EventConnectionError  EventKind = "connection_error"
)

// Event is a structured record of something log-worthy the proxy did.
// The presentation layer consumes these; the core never formats them
// for display.
type Event struct {
	Kind       EventKind     `json:"kind"`
	Timestamp  time.Time     `json:"timestamp"`
	ConnID     int64         `json:"conn_id,omitempty"`
	Target     string        `json:"target,omitempty"`
	Host       string        `json:"host,omitempty"`
	Message    string        `json:"message,omitempty"`
	Elapsed    time.Duration `json:"elapsed,omitempty"`
	TimeSaved  time.Duration `json:"time_saved,omitempty"`
	BytesIn    int64         `json:"bytes_in,omitempty"`
	BytesOut   int64         `json:"bytes_out,omitempty"`
	StatusCode string        `json:"status_code,omitempty"`
}

// EventSink receives events emitted by the proxy. Implementations must
// be safe for concurrent use and must not block; a slow consumer should
// drop events rather than stall a connection handler.
type EventSink interface {
	Emit(event Event)
}

// EventSinkFunc adapts a function to the EventSink interface.
type EventSinkFunc func(event Event)

// Emit calls the wrapped function.
func (f EventSinkFunc) Emit(event Event) {
	f(event)
}

type nopSink struct{}

func (nopSink) Emit(Event) {}

// NopSink discards all events.
var NopSink EventSink = nopSink{}

type multiSink []EventSink

func (m multiSink) Emit(event Event) {
	for _, s := range m {
		s.Emit(event)
	}
}

// MultiSink fans an event out to several sinks in order.
func MultiSink(sinks ...EventSink) EventSink {
	switch len(sinks) {
	case 0:
		return NopSink
	case 1:
		return sinks[0]
	}
	return multiSink(sinks)
}

func (e Event) withTimestamp() Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return e
}
