package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/zwischen/zwischen-srv/proxy"
)

func TestHubSubscribeAndEmit(t *testing.T) {
	hub := NewHub()
	assert.Equal(t, 0, hub.SubscriberCount())

	events, unsubscribe := hub.Subscribe()
	assert.Equal(t, 1, hub.SubscriberCount())

	hub.Emit(proxy.Event{Kind: proxy.EventCacheHit, Target: "/page"})

	select {
	case event := <-events:
		assert.Equal(t, proxy.EventCacheHit, event.Kind)
		assert.Equal(t, "/page", event.Target)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	unsubscribe()
	assert.Equal(t, 0, hub.SubscriberCount())

	// Channel is closed after unsubscribe.
	_, ok := <-events
	assert.False(t, ok)

	// Unsubscribing twice is safe.
	unsubscribe()
}

func TestHubDropsEventsForSlowSubscriber(t *testing.T) {
	hub := NewHub()
	_, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	// Nothing reads the channel; once the buffer fills, Emit must not
	// block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			hub.Emit(proxy.Event{Kind: proxy.EventConnectionOpened})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Emit blocked on a slow subscriber")
	}
}

func TestHubMultipleSubscribers(t *testing.T) {
	hub := NewHub()
	first, stopFirst := hub.Subscribe()
	second, stopSecond := hub.Subscribe()
	defer stopFirst()
	defer stopSecond()

	hub.Emit(proxy.Event{Kind: proxy.EventRequestBlocked})

	for _, ch := range []<-chan proxy.Event{first, second} {
		select {
		case event := <-ch:
			require.Equal(t, proxy.EventRequestBlocked, event.Kind)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}
