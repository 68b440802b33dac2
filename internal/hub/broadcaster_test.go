// ABOUTME: Tests for the observer fan-out broadcaster
// ABOUTME: Covers subscribe, publish, slow-observer disconnect, concurrency

package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/internal/store"
)

func makeStoredEvent(id int64) *store.Event {
	return &store.Event{
		ID:            id,
		SourceApp:     "backend",
		SessionID:     "s-1",
		HookEventType: "PreToolUse",
		Timestamp:     time.Now().UnixMilli(),
	}
}

func TestBroadcaster_SingleSubscriberReceivesEvent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context())

	b.Publish(makeStoredEvent(1))

	select {
	case received := <-ch:
		assert.Equal(t, int64(1), received.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBroadcaster_AllSubscribersReceiveSameEvent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context())
	ch2, _ := b.Subscribe(t.Context())
	ch3, _ := b.Subscribe(t.Context())

	b.Publish(makeStoredEvent(2))

	for i, ch := range []<-chan *store.Event{ch1, ch2, ch3} {
		select {
		case received := <-ch:
			assert.Equal(t, int64(2), received.ID, "subscriber %d got wrong event", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_UnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context())
	b.Unsubscribe(subID)

	_, open := <-ch
	assert.False(t, open, "channel should be closed after unsubscribe")
}

func TestBroadcaster_ContextCancelCleansUp(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, open := <-ch:
			return !open
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestBroadcaster_SlowObserverIsDisconnected(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	slow, _ := b.Subscribe(t.Context())
	fast, _ := b.Subscribe(t.Context())

	// Fill the slow observer's buffer without draining it, then publish
	// one more: the overflow disconnects the slow observer only.
	for i := range subscriberBufferSize + 1 {
		b.Publish(makeStoredEvent(int64(i + 1)))
		// Keep the fast observer drained
		select {
		case <-fast:
		case <-time.After(time.Second):
			t.Fatal("fast observer starved")
		}
	}

	// Drain the slow observer: buffered events, then closed channel
	received := 0
	for range slow {
		received++
	}
	assert.Equal(t, subscriberBufferSize, received)

	// The fast observer still gets new events
	b.Publish(makeStoredEvent(99))
	select {
	case event := <-fast:
		assert.Equal(t, int64(99), event.ID)
	case <-time.After(time.Second):
		t.Fatal("fast observer disconnected alongside slow one")
	}
}

func TestBroadcaster_PublishWithNoSubscribers(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	// Must not panic or block
	b.Publish(makeStoredEvent(1))
}

func TestBroadcaster_ConcurrentPublishAndSubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			ch, _ := b.Subscribe(ctx)
			go func() {
				for range ch {
				}
			}()
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
	}
	for i := range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Publish(makeStoredEvent(int64(i)))
		}()
	}
	wg.Wait()
}
