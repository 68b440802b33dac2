// ABOUTME: In-memory fan-out broadcaster for persisted events
// ABOUTME: Publishes stored events to all connected observer subscriptions

package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/hookline/hookline/internal/store"
)

// subscriberBufferSize is the channel buffer for each observer. An
// observer that falls this far behind is disconnected.
const subscriberBufferSize = 64

// Broadcaster provides in-memory pub/sub for persisted events. Observers
// receive only events published after they subscribe; backfill is a store
// query, not a broadcaster concern.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan *store.Event
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan *store.Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers an observer. Returns a channel that receives events
// and a subscription ID for later unsubscription. The subscription is
// automatically cleaned up when ctx is cancelled. The channel is closed on
// unsubscription, including the forced disconnect of a slow observer.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan *store.Event, string) {
	subID := uuid.New().String()
	ch := make(chan *store.Event, subscriberBufferSize)

	b.mu.Lock()
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("observer subscribed", "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish sends an event to every observer. Non-blocking: an observer
// whose buffer is full is disconnected so it can never delay ingestion.
func (b *Broadcaster) Publish(event *store.Event) {
	b.mu.RLock()
	type target struct {
		id string
		ch chan *store.Event
	}
	targets := make([]target, 0, len(b.subscribers))
	for id, ch := range b.subscribers {
		targets = append(targets, target{id, ch})
	}
	b.mu.RUnlock()

	var stale []string
	for _, tgt := range targets {
		select {
		case tgt.ch <- event:
		default:
			stale = append(stale, tgt.id)
		}
	}

	for _, id := range stale {
		b.logger.Warn("disconnecting slow observer", "sub_id", id, "event_id", event.ID)
		b.Unsubscribe(id)
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}

	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("observer removed", "sub_id", subID)
}

// Close shuts down the broadcaster and closes all observer channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}

	b.logger.Debug("broadcaster closed")
}
