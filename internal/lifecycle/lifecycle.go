// ABOUTME: HITL lifecycle manager with per-request single-shot timeout timers
// ABOUTME: Resolve hands off to the relay; timer expiry records timeout only

package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hookline/hookline/internal/relay"
	"github.com/hookline/hookline/internal/store"
)

// transitionTimeout bounds store writes made off a request path, such as a
// timer firing or a delivery-failure annotation.
const transitionTimeout = 5 * time.Second

// StatusStore is the slice of the event store the manager needs.
type StatusStore interface {
	GetEvent(ctx context.Context, id int64) (*store.Event, error)
	SetStatus(ctx context.Context, id int64, status *store.HITLStatus) error
	MarkDeliveryFailed(ctx context.Context, id int64) error
}

// Deliverer sends a resolved answer to the agent's declared endpoint.
type Deliverer interface {
	Deliver(ctx context.Context, url string, payload *relay.Payload) error
}

// Manager owns the pending/responded/timeout status of every HITL-bearing
// event and the timer armed for each.
type Manager struct {
	store  StatusStore
	relay  Deliverer
	logger *slog.Logger

	mu     sync.Mutex
	timers map[int64]*time.Timer
	closed bool

	deliveries sync.WaitGroup
}

// NewManager creates a lifecycle manager. Pass nil logger for default.
func NewManager(st StatusStore, deliverer Deliverer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  st,
		relay:  deliverer,
		logger: logger.With("component", "lifecycle"),
		timers: make(map[int64]*time.Timer),
	}
}

// Register arms the single-shot server-side timeout for a freshly stored
// request. The stored status is already pending; if the timer fires before
// any transition it commits timeout and takes no further action.
func (m *Manager) Register(id int64, timeoutSeconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.timers[id] = time.AfterFunc(time.Duration(timeoutSeconds)*time.Second, func() {
		m.onTimeout(id)
	})

	m.logger.Debug("request registered",
		"event_id", id,
		"timeout_seconds", timeoutSeconds)
}

// onTimeout commits the timeout transition for a request whose timer fired.
// Losing the race to a human response is expected and not an error. No
// delivery is attempted: the agent's own local timeout races independently.
func (m *Manager) onTimeout(id int64) {
	m.mu.Lock()
	delete(m.timers, id)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), transitionTimeout)
	defer cancel()

	err := m.store.SetStatus(ctx, id, &store.HITLStatus{State: store.HITLStateTimeout})
	switch {
	case errors.Is(err, store.ErrStatusConflict):
		m.logger.Debug("timeout lost race to response", "event_id", id)
	case err != nil:
		m.logger.Error("recording timeout failed", "event_id", id, "error", err)
	default:
		m.logger.Info("request timed out", "event_id", id)
	}
}

// Resolve cancels the armed timer and commits the responded transition with
// the given answer. Returns store.ErrStatusConflict if an earlier terminal
// transition won, so the caller can report "already resolved". On success
// the answer is handed to the relay on its own goroutine; delivery failures
// never revert the responded state.
func (m *Manager) Resolve(ctx context.Context, id int64, resp *store.Response) error {
	m.mu.Lock()
	if timer, ok := m.timers[id]; ok {
		timer.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()

	respondedAt := store.NowMillis()
	err := m.store.SetStatus(ctx, id, &store.HITLStatus{
		State:       store.HITLStateResponded,
		RespondedAt: respondedAt,
		Response:    resp,
	})
	if err != nil {
		return err
	}

	event, err := m.store.GetEvent(ctx, id)
	if err != nil {
		// The transition committed; the dashboard record is intact even
		// though the echo payload cannot be assembled.
		m.logger.Error("loading event for delivery failed", "event_id", id, "error", err)
		return nil
	}

	m.deliveries.Add(1)
	go m.deliver(id, event.HITLRequest.ResponseWebSocketURL, relay.NewPayload(resp, respondedAt, event))

	return nil
}

// deliver runs one fire-and-forget delivery attempt off the request path.
func (m *Manager) deliver(id int64, url string, payload *relay.Payload) {
	defer m.deliveries.Done()

	if err := m.relay.Deliver(context.Background(), url, payload); err != nil {
		m.logger.Warn("answer delivery failed", "event_id", id, "error", err)

		ctx, cancel := context.WithTimeout(context.Background(), transitionTimeout)
		defer cancel()
		if err := m.store.MarkDeliveryFailed(ctx, id); err != nil {
			m.logger.Error("recording delivery failure failed", "event_id", id, "error", err)
		}
	}
}

// Close stops all armed timers and waits for in-flight deliveries. It does
// not transition any state: pending rows are swept by the store's
// ExpirePending on the next startup.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()

	m.deliveries.Wait()
	m.logger.Debug("lifecycle manager closed")
}
