// ABOUTME: Tests for the HITL lifecycle state machine and timeout timers
// ABOUTME: Covers timer expiry, resolve, races, and delivery failure audit

package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/internal/relay"
	"github.com/hookline/hookline/internal/store"
)

// fakeRelay records deliveries and can be told to fail.
type fakeRelay struct {
	mu       sync.Mutex
	err      error
	payloads []*relay.Payload
	urls     []string
}

func (f *fakeRelay) Deliver(ctx context.Context, url string, payload *relay.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.urls = append(f.urls, url)
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeRelay) deliveries() []*relay.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*relay.Payload(nil), f.payloads...)
}

func boolPtr(b bool) *bool { return &b }

func setup(t *testing.T) (*Manager, *store.SQLiteStore, *fakeRelay) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	r := &fakeRelay{}
	m := NewManager(s, r, nil)
	t.Cleanup(m.Close)
	return m, s, r
}

func putRequest(t *testing.T, s *store.SQLiteStore, timeoutSeconds int) int64 {
	t.Helper()
	id, err := s.PutEvent(context.Background(), &store.Event{
		SourceApp:     "backend",
		SessionID:     "s-1",
		HookEventType: "PreToolUse",
		Timestamp:     time.Now().UnixMilli(),
		HITLRequest: &store.HITLRequest{
			Question:             "Allow rm -rf /tmp/x?",
			RequiresResponse:     store.HITLKindPermission,
			ResponseWebSocketURL: "ws://127.0.0.1:49152/response",
			TimeoutSeconds:       timeoutSeconds,
		},
	})
	require.NoError(t, err)
	return id
}

func getState(t *testing.T, s *store.SQLiteStore, id int64) store.HITLState {
	t.Helper()
	event, err := s.GetEvent(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, event.HITLStatus)
	return event.HITLStatus.State
}

func TestTimerExpiry_CommitsTimeout(t *testing.T) {
	m, s, r := setup(t)
	id := putRequest(t, s, 1)

	m.Register(id, 1)

	require.Eventually(t, func() bool {
		return getState(t, s, id) == store.HITLStateTimeout
	}, 1200*time.Millisecond+200*time.Millisecond, 25*time.Millisecond)

	// Timeout never attempts delivery to the agent
	assert.Empty(t, r.deliveries())
}

func TestResolve_CommitsRespondedAndDelivers(t *testing.T) {
	m, s, r := setup(t)
	id := putRequest(t, s, 60)
	m.Register(id, 60)

	err := m.Resolve(context.Background(), id, &store.Response{Permission: boolPtr(true)})
	require.NoError(t, err)

	assert.Equal(t, store.HITLStateResponded, getState(t, s, id))

	require.Eventually(t, func() bool {
		return len(r.deliveries()) == 1
	}, time.Second, 10*time.Millisecond)

	payload := r.deliveries()[0]
	require.NotNil(t, payload.Permission)
	assert.True(t, *payload.Permission)
	assert.NotZero(t, payload.RespondedAt)
	require.NotNil(t, payload.HookEvent)
	assert.Equal(t, id, payload.HookEvent.ID)
	assert.Equal(t, "ws://127.0.0.1:49152/response", r.urls[0])
}

func TestResolve_AfterTimeoutIsConflict(t *testing.T) {
	m, s, r := setup(t)
	id := putRequest(t, s, 1)
	m.Register(id, 1)

	require.Eventually(t, func() bool {
		return getState(t, s, id) == store.HITLStateTimeout
	}, 2*time.Second, 25*time.Millisecond)

	err := m.Resolve(context.Background(), id, &store.Response{Permission: boolPtr(true)})
	assert.ErrorIs(t, err, store.ErrStatusConflict)
	assert.Empty(t, r.deliveries())
	assert.Equal(t, store.HITLStateTimeout, getState(t, s, id))
}

func TestResolve_CancelsTimer(t *testing.T) {
	m, s, _ := setup(t)
	id := putRequest(t, s, 1)
	m.Register(id, 1)

	require.NoError(t, m.Resolve(context.Background(), id, &store.Response{Permission: boolPtr(false)}))

	// Past the original deadline the record is still responded
	time.Sleep(1300 * time.Millisecond)
	assert.Equal(t, store.HITLStateResponded, getState(t, s, id))
}

func TestResolve_SecondResolveIsConflict(t *testing.T) {
	m, s, _ := setup(t)
	id := putRequest(t, s, 60)
	m.Register(id, 60)

	first := "keep going"
	require.NoError(t, m.Resolve(context.Background(), id, &store.Response{Text: &first}))

	second := "stop"
	err := m.Resolve(context.Background(), id, &store.Response{Text: &second})
	assert.ErrorIs(t, err, store.ErrStatusConflict)

	// The first answer is preserved
	event, err := s.GetEvent(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, event.HITLStatus.Response.Text)
	assert.Equal(t, "keep going", *event.HITLStatus.Response.Text)
}

func TestDeliveryFailure_AnnotatesButKeepsResponded(t *testing.T) {
	m, s, r := setup(t)
	r.err = errors.New("connection refused")

	id := putRequest(t, s, 60)
	m.Register(id, 60)

	require.NoError(t, m.Resolve(context.Background(), id, &store.Response{Permission: boolPtr(true)}))

	require.Eventually(t, func() bool {
		event, err := s.GetEvent(context.Background(), id)
		require.NoError(t, err)
		return event.HITLStatus.DeliveryFailed
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, store.HITLStateResponded, getState(t, s, id))
}

func TestClose_StopsArmedTimers(t *testing.T) {
	m, s, _ := setup(t)
	id := putRequest(t, s, 1)
	m.Register(id, 1)

	m.Close()

	time.Sleep(1300 * time.Millisecond)
	// No timer fired after Close; the row stays pending until the next
	// startup sweep.
	assert.Equal(t, store.HITLStatePending, getState(t, s, id))
}
