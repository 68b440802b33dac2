// ABOUTME: Tests for hub ingestion validation and response routing
// ABOUTME: Uses the real store and lifecycle with a fake relay

package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookline/hookline/internal/lifecycle"
	"github.com/hookline/hookline/internal/relay"
	"github.com/hookline/hookline/internal/store"
)

type recordingRelay struct {
	mu       sync.Mutex
	payloads []*relay.Payload
}

func (r *recordingRelay) Deliver(ctx context.Context, url string, payload *relay.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads = append(r.payloads, payload)
	return nil
}

func (r *recordingRelay) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func setupHub(t *testing.T) (*Hub, *store.SQLiteStore, *recordingRelay) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	r := &recordingRelay{}
	lc := lifecycle.NewManager(s, r, nil)
	t.Cleanup(lc.Close)

	h := New(s, lc, nil)
	t.Cleanup(h.Close)
	return h, s, r
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func plainEvent() *store.Event {
	return &store.Event{
		SourceApp:     "backend",
		SessionID:     "s-1",
		HookEventType: "PreToolUse",
		Payload:       json.RawMessage(`{"tool":"Bash"}`),
		Timestamp:     time.Now().UnixMilli(),
	}
}

func permissionEvent() *store.Event {
	event := plainEvent()
	event.HITLRequest = &store.HITLRequest{
		Question:             "Allow rm -rf /tmp/x?",
		RequiresResponse:     store.HITLKindPermission,
		ResponseWebSocketURL: "ws://127.0.0.1:49152/response",
		TimeoutSeconds:       60,
	}
	return event
}

func choiceEvent(choices ...string) *store.Event {
	event := plainEvent()
	event.HITLRequest = &store.HITLRequest{
		Question:             "Which test runner?",
		RequiresResponse:     store.HITLKindChoice,
		ResponseWebSocketURL: "ws://127.0.0.1:49152/response",
		Choices:              choices,
		TimeoutSeconds:       60,
	}
	return event
}

func TestIngest_PersistsAndBroadcasts(t *testing.T) {
	h, s, _ := setupHub(t)

	ch, _ := h.Subscribe(t.Context())

	id, err := h.Ingest(context.Background(), plainEvent())
	require.NoError(t, err)
	assert.Positive(t, id)

	stored, err := s.GetEvent(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "backend", stored.SourceApp)

	select {
	case event := <-ch:
		assert.Equal(t, id, event.ID)
	case <-time.After(time.Second):
		t.Fatal("observer did not receive ingested event")
	}
}

func TestIngest_HITLBroadcastIncludesPendingStatus(t *testing.T) {
	h, _, _ := setupHub(t)

	ch, _ := h.Subscribe(t.Context())

	id, err := h.Ingest(context.Background(), permissionEvent())
	require.NoError(t, err)

	select {
	case event := <-ch:
		assert.Equal(t, id, event.ID)
		require.NotNil(t, event.HITLStatus)
		assert.Equal(t, store.HITLStatePending, event.HITLStatus.State)
	case <-time.After(time.Second):
		t.Fatal("observer did not receive ingested event")
	}
}

func TestIngest_ValidationRejectsAndNeverStores(t *testing.T) {
	h, s, _ := setupHub(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		event *store.Event
	}{
		{"missing source_app", func() *store.Event {
			e := plainEvent()
			e.SourceApp = ""
			return e
		}()},
		{"missing session_id", func() *store.Event {
			e := plainEvent()
			e.SessionID = ""
			return e
		}()},
		{"missing hook_event_type", func() *store.Event {
			e := plainEvent()
			e.HookEventType = ""
			return e
		}()},
		{"unknown kind", func() *store.Event {
			e := permissionEvent()
			e.HITLRequest.RequiresResponse = "approval"
			return e
		}()},
		{"choice without choices", choiceEvent()},
		{"permission with choices", func() *store.Event {
			e := permissionEvent()
			e.HITLRequest.Choices = []string{"yes", "no"}
			return e
		}()},
		{"missing question", func() *store.Event {
			e := permissionEvent()
			e.HITLRequest.Question = ""
			return e
		}()},
		{"missing response url", func() *store.Event {
			e := permissionEvent()
			e.HITLRequest.ResponseWebSocketURL = ""
			return e
		}()},
		{"non-positive timeout", func() *store.Event {
			e := permissionEvent()
			e.HITLRequest.TimeoutSeconds = 0
			return e
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Ingest(ctx, tt.event)
			assert.ErrorIs(t, err, ErrInvalidEvent)
		})
	}

	events, err := s.ListRecentEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events, "rejected events must never be stored")
}

func TestSubmitResponse_PermissionFlow(t *testing.T) {
	h, s, r := setupHub(t)
	ctx := context.Background()

	id, err := h.Ingest(ctx, permissionEvent())
	require.NoError(t, err)

	require.NoError(t, h.SubmitResponse(ctx, id, &store.Response{Permission: boolPtr(true)}))

	stored, err := s.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.HITLStateResponded, stored.HITLStatus.State)

	require.Eventually(t, func() bool { return r.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestSubmitResponse_NotFound(t *testing.T) {
	h, _, _ := setupHub(t)

	err := h.SubmitResponse(context.Background(), 9999, &store.Response{Permission: boolPtr(true)})
	assert.ErrorIs(t, err, store.ErrEventNotFound)
}

func TestSubmitResponse_NotHITL(t *testing.T) {
	h, _, _ := setupHub(t)
	ctx := context.Background()

	id, err := h.Ingest(ctx, plainEvent())
	require.NoError(t, err)

	err = h.SubmitResponse(ctx, id, &store.Response{Permission: boolPtr(true)})
	assert.ErrorIs(t, err, ErrNotHITL)
}

func TestSubmitResponse_SecondResponseAlreadyTerminal(t *testing.T) {
	h, s, _ := setupHub(t)
	ctx := context.Background()

	id, err := h.Ingest(ctx, permissionEvent())
	require.NoError(t, err)

	require.NoError(t, h.SubmitResponse(ctx, id, &store.Response{Permission: boolPtr(true)}))

	err = h.SubmitResponse(ctx, id, &store.Response{Permission: boolPtr(false)})
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	// First answer unchanged
	stored, err := s.GetEvent(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored.HITLStatus.Response.Permission)
	assert.True(t, *stored.HITLStatus.Response.Permission)
}

func TestSubmitResponse_ShapeMismatch(t *testing.T) {
	h, s, _ := setupHub(t)
	ctx := context.Background()

	id, err := h.Ingest(ctx, choiceEvent("Vitest", "Mocha"))
	require.NoError(t, err)

	tests := []struct {
		name string
		resp *store.Response
	}{
		{"empty response", &store.Response{}},
		{"two fields set", &store.Response{Text: strPtr("x"), Permission: boolPtr(true)}},
		{"text for choice kind", &store.Response{Text: strPtr("Vitest")}},
		{"choice not in set", &store.Response{Choice: strPtr("Jest")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.SubmitResponse(ctx, id, tt.resp)
			assert.ErrorIs(t, err, ErrShapeMismatch)
		})
	}

	// The record stays pending after every rejected submission
	stored, err := s.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.HITLStatePending, stored.HITLStatus.State)

	// And a valid choice still resolves it
	require.NoError(t, h.SubmitResponse(ctx, id, &store.Response{Choice: strPtr("Mocha")}))
}
