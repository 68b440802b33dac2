// ABOUTME: Broadcast hub: ingest validation, persistence, HITL registration
// ABOUTME: SubmitResponse validates answer shape and forwards to the lifecycle

package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hookline/hookline/internal/store"
)

// Rejection reasons for response submissions. The string values double as
// the wire-level reason codes.
var (
	ErrNotHITL         = errors.New("not-hitl")
	ErrAlreadyTerminal = errors.New("already-terminal")
	ErrShapeMismatch   = errors.New("shape-mismatch")
)

// ErrInvalidEvent wraps ingestion validation failures. Invalid events are
// rejected synchronously and never stored.
var ErrInvalidEvent = errors.New("invalid event")

// Lifecycle is the slice of the lifecycle manager the hub uses.
type Lifecycle interface {
	Register(id int64, timeoutSeconds int)
	Resolve(ctx context.Context, id int64, resp *store.Response) error
}

// Hub accepts new events, persists them, registers HITL requests, and fans
// stored events out to observers.
type Hub struct {
	store       store.EventStore
	lifecycle   Lifecycle
	broadcaster *Broadcaster
	logger      *slog.Logger
}

// New creates a hub. Pass nil logger for default.
func New(st store.EventStore, lc Lifecycle, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		store:       st,
		lifecycle:   lc,
		broadcaster: NewBroadcaster(logger),
		logger:      logger.With("component", "hub"),
	}
}

// Ingest validates and persists an event, arms the HITL timeout if the
// event carries a request, and publishes the stored record to observers.
// The HITL registration happens before the caller is acknowledged so a
// request can never be acknowledged without its timer armed.
func (h *Hub) Ingest(ctx context.Context, event *store.Event) (int64, error) {
	if err := validateEvent(event); err != nil {
		return 0, err
	}

	// Server-assigned fields; anything client-supplied is ignored
	event.ID = 0
	event.HITLStatus = nil
	if event.Timestamp == 0 {
		event.Timestamp = store.NowMillis()
	}

	id, err := h.store.PutEvent(ctx, event)
	if err != nil {
		return 0, fmt.Errorf("persisting event: %w", err)
	}

	if event.HITLRequest != nil {
		h.lifecycle.Register(id, event.HITLRequest.TimeoutSeconds)
	}

	stored, err := h.store.GetEvent(ctx, id)
	if err != nil {
		// The event is persisted and the timer armed; observers miss
		// this one but the ingest itself succeeded.
		h.logger.Error("loading stored event for broadcast failed", "event_id", id, "error", err)
		return id, nil
	}
	h.broadcaster.Publish(stored)

	return id, nil
}

// Subscribe registers an observer for events published after this call.
func (h *Hub) Subscribe(ctx context.Context) (<-chan *store.Event, string) {
	return h.broadcaster.Subscribe(ctx)
}

// Unsubscribe removes an observer subscription.
func (h *Hub) Unsubscribe(subID string) {
	h.broadcaster.Unsubscribe(subID)
}

// SubmitResponse validates a human answer against the request's kind and
// forwards it to the lifecycle manager. User-input failures come back as
// ErrNotHITL, ErrAlreadyTerminal, or ErrShapeMismatch, never as a panic.
func (h *Hub) SubmitResponse(ctx context.Context, id int64, resp *store.Response) error {
	event, err := h.store.GetEvent(ctx, id)
	if err != nil {
		return err
	}

	if event.HITLRequest == nil {
		return ErrNotHITL
	}
	if event.HITLStatus != nil && event.HITLStatus.State != store.HITLStatePending {
		return ErrAlreadyTerminal
	}

	if err := validateResponseShape(event.HITLRequest, resp); err != nil {
		return err
	}

	err = h.lifecycle.Resolve(ctx, id, resp)
	if errors.Is(err, store.ErrStatusConflict) {
		return ErrAlreadyTerminal
	}
	if err != nil {
		return fmt.Errorf("resolving request: %w", err)
	}

	h.logger.Info("response accepted", "event_id", id)
	return nil
}

// Close shuts down the observer fan-out.
func (h *Hub) Close() {
	h.broadcaster.Close()
}

// validateEvent checks the required fields and the HITL request shape.
func validateEvent(event *store.Event) error {
	switch {
	case event.SourceApp == "":
		return fmt.Errorf("%w: source_app is required", ErrInvalidEvent)
	case event.SessionID == "":
		return fmt.Errorf("%w: session_id is required", ErrInvalidEvent)
	case event.HookEventType == "":
		return fmt.Errorf("%w: hook_event_type is required", ErrInvalidEvent)
	}

	req := event.HITLRequest
	if req == nil {
		return nil
	}

	switch req.RequiresResponse {
	case store.HITLKindQuestion, store.HITLKindPermission:
		if len(req.Choices) > 0 {
			return fmt.Errorf("%w: choices only valid for kind %q", ErrInvalidEvent, store.HITLKindChoice)
		}
	case store.HITLKindChoice:
		if len(req.Choices) == 0 {
			return fmt.Errorf("%w: choices required for kind %q", ErrInvalidEvent, store.HITLKindChoice)
		}
	default:
		return fmt.Errorf("%w: unknown requiresResponse %q", ErrInvalidEvent, req.RequiresResponse)
	}

	if req.Question == "" {
		return fmt.Errorf("%w: question is required", ErrInvalidEvent)
	}
	if req.ResponseWebSocketURL == "" {
		return fmt.Errorf("%w: responseWebSocketUrl is required", ErrInvalidEvent)
	}
	if req.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: timeoutSeconds must be positive", ErrInvalidEvent)
	}

	return nil
}

// validateResponseShape checks that exactly the field matching the
// request's kind is set, and that a choice answer is one of the offered
// choices by value.
func validateResponseShape(req *store.HITLRequest, resp *store.Response) error {
	set := 0
	if resp.Text != nil {
		set++
	}
	if resp.Permission != nil {
		set++
	}
	if resp.Choice != nil {
		set++
	}
	if set != 1 {
		return ErrShapeMismatch
	}

	switch req.RequiresResponse {
	case store.HITLKindQuestion:
		if resp.Text == nil {
			return ErrShapeMismatch
		}
	case store.HITLKindPermission:
		if resp.Permission == nil {
			return ErrShapeMismatch
		}
	case store.HITLKindChoice:
		if resp.Choice == nil || !slices.Contains(req.Choices, *resp.Choice) {
			return ErrShapeMismatch
		}
	}

	return nil
}
