// ABOUTME: EventStore interface and sentinel errors shared by consumers
// ABOUTME: Allows injecting mock stores for hub and lifecycle tests

package store

import (
	"context"
	"errors"
)

// ErrEventNotFound is returned when a requested event does not exist
var ErrEventNotFound = errors.New("event not found")

// ErrStatusConflict is returned when a status transition loses to an
// earlier terminal transition. The stored record is unchanged.
var ErrStatusConflict = errors.New("status already terminal")

// EventStore is the persistence contract for events and their HITL status.
type EventStore interface {
	// PutEvent persists the event and returns its assigned ID.
	PutEvent(ctx context.Context, event *Event) (int64, error)

	// GetEvent retrieves a single event by ID.
	GetEvent(ctx context.Context, id int64) (*Event, error)

	// SetStatus applies a terminal status transition. Returns
	// ErrStatusConflict if the stored status is already terminal; the
	// first terminal transition wins.
	SetStatus(ctx context.Context, id int64, status *HITLStatus) error

	// MarkDeliveryFailed annotates a responded record whose answer could
	// not be delivered to the agent. Never changes the state.
	MarkDeliveryFailed(ctx context.Context, id int64) error

	// ListRecentEvents returns up to limit events, newest first.
	ListRecentEvents(ctx context.Context, limit int) ([]*Event, error)

	// ListSessions returns the distinct (source_app, session_id) pairs
	// seen so far with their event counts.
	ListSessions(ctx context.Context) ([]SessionInfo, error)

	// ExpirePending transitions every pending request whose deadline is
	// at or before now (Unix milliseconds) to timeout, returning the
	// affected IDs. Used at startup: in-flight timers do not survive a
	// restart, but their rows do.
	ExpirePending(ctx context.Context, now int64) ([]int64, error)

	// Close releases the underlying database handle.
	Close() error
}
