// ABOUTME: Event CRUD and HITL status transitions for the events table
// ABOUTME: SetStatus enforces the first-terminal-transition-wins invariant

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PutEvent persists an event and returns its database-assigned ID.
// If the event carries a HITL request, the status row starts as pending and
// the server-side timeout deadline is computed from the receive time.
func (s *SQLiteStore) PutEvent(ctx context.Context, event *Event) (int64, error) {
	payload := event.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	var requestJSON, state any
	var deadline any
	if event.HITLRequest != nil {
		data, err := json.Marshal(event.HITLRequest)
		if err != nil {
			return 0, fmt.Errorf("encoding hitl request: %w", err)
		}
		requestJSON = string(data)
		state = string(HITLStatePending)
		deadline = time.Now().UnixMilli() + int64(event.HITLRequest.TimeoutSeconds)*1000
	}

	query := `
		INSERT INTO events (
			source_app, session_id, hook_event_type, payload, summary,
			timestamp, hitl_request, hitl_state, timeout_deadline
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.SourceApp,
		event.SessionID,
		event.HookEventType,
		string(payload),
		nullString(event.Summary),
		event.Timestamp,
		requestJSON,
		state,
		deadline,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading inserted event id: %w", err)
	}

	s.logger.Debug("saved event",
		"event_id", id,
		"source_app", event.SourceApp,
		"session_id", event.SessionID,
		"hook_event_type", event.HookEventType,
		"hitl", event.HITLRequest != nil,
	)
	return id, nil
}

const eventColumns = `
	id, source_app, session_id, hook_event_type, payload, summary,
	timestamp, hitl_request, hitl_state, hitl_response, responded_at,
	delivery_failed
`

// GetEvent retrieves a single event by ID
func (s *SQLiteStore) GetEvent(ctx context.Context, id int64) (*Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = ?`

	event, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying event %d: %w", id, err)
	}
	return event, nil
}

// SetStatus applies a terminal transition to the event's HITL status. The
// UPDATE is conditional on the stored state still being pending, so two
// racing transitions (human response vs timer expiry) resolve to exactly
// one winner regardless of interleaving.
func (s *SQLiteStore) SetStatus(ctx context.Context, id int64, status *HITLStatus) error {
	var responseJSON any
	if status.Response != nil {
		data, err := json.Marshal(status.Response)
		if err != nil {
			return fmt.Errorf("encoding response: %w", err)
		}
		responseJSON = string(data)
	}

	var respondedAt any
	if status.RespondedAt != 0 {
		respondedAt = status.RespondedAt
	}

	query := `
		UPDATE events
		SET hitl_state = ?, hitl_response = ?, responded_at = ?
		WHERE id = ? AND hitl_state = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(status.State),
		responseJSON,
		respondedAt,
		id,
		string(HITLStatePending),
	)
	if err != nil {
		return fmt.Errorf("updating status for event %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if rows == 0 {
		return s.classifyMissedUpdate(ctx, id)
	}

	s.logger.Debug("status transition",
		"event_id", id,
		"state", status.State,
	)
	return nil
}

// MarkDeliveryFailed sets the delivery-failed audit flag on a responded
// record. The responded state and the stored answer are preserved.
func (s *SQLiteStore) MarkDeliveryFailed(ctx context.Context, id int64) error {
	query := `
		UPDATE events
		SET delivery_failed = 1
		WHERE id = ? AND hitl_state = ?
	`

	result, err := s.db.ExecContext(ctx, query, id, string(HITLStateResponded))
	if err != nil {
		return fmt.Errorf("marking delivery failed for event %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if rows == 0 {
		return s.classifyMissedUpdate(ctx, id)
	}

	s.logger.Debug("delivery failure recorded", "event_id", id)
	return nil
}

// classifyMissedUpdate distinguishes a missing row from a state conflict
// after a conditional UPDATE touched zero rows.
func (s *SQLiteStore) classifyMissedUpdate(ctx context.Context, id int64) error {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM events WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrEventNotFound
	}
	if err != nil {
		return fmt.Errorf("checking event %d: %w", id, err)
	}
	return ErrStatusConflict
}

// ListRecentEvents returns up to limit events, newest first
func (s *SQLiteStore) ListRecentEvents(ctx context.Context, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	query := `SELECT ` + eventColumns + ` FROM events ORDER BY id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event rows: %w", err)
	}

	return events, nil
}

// ListSessions returns the distinct sessions seen so far, for dashboard
// filter options.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	query := `
		SELECT source_app, session_id, COUNT(*)
		FROM events
		GROUP BY source_app, session_id
		ORDER BY MAX(id) DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.SourceApp, &info.SessionID, &info.EventCount); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}

	return sessions, nil
}

// ExpirePending transitions pending requests whose deadline has passed to
// timeout. Called at startup to clean up rows orphaned by a restart; the
// pending-state guard in the UPDATE keeps it safe against live traffic.
func (s *SQLiteStore) ExpirePending(ctx context.Context, now int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM events
		WHERE hitl_state = ? AND timeout_deadline <= ?
	`, string(HITLStatePending), now)
	if err != nil {
		return nil, fmt.Errorf("querying expired requests: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning expired id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating expired ids: %w", err)
	}
	rows.Close()

	var expired []int64
	for _, id := range ids {
		err := s.SetStatus(ctx, id, &HITLStatus{State: HITLStateTimeout})
		if errors.Is(err, ErrStatusConflict) {
			continue
		}
		if err != nil {
			return expired, err
		}
		expired = append(expired, id)
	}

	if len(expired) > 0 {
		s.logger.Info("expired stale pending requests", "count", len(expired))
	}
	return expired, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanEvent
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEvent reads one event row, decoding the stored HITL JSON columns
func scanEvent(row rowScanner) (*Event, error) {
	event := &Event{}
	var payload string
	var summary, requestJSON, state, responseJSON sql.NullString
	var respondedAt sql.NullInt64
	var deliveryFailed int

	err := row.Scan(
		&event.ID,
		&event.SourceApp,
		&event.SessionID,
		&event.HookEventType,
		&payload,
		&summary,
		&event.Timestamp,
		&requestJSON,
		&state,
		&responseJSON,
		&respondedAt,
		&deliveryFailed,
	)
	if err != nil {
		return nil, err
	}

	event.Payload = json.RawMessage(payload)
	event.Summary = summary.String

	if requestJSON.Valid {
		req := &HITLRequest{}
		if err := json.Unmarshal([]byte(requestJSON.String), req); err != nil {
			return nil, fmt.Errorf("decoding hitl request: %w", err)
		}
		event.HITLRequest = req
	}

	if state.Valid {
		status := &HITLStatus{
			State:          HITLState(state.String),
			RespondedAt:    respondedAt.Int64,
			DeliveryFailed: deliveryFailed != 0,
		}
		if responseJSON.Valid {
			resp := &Response{}
			if err := json.Unmarshal([]byte(responseJSON.String), resp); err != nil {
				return nil, fmt.Errorf("decoding hitl response: %w", err)
			}
			status.Response = resp
		}
		event.HITLStatus = status
	}

	return event, nil
}

// nullString maps the empty string to SQL NULL
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
