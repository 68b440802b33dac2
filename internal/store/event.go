// ABOUTME: Event, HITLRequest, and HITLStatus types with their wire encoding
// ABOUTME: Field names are fixed by protocol compatibility with existing agents

package store

import (
	"encoding/json"
	"time"
)

// HITLKind identifies what shape of answer a request demands.
type HITLKind string

const (
	HITLKindQuestion   HITLKind = "question"
	HITLKindPermission HITLKind = "permission"
	HITLKindChoice     HITLKind = "choice"
)

// HITLState is the lifecycle state of a HITL request.
type HITLState string

const (
	HITLStatePending   HITLState = "pending"
	HITLStateResponded HITLState = "responded"
	HITLStateTimeout   HITLState = "timeout"
	// HITLStateError exists for wire compatibility with dashboards that
	// render it. The lifecycle never reaches it directly: a failed
	// delivery is recorded as the DeliveryFailed annotation on a
	// responded record, not as a state change.
	HITLStateError HITLState = "error"
)

// Event is an immutable fact about agent activity, optionally carrying a
// human-in-the-loop request. The body uses snake_case; the HITL fields use
// the camelCase names existing agents and dashboards already speak.
type Event struct {
	ID            int64           `json:"id,omitempty"`
	SourceApp     string          `json:"source_app"`
	SessionID     string          `json:"session_id"`
	HookEventType string          `json:"hook_event_type"`
	Payload       json.RawMessage `json:"payload"`
	Summary       string          `json:"summary,omitempty"`
	// Timestamp is the agent-supplied capture time in Unix milliseconds.
	// Not trusted for ordering; ID is authoritative.
	Timestamp int64 `json:"timestamp"`

	HITLRequest *HITLRequest `json:"hitl_request,omitempty"`
	HITLStatus  *HITLStatus  `json:"hitl_status,omitempty"`
}

// HITLRequest is the question attached at event creation time. It is never
// mutated after ingestion.
type HITLRequest struct {
	Question string `json:"question"`
	// RequiresResponse is the kind of answer demanded: question,
	// permission, or choice.
	RequiresResponse HITLKind `json:"requiresResponse"`
	// ResponseWebSocketURL is the agent's self-declared ephemeral
	// endpoint. Opaque to the hub; dialed at most once by the relay.
	ResponseWebSocketURL string   `json:"responseWebSocketUrl"`
	Choices              []string `json:"choices,omitempty"`
	TimeoutSeconds       int      `json:"timeoutSeconds"`
}

// HITLStatus is the single piece of mutable state per request.
type HITLStatus struct {
	State HITLState `json:"state"`
	// RespondedAt is Unix milliseconds, set only on entering responded.
	RespondedAt int64     `json:"respondedAt,omitempty"`
	Response    *Response `json:"response,omitempty"`
	// DeliveryFailed is an audit annotation: the human's answer was
	// recorded but the relay could not reach the agent. It never reverts
	// the responded state.
	DeliveryFailed bool `json:"deliveryFailed,omitempty"`
}

// Response is a human answer. Exactly one field is set, matching the
// request's kind.
type Response struct {
	Text       *string `json:"response,omitempty"`
	Permission *bool   `json:"permission,omitempty"`
	Choice     *string `json:"choice,omitempty"`
}

// SessionInfo summarizes one (source_app, session_id) pair for dashboard
// filter options.
type SessionInfo struct {
	SourceApp  string `json:"source_app"`
	SessionID  string `json:"session_id"`
	EventCount int64  `json:"event_count"`
}

// NowMillis returns the current time in Unix milliseconds, the timestamp
// unit used throughout the wire format.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
