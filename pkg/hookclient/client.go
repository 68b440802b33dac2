// ABOUTME: Client for emitting hook events and awaiting human answers
// ABOUTME: Ask blocks one goroutine per request; concurrent calls are independent

package hookclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"
)

var (
	// ErrTimedOut means the local wait elapsed with no answer. The hub
	// may still record a response concurrently; that answer is unusable.
	ErrTimedOut = errors.New("timed out awaiting human response")

	// ErrDeliveryFailed means the request never reached the hub. No
	// endpoint is left open.
	ErrDeliveryFailed = errors.New("request submission failed")
)

// Kind identifies what shape of answer a request demands.
type Kind string

const (
	KindQuestion   Kind = "question"
	KindPermission Kind = "permission"
	KindChoice     Kind = "choice"
)

// Policy decides what AskPermission does when the hub is unreachable at
// submission time. This is a security-relevant default: fail-open silently
// approves whatever was being asked about.
type Policy int

const (
	// FailClosed treats an unreachable hub as a denial.
	FailClosed Policy = iota
	// FailOpen treats an unreachable hub as an approval.
	FailOpen
)

// Request is one question put to a human.
type Request struct {
	Question string
	Kind     Kind
	// Choices is required for KindChoice and must be empty otherwise.
	Choices []string
	// Payload is optional structured context attached to the event.
	Payload any
	// Timeout is the local wait bound. The hub arms its own timer with
	// the same duration; the two clocks are not synchronized.
	Timeout time.Duration
}

// Answer is a human's response. The field matching the request's kind is
// set.
type Answer struct {
	Text        *string
	Permission  *bool
	Choice      *string
	RespondedAt time.Time
	EventID     int64
}

// Client emits events to a hookline hub on behalf of one agent session.
// The zero HTTPClient and Logger are replaced with defaults.
type Client struct {
	BaseURL   string
	SourceApp string
	SessionID string

	// OnUnreachable is the AskPermission policy when submission fails.
	OnUnreachable Policy

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New creates a client for the given hub and agent identity.
func New(baseURL, sourceApp, sessionID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		SourceApp: sourceApp,
		SessionID: sessionID,
	}
}

// wireEvent is the ingestion body. Field names are fixed by the hub's
// protocol.
type wireEvent struct {
	SourceApp     string           `json:"source_app"`
	SessionID     string           `json:"session_id"`
	HookEventType string           `json:"hook_event_type"`
	Payload       json.RawMessage  `json:"payload"`
	Timestamp     int64            `json:"timestamp"`
	HITLRequest   *wireHITLRequest `json:"hitl_request,omitempty"`
}

type wireHITLRequest struct {
	Question             string   `json:"question"`
	RequiresResponse     Kind     `json:"requiresResponse"`
	ResponseWebSocketURL string   `json:"responseWebSocketUrl"`
	Choices              []string `json:"choices,omitempty"`
	TimeoutSeconds       int      `json:"timeoutSeconds"`
}

type ingestResponse struct {
	ID int64 `json:"id"`
}

// SendEvent emits a plain (non-HITL) hook event and returns its assigned ID.
func (c *Client) SendEvent(ctx context.Context, hookEventType string, payload any) (int64, error) {
	return c.submit(ctx, hookEventType, payload, nil)
}

// Ask submits an event carrying a HITL request and blocks until a human
// answers, the local timeout elapses (ErrTimedOut), or ctx is cancelled.
// If the submission itself fails, ErrDeliveryFailed is returned
// immediately. The receiving endpoint is torn down exactly once on every
// exit path.
func (c *Client) Ask(ctx context.Context, req Request) (*Answer, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	ep, err := newEndpoint(c.logger())
	if err != nil {
		return nil, err
	}
	defer ep.close()

	id, err := c.submit(ctx, string(req.Kind), req.Payload, &wireHITLRequest{
		Question:             req.Question,
		RequiresResponse:     req.Kind,
		ResponseWebSocketURL: ep.url(),
		Choices:              req.Choices,
		TimeoutSeconds:       int(req.Timeout / time.Second),
	})
	if err != nil {
		c.logger().Warn("request submission failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	c.logger().Debug("awaiting human response",
		"event_id", id,
		"endpoint", ep.url(),
		"timeout", req.Timeout)

	timer := time.NewTimer(req.Timeout)
	defer timer.Stop()

	select {
	case payload := <-ep.msgs:
		answer := &Answer{
			Text:        payload.Response,
			Permission:  payload.Permission,
			Choice:      payload.Choice,
			RespondedAt: time.UnixMilli(payload.RespondedAt),
			EventID:     id,
		}
		if payload.HookEvent != nil && payload.HookEvent.ID != id {
			// Per-request endpoints make this impossible short of a
			// misbehaving hub; refuse rather than misroute.
			return nil, fmt.Errorf("answer for event %d arrived on endpoint for event %d", payload.HookEvent.ID, id)
		}
		return answer, nil

	case <-timer.C:
		return nil, ErrTimedOut

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AskQuestion asks a free-text question.
func (c *Client) AskQuestion(ctx context.Context, question string, timeout time.Duration) (string, error) {
	answer, err := c.Ask(ctx, Request{Question: question, Kind: KindQuestion, Timeout: timeout})
	if err != nil {
		return "", err
	}
	if answer.Text == nil {
		return "", fmt.Errorf("answer missing text field")
	}
	return *answer.Text, nil
}

// AskPermission asks a yes/no permission question. When the hub is
// unreachable at submission time the configured OnUnreachable policy
// decides the outcome; a timeout is always a denial.
func (c *Client) AskPermission(ctx context.Context, question string, timeout time.Duration) (bool, error) {
	answer, err := c.Ask(ctx, Request{Question: question, Kind: KindPermission, Timeout: timeout})
	if errors.Is(err, ErrDeliveryFailed) && c.OnUnreachable == FailOpen {
		c.logger().Warn("hub unreachable, proceeding fail-open", "question", question)
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if answer.Permission == nil {
		return false, fmt.Errorf("answer missing permission field")
	}
	return *answer.Permission, nil
}

// AskChoice asks the human to pick one of the given choices.
func (c *Client) AskChoice(ctx context.Context, question string, choices []string, timeout time.Duration) (string, error) {
	answer, err := c.Ask(ctx, Request{Question: question, Kind: KindChoice, Choices: choices, Timeout: timeout})
	if err != nil {
		return "", err
	}
	if answer.Choice == nil || !slices.Contains(choices, *answer.Choice) {
		return "", fmt.Errorf("answer missing valid choice field")
	}
	return *answer.Choice, nil
}

// submit POSTs an event to the hub and returns the assigned ID.
func (c *Client) submit(ctx context.Context, hookEventType string, payload any, hitl *wireHITLRequest) (int64, error) {
	raw := json.RawMessage("{}")
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("encoding payload: %w", err)
		}
		raw = data
	}

	body, err := json.Marshal(wireEvent{
		SourceApp:     c.SourceApp,
		SessionID:     c.SessionID,
		HookEventType: hookEventType,
		Payload:       raw,
		Timestamp:     time.Now().UnixMilli(),
		HITLRequest:   hitl,
	})
	if err != nil {
		return 0, fmt.Errorf("encoding event: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/events", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("posting event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("hub rejected event: status %d", resp.StatusCode)
	}

	var out ingestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decoding ingest response: %w", err)
	}
	return out.ID, nil
}

// validateRequest checks the request shape locally before anything opens.
func validateRequest(req Request) error {
	switch req.Kind {
	case KindQuestion, KindPermission:
		if len(req.Choices) > 0 {
			return fmt.Errorf("choices only valid for kind %q", KindChoice)
		}
	case KindChoice:
		if len(req.Choices) == 0 {
			return fmt.Errorf("choices required for kind %q", KindChoice)
		}
	default:
		return fmt.Errorf("unknown request kind %q", req.Kind)
	}
	if req.Question == "" {
		return errors.New("question is required")
	}
	if req.Timeout < time.Second {
		return errors.New("timeout must be at least one second")
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}
