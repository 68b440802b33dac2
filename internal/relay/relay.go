// ABOUTME: WebSocket dial-out delivery of resolved answers to agent endpoints
// ABOUTME: One connection, one JSON message, bounded by the delivery timeout

package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/hookline/hookline/internal/store"
)

// DefaultDeliveryTimeout bounds a single delivery attempt end to end.
const DefaultDeliveryTimeout = 5 * time.Second

// Payload is the message delivered to the agent's response endpoint. The
// original event is echoed under hookEvent so the agent can self-identify
// the request without a separate lookup. Field names are fixed by protocol
// compatibility.
type Payload struct {
	Text        *string      `json:"response,omitempty"`
	Permission  *bool        `json:"permission,omitempty"`
	Choice      *string      `json:"choice,omitempty"`
	RespondedAt int64        `json:"respondedAt"`
	HookEvent   *store.Event `json:"hookEvent"`
}

// NewPayload assembles the delivery payload from a stored answer and the
// originating event.
func NewPayload(resp *store.Response, respondedAt int64, event *store.Event) *Payload {
	return &Payload{
		Text:        resp.Text,
		Permission:  resp.Permission,
		Choice:      resp.Choice,
		RespondedAt: respondedAt,
		HookEvent:   event,
	}
}

// WebSocketRelay delivers payloads by dialing the agent's declared URL.
type WebSocketRelay struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewWebSocketRelay creates a relay. Pass zero timeout for the default,
// nil logger for the default.
func NewWebSocketRelay(timeout time.Duration, logger *slog.Logger) *WebSocketRelay {
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketRelay{
		timeout: timeout,
		logger:  logger.With("component", "relay"),
	}
}

// Deliver opens a connection to url, writes the JSON-encoded payload, and
// closes the connection. The whole attempt is bounded by the relay's
// delivery timeout. Failures are returned to the caller and never retried.
func (r *WebSocketRelay) Deliver(ctx context.Context, url string, payload *Payload) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dialing response endpoint %s: %w", url, err)
	}
	defer conn.Close(websocket.StatusInternalError, "delivery aborted")

	if err := wsjson.Write(ctx, conn, payload); err != nil {
		return fmt.Errorf("writing response payload: %w", err)
	}

	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		return fmt.Errorf("closing response connection: %w", err)
	}

	r.logger.Debug("answer delivered", "url", url)
	return nil
}
