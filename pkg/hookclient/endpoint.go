// ABOUTME: Transient single-use WebSocket endpoint for receiving one answer
// ABOUTME: Torn down exactly once; late messages are dropped without error

package hookclient

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// delivered is the payload the hub's relay writes to the endpoint.
type delivered struct {
	Response    *string         `json:"response,omitempty"`
	Permission  *bool           `json:"permission,omitempty"`
	Choice      *string         `json:"choice,omitempty"`
	RespondedAt int64           `json:"respondedAt"`
	HookEvent   *deliveredEvent `json:"hookEvent"`
}

// deliveredEvent is the slice of the echoed event the client cares about.
type deliveredEvent struct {
	ID int64 `json:"id"`
}

// endpoint is a loopback WebSocket server that accepts connections and
// forwards the first payload received. It exists for the lifetime of a
// single Ask call.
type endpoint struct {
	listener net.Listener
	server   *http.Server
	msgs     chan *delivered
	logger   *slog.Logger

	closeOnce sync.Once
}

// newEndpoint binds an ephemeral loopback port and starts serving.
func newEndpoint(logger *slog.Logger) (*endpoint, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("binding response endpoint: %w", err)
	}

	e := &endpoint{
		listener: ln,
		msgs:     make(chan *delivered, 1),
		logger:   logger,
	}
	e.server = &http.Server{Handler: http.HandlerFunc(e.handle)}

	go func() {
		// Serve returns once the endpoint is closed; that is the normal
		// end of life for a single-use endpoint.
		_ = e.server.Serve(ln)
	}()

	return e, nil
}

// url is the address the hub's relay will dial.
func (e *endpoint) url() string {
	return fmt.Sprintf("ws://%s/response", e.listener.Addr().String())
}

// handle accepts one relay connection and forwards its first payload.
// Anything beyond the first delivered message is dropped silently: the
// request it belonged to has already been answered.
func (e *endpoint) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	var payload delivered
	if err := wsjson.Read(r.Context(), conn, &payload); err != nil {
		e.logger.Debug("discarding unreadable delivery", "error", err)
		return
	}

	select {
	case e.msgs <- &payload:
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		e.logger.Debug("dropping duplicate delivery")
	}
}

// close tears the endpoint down. Safe to call from every exit path; only
// the first call does anything.
func (e *endpoint) close() {
	e.closeOnce.Do(func() {
		// Close rather than Shutdown: a relay connection still mid-write
		// is delivering to a request that no longer exists.
		_ = e.server.Close()
	})
}
