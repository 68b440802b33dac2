// ABOUTME: WebSocket observer stream delivering newly-ingested events
// ABOUTME: Optional backfill via ?recent=N, then live events until disconnect

package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/hookline/hookline/internal/dedupe"
	"github.com/hookline/hookline/internal/store"
)

// streamWriteTimeout bounds a single message write. A socket that cannot
// take a message within it is considered wedged and dropped.
const streamWriteTimeout = 5 * time.Second

// handleStream handles GET /stream requests: upgrades to WebSocket,
// optionally replays recent stored events oldest-first, then pushes live
// events one JSON message each. Observers never send; the read side is
// drained only to notice disconnects.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	replay, err := parseReplayParam(r, s.config.Stream.MaxReplay)
	if err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Dashboards are served from their own origin
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Debug("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())

	// Subscribe before replay so no event published during the backfill
	// window is lost. An event at the seam can arrive via both paths, so
	// replayed IDs are remembered and suppressed on the live feed.
	events, subID := s.hub.Subscribe(ctx)
	defer s.hub.Unsubscribe(subID)

	s.logger.Info("observer connected", "sub_id", subID, "replay", replay)

	seen := dedupe.NewWindow(replay)
	if replay > 0 {
		if err := s.replayRecent(ctx, conn, replay, seen); err != nil {
			s.logger.Debug("observer replay failed", "sub_id", subID, "error", err)
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("observer disconnected", "sub_id", subID)
			return
		case event, ok := <-events:
			if !ok {
				// The hub disconnected us for falling behind
				conn.Close(websocket.StatusPolicyViolation, "observer too slow")
				s.logger.Warn("observer dropped for falling behind", "sub_id", subID)
				return
			}
			if seen.CheckAndMark(event.ID) {
				continue
			}
			if err := writeEvent(ctx, conn, event); err != nil {
				s.logger.Debug("observer write failed", "sub_id", subID, "error", err)
				return
			}
		}
	}
}

// replayRecent sends the newest stored events oldest-first so the observer
// ends the backfill at the live edge.
func (s *Server) replayRecent(ctx context.Context, conn *websocket.Conn, limit int, seen *dedupe.Window) error {
	events, err := s.store.ListRecentEvents(ctx, limit)
	if err != nil {
		return err
	}

	for i := len(events) - 1; i >= 0; i-- {
		seen.Mark(events[i].ID)
		if err := writeEvent(ctx, conn, events[i]); err != nil {
			return err
		}
	}
	return nil
}

// writeEvent writes one event with the per-message timeout applied.
func writeEvent(ctx context.Context, conn *websocket.Conn, event *store.Event) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, event)
}

// parseReplayParam reads and caps the ?recent=N backfill request.
func parseReplayParam(r *http.Request, maxReplay int) (int, error) {
	raw := r.URL.Query().Get("recent")
	if raw == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("recent must be a non-negative integer")
	}
	if n > maxReplay {
		n = maxReplay
	}
	return n, nil
}
