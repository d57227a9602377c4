package api

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/RyotaroOda/TuringChatD11-sub000/internal/notify"
	"github.com/RyotaroOda/TuringChatD11-sub000/internal/obslog"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
)

// serveEvents streams room events to a member until the room is archived or
// removed, or the client goes away. Membership is checked before the upgrade.
func (s *Server) serveEvents(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	caller, err := s.auth.fromRequest(r)
	if err != nil {
		s.writeError(w, "events", err)
		return
	}
	roomID := ps.ByName("id")
	if err := s.requireMember(r.Context(), roomID, caller.UserID, false); err != nil {
		s.writeError(w, "events", err)
		return
	}

	// subscribed before the upgrade so nothing published after the
	// handshake is missed
	events, cancel, err := s.events.Subscribe(r.Context(), roomID)
	if err != nil {
		s.writeError(w, "events", err)
		return
	}
	defer cancel()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.cfg.OriginPatterns,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		obslog.L().Info("events_accept_error", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// client frames are ignored; CloseRead cancels ctx when the peer closes
	ctx := conn.CloseRead(r.Context())
	obslog.L().Debug("events_open", zap.String("room_id", roomID), zap.String("user_id", caller.UserID))

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			pctx, pcancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "stream ended")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, eventView(ev))
			wcancel()
			if err != nil {
				return
			}
			if ev.Type == notify.EventArchived || ev.Type == notify.EventRemoved {
				_ = conn.Close(websocket.StatusNormalClosure, ev.Type)
				return
			}
		}
	}
}
