// Package ws streams live turn events to websocket clients.
package ws

import (
	"context"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/agentchat/internal/domain"
)

// Subscriber delivers the live events of one session until ctx is done or
// stop is called. *redis.SessionPubSub satisfies this interface.
type Subscriber interface {
	SubscribeSession(ctx context.Context, sessionID string) (events <-chan []byte, stop func(), err error)
}

// Hub relays per-session events from pub/sub to websocket connections.
type Hub struct {
	pubsub Subscriber
}

// NewHub creates a hub. A nil pubsub disables live events; ServeSession then
// answers 501.
func NewHub(pubsub Subscriber) *Hub {
	return &Hub{pubsub: pubsub}
}

// ServeSession streams events for the session in the "sessionID" URL param.
// The stream ends when the client disconnects.
func (h *Hub) ServeSession(w http.ResponseWriter, r *http.Request) {
	if h.pubsub == nil {
		http.Error(w, "live events are not enabled", http.StatusNotImplemented)
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	if !domain.ValidSessionID(sessionID) {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws.Hub.ServeSession: websocket accept")
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// once the peer goes away.
	ctx := conn.CloseRead(r.Context())

	messages, stop, err := h.pubsub.SubscribeSession(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("ws.Hub.ServeSession: subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, ok := <-messages:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				log.Debug().Err(err).Str("session_id", sessionID).Msg("ws.Hub.ServeSession: write")
				return
			}
		}
	}
}
