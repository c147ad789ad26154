package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// EventFeed streams the payloads published for a fleet;
// store.RedisStore implements it.
type EventFeed interface {
	SubscribeEvents(ctx context.Context, fleetID string) (<-chan []byte, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// API-key auth already ran; browsers on any origin may listen.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SetEventFeed enables GET /v1/stream.
func (s *Server) SetEventFeed(feed EventFeed) {
	s.feed = feed
}

// stream relays every event published for the caller's fleet over a
// websocket until either side goes away.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "event feed disabled")
		return
	}
	fleetID := FleetID(r.Context())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, err := s.feed.SubscribeEvents(ctx, fleetID)
	if err != nil {
		s.logger.Error("event subscription failed", zap.String("fleet_id", fleetID), zap.Error(err))
		writeError(w, http.StatusBadGateway, "event feed unavailable")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		return
	}
	defer conn.Close()

	go readUntilClosed(conn, cancel)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

// readUntilClosed consumes control frames and cancels once the peer is gone.
func readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
