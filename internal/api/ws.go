package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/fruitsalade/volumefs/internal/events"
	"github.com/fruitsalade/volumefs/internal/logging"
	"github.com/fruitsalade/volumefs/internal/volume"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// handleSubscribe upgrades the connection and streams change events for the
// volume until the client disconnects. A plain GET without the WebSocket
// upgrade headers is rejected outright.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		s.sendError(w, http.StatusUpgradeRequired, "subscribe requires a websocket upgrade")
		return
	}

	vol := s.resolveVolume(w, r)
	if vol == nil {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		logging.Warn("websocket upgrade failed",
			zap.String("volume", vol.ID()),
			zap.Error(err))
		return
	}

	sub := &subscriber{
		id:   ulid.Make().String(),
		vol:  vol,
		conn: conn,
		ch:   vol.Subscribe(),
	}
	logging.Info("subscriber connected",
		zap.String("volume", vol.ID()),
		zap.String("subscriber", sub.id))

	go sub.readLoop()
	sub.writeLoop()
}

// subscriber is one WebSocket sink in a volume's registry.
type subscriber struct {
	id   string
	vol  *volume.Volume
	conn *websocket.Conn
	ch   chan events.ServerEvent
}

// writeLoop forwards events in broadcast order until the channel closes or a
// write fails; either way the sink is removed from the registry.
func (s *subscriber) writeLoop() {
	defer s.close()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-s.ch:
			if !ok {
				return
			}
			raw, err := events.MarshalEvent(event)
			if err != nil {
				continue
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				logging.Info("subscriber write failed, dropping",
					zap.String("volume", s.vol.ID()),
					zap.String("subscriber", s.id),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains inbound frames to process close and pong handshakes;
// subscribers never send application messages.
func (s *subscriber) readLoop() {
	defer s.close()
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *subscriber) close() {
	s.vol.Unsubscribe(s.ch)
	s.conn.Close()
}
