package web

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// wsWriteWait bounds each write on the events socket.
	wsWriteWait = 10 * time.Second
	// wsPingPeriod keeps idle connections alive through proxies.
	wsPingPeriod = 30 * time.Second
)

// handleEvents streams bus events to the dashboard over a WebSocket.
// The connection closes when the client goes away or the bus is closed.
func (s *WebServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(64)
	defer func() {
		if dropped := s.bus.Unsubscribe(sub); dropped > 0 {
			s.logger.Debug("live feed client fell behind", "dropped", dropped)
		}
	}()

	// The client never sends anything meaningful; reading detects close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
