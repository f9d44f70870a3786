// WebSocket event sink.
//
// Pushes compression progress events to a status endpoint (the game's web
// front-end) as JSON frames. Strictly best-effort: dial and write failures are
// logged and swallowed, and a dead connection turns the sink into a no-op
// until Close.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

const wsWriteTimeout = 2 * time.Second

// WebSocketSink emits events as JSON frames over a websocket connection.
type WebSocketSink struct {
	url  string
	mu   sync.Mutex
	conn *websocket.Conn
	dead bool
}

type wsFrame struct {
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload"`
}

// NewWebSocketSink dials the status endpoint. A failed dial returns a sink
// that drops everything rather than an error - status delivery is optional.
func NewWebSocketSink(ctx context.Context, url string) *WebSocketSink {
	s := &WebSocketSink{url: url}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		log.Warn().Err(err).Str("url", url).Msg("status websocket unavailable; progress events will be dropped")
		s.dead = true
		return s
	}
	s.conn = conn
	return s
}

// Emit implements Sink.
func (s *WebSocketSink) Emit(event string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dead || s.conn == nil {
		return
	}

	data, err := json.Marshal(wsFrame{Event: event, Payload: payload})
	if err != nil {
		log.Warn().Err(err).Str("event", event).Msg("failed to encode status event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), wsWriteTimeout)
	defer cancel()

	if err := s.conn.Write(ctx, websocket.MessageText, data); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("status websocket write failed; disabling sink")
		s.dead = true
		_ = s.conn.Close(websocket.StatusInternalError, "write failed")
		s.conn = nil
	}
}

// Close shuts down the connection.
func (s *WebSocketSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "done")
		s.conn = nil
	}
	s.dead = true
}
