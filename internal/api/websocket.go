package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gwi.com/answer-engine/internal/core"
)

const (
	wsMaxMessageBytes = 64 << 10
	wsQueryWait       = 60 * time.Second
	wsWriteWait       = 10 * time.Second
)

type wsChatRequest struct {
	Query string `json:"query"`
}

// wsSession owns the write side of one websocket connection.
type wsSession struct {
	conn   *websocket.Conn
	logger zerolog.Logger
}

func (s *wsSession) send(e core.Event) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := s.conn.WriteJSON(e); err != nil {
		s.logger.Warn().Err(err).Str("type", string(e.Type)).Msg("Failed to write WebSocket message")
		return err
	}
	return nil
}

func (s *wsSession) sendError(msg string) {
	_ = s.send(core.Event{Type: core.EventError, Data: msg})
}

func (s *wsSession) close() {
	deadline := time.Now().Add(wsWriteWait)
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = s.conn.Close()
}

// ChatWebSocketHandler serves one streaming chat turn per connection. The
// bearer token arrives as the "token" query parameter.
func (h *APIHandler) ChatWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upgrade WebSocket")
		return
	}
	session := &wsSession{
		conn:   conn,
		logger: log.With().Str("session_id", uuid.NewString()).Logger(),
	}
	defer session.close()

	subject, err := h.tokens.Verify(r.URL.Query().Get("token"))
	if err != nil {
		session.logger.Debug().Err(err).Msg("WebSocket token rejected")
		session.sendError(publicMessage(err))
		return
	}
	session.logger = session.logger.With().Str("user_id", subject).Logger()

	conn.SetReadLimit(wsMaxMessageBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsQueryWait))
	var req wsChatRequest
	if err := conn.ReadJSON(&req); err != nil {
		session.logger.Debug().Err(err).Msg("Failed to read WebSocket query")
		session.sendError("Invalid message")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		session.sendError("Query is required")
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Any read error after the query means the client went away.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				cancel()
				return
			}
		}
	}()

	session.logger.Info().Msg("WebSocket chat turn started")
	_, err = h.chatService.RunTurn(ctx, subject, req.Query, session.send)
	if err != nil && ctx.Err() == nil {
		session.sendError(publicMessage(err))
	}
}
