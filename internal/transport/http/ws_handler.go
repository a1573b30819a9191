package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 4096
)

// TokenVerifier resolves a bearer token to an identity.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

type WSHandler struct {
	service  *app.Service
	verifier TokenVerifier
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.Service, verifier TokenVerifier, logger *slog.Logger) *WSHandler {
	return &WSHandler{
		service:  service,
		verifier: verifier,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    domain.CommandType `json:"type"`
	Payload json.RawMessage    `json:"payload"`
}

type joinPayload struct {
	Name string `json:"name"`
}

type startPayload struct {
	QuizID string `json:"quizId"`
}

type answerPayload struct {
	QuestionIndex   int    `json:"questionIndex"`
	Choice          string `json:"choice"`
	ClientLatencyMs int64  `json:"clientLatencyMs"`
}

type outboundMessage[T any] struct {
	Type    domain.EventType `json:"type"`
	Payload T                `json:"payload,omitempty"`
}

// ServeWS upgrades /ws?code=&token=&name= and relays commands and room
// events until either side goes away.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	identity, err := h.verifier.Verify(bearerToken(r, query.Get("token")))
	if err != nil {
		writeError(w, err)
		return
	}
	code, err := app.NormalizeCode(query.Get("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.service.Summary(code); err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	outbox, err := h.service.Connect(r.Context(), connID, code, identity, query.Get("name"))
	if err != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(outboundMessage[domain.ErrorPayload]{
			Type:    domain.EventError,
			Payload: domain.ErrorPayload{Code: domain.ErrorCode(err), Message: err.Error()},
		})
		return
	}
	log := h.logger.With("room", code, "identity", identity, "conn", connID)
	log.Debug("ws connected")

	writerDone := make(chan struct{})
	go h.writeLoop(conn, outbox, writerDone)

	h.readLoop(r.Context(), conn, connID, log)

	h.service.Disconnect(connID)
	<-writerDone
	log.Debug("ws disconnected")
}

// writeLoop is the only goroutine writing to conn. It exits, closing the
// socket, once the outbox is closed.
func (h *WSHandler) writeLoop(conn *websocket.Conn, outbox <-chan domain.Event, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-outbox:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				_ = conn.Close()
				return
			}
			if err := conn.WriteJSON(outboundMessage[any]{Type: ev.Type, Payload: ev.Payload}); err != nil {
				_ = conn.Close()
				drainOutbox(outbox)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				drainOutbox(outbox)
				return
			}
		}
	}
}

// drainOutbox discards events until the outbox is closed so a dead
// socket does not count as a slow consumer.
func drainOutbox(outbox <-chan domain.Event) {
	for range outbox {
	}
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, connID string, log *slog.Logger) {
	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("ws read failed", "err", err)
			}
			return
		}
		cmd, err := decodeCommand(inbound)
		if err != nil {
			h.service.Notify(connID, err)
			continue
		}
		_ = h.service.Handle(ctx, connID, cmd)
		if cmd.Type == domain.CmdLeave {
			return
		}
	}
}

func decodeCommand(msg inboundMessage) (domain.Command, error) {
	cmd := domain.Command{Type: msg.Type}
	var err error
	switch msg.Type {
	case domain.CmdJoin:
		var p joinPayload
		err = unmarshalPayload(msg.Payload, &p)
		cmd.DisplayName = p.Name
	case domain.CmdHostStart:
		var p startPayload
		err = unmarshalPayload(msg.Payload, &p)
		cmd.QuizID = p.QuizID
	case domain.CmdSubmitAnswer:
		var p answerPayload
		err = unmarshalPayload(msg.Payload, &p)
		cmd.QuestionIndex = p.QuestionIndex
		cmd.Choice = p.Choice
		cmd.ClientLatency = time.Duration(p.ClientLatencyMs) * time.Millisecond
	case domain.CmdLeave, domain.CmdHostAdvance, domain.CmdHostForceClose, domain.CmdHostEnd:
	default:
		return cmd, fmt.Errorf("%w: unsupported message type %q", domain.ErrInvalidState, msg.Type)
	}
	if err != nil {
		return cmd, fmt.Errorf("%w: invalid %s payload", domain.ErrInvalidState, msg.Type)
	}
	return cmd, nil
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
