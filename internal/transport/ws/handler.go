package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chatcall_realtime/internal/httputil"
	"chatcall_realtime/internal/model"
	"chatcall_realtime/internal/realtime"
	"chatcall_realtime/internal/transport/http/middleware"
)

// Session identifies the connection a frame arrived on.
type Session struct {
	UserID    int64
	SessionID string
}

// FrameHandler routes one decoded inbound frame. Frames from a single
// connection are handled in arrival order.
type FrameHandler interface {
	HandleFrame(ctx context.Context, s Session, f model.Frame)
}

// Presence is told about first-connect and last-disconnect transitions.
type Presence interface {
	Connected(ctx context.Context, userID int64)
	Disconnected(ctx context.Context, userID int64, at time.Time)
}

// Handler upgrades authenticated requests and owns the socket lifecycle.
type Handler struct {
	upgrader   websocket.Upgrader
	registry   *realtime.Registry
	presence   Presence
	frames     FrameHandler
	sendBuffer int

	clients sync.Map // sessionID -> *Client
	wg      sync.WaitGroup

	logger zerolog.Logger
}

func NewHandler(registry *realtime.Registry, presence Presence, frames FrameHandler, sendBuffer int, logger zerolog.Logger) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Native mobile clients send no Origin; browsers authenticate with a token.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		registry:   registry,
		presence:   presence,
		frames:     frames,
		sendBuffer: sendBuffer,
		logger:     logger.With().Str("component", "WebsocketHandler").Logger(),
	}
}

// ServeHTTP expects middleware.AuthMiddleware in front of it.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorizedWithCode(w, model.CodeAuthentication, "Unauthorized")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Int64("user", userID).Msg("websocket upgrade failed")
		return
	}

	h.wg.Add(1)
	defer h.wg.Done()

	// Socket lifetime is bounded by the read loop, not the request.
	ctx := context.WithoutCancel(r.Context())
	client := newClient(conn, userID, uuid.NewString(), h.sendBuffer, h.logger)

	first, err := h.registry.Register(userID, client.SessionID, client)
	if err != nil {
		h.logger.Error().Err(err).Int64("user", userID).Msg("session register failed")
		_ = conn.Close()
		return
	}
	h.clients.Store(client.SessionID, client)
	go client.writePump()

	h.logger.Info().Int64("user", userID).Str("session", client.SessionID).Bool("first", first).Msg("client connected")
	if first {
		h.presence.Connected(ctx, userID)
	}

	s := Session{UserID: userID, SessionID: client.SessionID}
	client.readPump(func(msg []byte) {
		var f model.Frame
		if err := json.Unmarshal(msg, &f); err != nil || f.Event == "" {
			h.reject(client, "malformed frame")
			return
		}
		h.frames.HandleFrame(ctx, s, f)
	})

	h.clients.Delete(client.SessionID)
	d, ok := h.registry.Unregister(client.SessionID)
	client.Close()

	h.logger.Info().Int64("user", userID).Str("session", client.SessionID).Msg("client disconnected")
	if ok && d.LastSession {
		h.presence.Disconnected(ctx, userID, d.At)
	}
}

// CloseAll closes every open socket and waits for their cleanup to finish
// or ctx to expire.
func (h *Handler) CloseAll(ctx context.Context) error {
	h.clients.Range(func(_, v any) bool {
		v.(*Client).Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) reject(c *Client, msg string) {
	frame, err := realtime.EncodeFrame(model.EventError, "", model.ErrorBody{Code: model.CodeValidation, Message: msg})
	if err != nil {
		return
	}
	c.Send(frame)
}
