package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"chatcall_realtime/internal/fanout"
	"chatcall_realtime/internal/model"
	"chatcall_realtime/internal/presence"
	"chatcall_realtime/internal/realtime"
	"chatcall_realtime/internal/signaling"
	"chatcall_realtime/internal/transport/ws"
)

// ChatAccess authorizes chat topic joins.
type ChatAccess interface {
	IsParticipant(ctx context.Context, chatID, userID int64) (bool, error)
}

// SocketHandler routes inbound socket events to the realtime services and
// answers every frame that carried an id with an ack.
type SocketHandler struct {
	registry *realtime.Registry
	hub      *realtime.Hub
	chats    ChatAccess
	messages *fanout.Service
	relay    *signaling.Relay
	presence *presence.Tracker
	logger   zerolog.Logger
}

func NewSocketHandler(
	registry *realtime.Registry,
	hub *realtime.Hub,
	chats ChatAccess,
	messages *fanout.Service,
	relay *signaling.Relay,
	presence *presence.Tracker,
	logger zerolog.Logger,
) *SocketHandler {
	return &SocketHandler{
		registry: registry,
		hub:      hub,
		chats:    chats,
		messages: messages,
		relay:    relay,
		presence: presence,
		logger:   logger.With().Str("component", "SocketHandler").Logger(),
	}
}

// HandleFrame implements ws.FrameHandler.
func (h *SocketHandler) HandleFrame(ctx context.Context, s ws.Session, f model.Frame) {
	data, err := h.dispatch(ctx, s, f)
	if err != nil {
		h.logFailure(s, f, err)
		body := &model.ErrorBody{Event: f.Event, Code: model.ErrorCode(err), Message: publicMessage(err)}
		if f.ID != "" {
			h.hub.SendTo(s.SessionID, model.EventAck, f.ID, model.Ack{OK: false, Error: body})
			return
		}
		h.hub.SendTo(s.SessionID, model.EventError, "", body)
		return
	}
	if f.ID != "" {
		h.hub.SendTo(s.SessionID, model.EventAck, f.ID, model.Ack{OK: true, Data: data})
	}
}

func (h *SocketHandler) dispatch(ctx context.Context, s ws.Session, f model.Frame) (any, error) {
	from := signaling.Sender{UserID: s.UserID, SessionID: s.SessionID}

	switch f.Event {
	case model.EventJoinTopic:
		var p model.JoinTopicPayload
		if err := decode(f, &p); err != nil {
			return nil, err
		}
		if p.ChatID <= 0 {
			return nil, model.Invalid("chatId is required")
		}
		topic := realtime.ChatTopic(p.ChatID)
		err := h.registry.JoinTopic(ctx, s.SessionID, topic, func(ctx context.Context, userID int64) (bool, error) {
			ok, err := h.chats.IsParticipant(ctx, p.ChatID, userID)
			if err != nil {
				return false, model.Persistence("participant check", err)
			}
			return ok, nil
		})
		if err != nil {
			return nil, err
		}
		return map[string]string{"topic": topic}, nil

	case model.EventSendMessage:
		var p model.SendMessagePayload
		if err := decode(f, &p); err != nil {
			return nil, err
		}
		return h.messages.Send(ctx, s.UserID, p)

	case model.EventTyping, model.EventStopTyping:
		var p model.TypingPayload
		if err := decode(f, &p); err != nil {
			return nil, err
		}
		if err := h.requireJoined(s, p.ChatID); err != nil {
			return nil, err
		}
		event := model.EventUserTyping
		if f.Event == model.EventStopTyping {
			event = model.EventUserStopTyping
		}
		h.hub.PublishExcept(realtime.ChatTopic(p.ChatID), s.SessionID, event, model.TypingEvent{ChatID: p.ChatID, UserID: s.UserID})
		return nil, nil

	case model.EventMarkMessageRead:
		var p model.MarkReadPayload
		if err := decode(f, &p); err != nil {
			return nil, err
		}
		if err := h.requireJoined(s, p.ChatID); err != nil {
			return nil, err
		}
		return nil, h.messages.MarkRead(ctx, s.UserID, p)

	case model.EventCallOffer:
		var p model.CallOfferPayload
		if err := decode(f, &p); err != nil {
			return nil, err
		}
		return nil, h.relay.Offer(ctx, from, p)

	case model.EventCallOfferRequest:
		var p model.CallTargetPayload
		if err := decode(f, &p); err != nil {
			return nil, err
		}
		return nil, h.relay.OfferRequest(ctx, from, p)

	case model.EventCallAnswer:
		var p model.CallAnswerPayload
		if err := decode(f, &p); err != nil {
			return nil, err
		}
		return nil, h.relay.Answer(ctx, from, p)

	case model.EventCallICECandidate:
		var p model.CallICEPayload
		if err := decode(f, &p); err != nil {
			return nil, err
		}
		return nil, h.relay.ICECandidate(ctx, from, p)

	case model.EventCallEnd:
		var p model.CallEndPayload
		if err := decode(f, &p); err != nil {
			return nil, err
		}
		return nil, h.relay.End(ctx, from, p)

	case model.EventGroupCallOffer, model.EventGroupCallAnswer, model.EventGroupCallEnd:
		var p model.GroupCallPayload
		if err := decode(f, &p); err != nil {
			return nil, err
		}
		switch f.Event {
		case model.EventGroupCallOffer:
			return nil, h.relay.GroupOffer(ctx, from, p)
		case model.EventGroupCallAnswer:
			return nil, h.relay.GroupAnswer(ctx, from, p)
		default:
			return nil, h.relay.GroupEnd(ctx, from, p)
		}

	case model.EventPresenceGet:
		recs, err := h.presence.Snapshot(ctx, s.UserID)
		if err != nil {
			return nil, err
		}
		h.hub.SendTo(s.SessionID, model.EventPresenceState, "", recs)
		return nil, nil

	default:
		return nil, model.Invalid("unknown event %q", f.Event)
	}
}

// requireJoined gates chat-scoped ephemeral events on a prior join-topic.
func (h *SocketHandler) requireJoined(s ws.Session, chatID int64) error {
	if chatID <= 0 {
		return model.Invalid("chatId is required")
	}
	if !h.hub.IsSubscribed(s.SessionID, realtime.ChatTopic(chatID)) {
		return fmt.Errorf("chat %d not joined: %w", chatID, model.ErrAccessDenied)
	}
	return nil
}

func (h *SocketHandler) logFailure(s ws.Session, f model.Frame, err error) {
	ev := h.logger.Warn()
	if errors.Is(err, model.ErrPersistence) || model.ErrorCode(err) == model.CodeInternal {
		ev = h.logger.Error()
	}
	ev.Err(err).Int64("user", s.UserID).Str("session", s.SessionID).Str("event", f.Event).Msg("socket event rejected")
}

func decode(f model.Frame, v any) error {
	if len(f.Data) == 0 {
		return model.Invalid("%s requires a payload", f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return model.Invalid("malformed %s payload", f.Event)
	}
	return nil
}

// publicMessage keeps store internals out of client-facing errors.
func publicMessage(err error) string {
	switch model.ErrorCode(err) {
	case model.CodePersistence:
		return "temporarily unable to save, try again"
	case model.CodeInternal:
		return "internal error"
	default:
		return err.Error()
	}
}
