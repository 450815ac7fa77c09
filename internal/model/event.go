package model

import (
	"encoding/json"
	"time"
)

// Frame is one socket message in either direction.
type Frame struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound events.
const (
	EventJoinTopic        = "join-topic"
	EventSendMessage      = "send-message"
	EventTyping           = "typing"
	EventStopTyping       = "stop-typing"
	EventMarkMessageRead  = "mark-message-read"
	EventCallOffer        = "call-offer"
	EventCallOfferRequest = "call-offer-request"
	EventCallAnswer       = "call-answer"
	EventCallICECandidate = "call-ice-candidate"
	EventCallEnd          = "call-end"
	EventGroupCallOffer   = "group-call-offer"
	EventGroupCallAnswer  = "group-call-answer"
	EventGroupCallEnd     = "group-call-end"
	EventPresenceGet      = "presence-get"
)

// Outbound-only events. Call events reuse the inbound names.
const (
	EventNewMessage     = "new-message"
	EventChatUpdated    = "chat-updated"
	EventUserTyping     = "user-typing"
	EventUserStopTyping = "user-stop-typing"
	EventMessageRead    = "message-read"
	EventPresenceUpdate = "presence-update"
	EventPresenceState  = "presence-state"
	EventError          = "error"
	EventAck            = "ack"
)

// Ack answers an inbound frame that carried an id.
type Ack struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

// ErrorBody travels in error events and failed acks.
type ErrorBody struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type JoinTopicPayload struct {
	ChatID int64 `json:"chatId"`
}

type SendMessagePayload struct {
	ChatID      int64       `json:"chatId"`
	Content     string      `json:"content"`
	Type        string      `json:"type"`
	File        *FileRef    `json:"file,omitempty"`
	Encryption  *Encryption `json:"encryption,omitempty"`
	PreviewText string      `json:"previewText,omitempty"`
}

type TypingPayload struct {
	ChatID int64 `json:"chatId"`
}

type MarkReadPayload struct {
	ChatID    int64 `json:"chatId"`
	MessageID int64 `json:"messageId"`
}

// TypingEvent is sent as user-typing and user-stop-typing.
type TypingEvent struct {
	ChatID int64 `json:"chatId"`
	UserID int64 `json:"userId"`
}

type MessageReadEvent struct {
	ChatID    int64     `json:"chatId"`
	MessageID int64     `json:"messageId"`
	UserID    int64     `json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}
