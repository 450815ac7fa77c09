package push

import (
	"strconv"
	"time"

	"chatcall_realtime/internal/model"
)

// Kind names the event a push announces; it is sent as data.action.
type Kind string

const (
	KindIncomingCall      Kind = "incoming-call"
	KindIncomingGroupCall Kind = "incoming-group-call"
	KindCallEnded         Kind = "call-ended"
	KindNewMessage        Kind = "new-message"
)

// CallNotice announces an incoming 1:1 or group call.
type CallNotice struct {
	RecipientID   int64
	CallerID      int64
	ChatID        int64
	CallerName    string
	ChatName      string
	CallType      string
	CallUUID      string
	CorrelationID string
	Group         bool
}

// CallEndNotice tells a device to tear down call UI. CallUUID is the id the
// client sent and keys dedupe; ResolvedCallUUID fills the payload when the
// client sent none.
type CallEndNotice struct {
	RecipientID      int64
	SenderID         int64
	ChatID           int64
	CallUUID         string
	ResolvedCallUUID string
	CorrelationID    string
	Group            bool
}

// DedupeKey is (sender, recipient, chat, callUuid).
func (n CallEndNotice) DedupeKey() string {
	return strconv.FormatInt(n.SenderID, 10) + ":" + strconv.FormatInt(n.RecipientID, 10) + ":" +
		strconv.FormatInt(n.ChatID, 10) + ":" + n.CallUUID
}

func (n CallEndNotice) payloadCallUUID() string {
	if n.CallUUID != "" {
		return n.CallUUID
	}
	return n.ResolvedCallUUID
}

// MessageNotice announces a new chat message with its computed preview.
type MessageNotice struct {
	RecipientID   int64
	SenderID      int64
	ChatID        int64
	MessageID     int64
	Title         string
	Preview       string
	MessageType   string
	CorrelationID string
}

const callRingTTL = 60 * time.Second

func callType(n CallNotice) string {
	if n.Group {
		return "group-call"
	}
	return "call"
}

func callPayloads(n CallNotice) map[Class]Payload {
	kind := KindIncomingCall
	if n.Group {
		kind = KindIncomingGroupCall
	}
	data := map[string]string{
		"type":          callType(n),
		"action":        string(kind),
		"chatId":        strconv.FormatInt(n.ChatID, 10),
		"callerId":      strconv.FormatInt(n.CallerID, 10),
		"callerName":    n.CallerName,
		"callType":      n.CallType,
		"callUuid":      n.CallUUID,
		"correlationId": n.CorrelationID,
	}

	title := "Incoming audio call"
	if n.CallType == model.CallTypeVideo {
		title = "Incoming video call"
	}
	body := n.CallerName + " is calling you"
	if n.Group && n.ChatName != "" {
		body = n.CallerName + " is calling " + n.ChatName
	}

	alert := Payload{
		Title:       title,
		Body:        body,
		Data:        data,
		Sound:       "default",
		Category:    "incoming_call",
		CollapseKey: n.CallUUID,
		Priority:    PriorityHigh,
		TTL:         callRingTTL,
	}
	return map[Class]Payload{
		ClassVoIP:     {Data: data, CollapseKey: n.CallUUID, Priority: PriorityHigh},
		ClassPlatform: alert,
		ClassGateway:  alert,
	}
}

func callEndPayload(n CallEndNotice) Payload {
	typ := "call"
	if n.Group {
		typ = "group-call"
	}
	return Payload{
		Data: map[string]string{
			"type":          typ,
			"action":        string(KindCallEnded),
			"chatId":        strconv.FormatInt(n.ChatID, 10),
			"callerId":      strconv.FormatInt(n.SenderID, 10),
			"callUuid":      n.payloadCallUUID(),
			"correlationId": n.CorrelationID,
		},
		CollapseKey: n.payloadCallUUID(),
		Priority:    PriorityHigh,
		Silent:      true,
	}
}

func messagePayload(n MessageNotice) Payload {
	return Payload{
		Title: n.Title,
		Body:  n.Preview,
		Data: map[string]string{
			"type":          "message",
			"action":        string(KindNewMessage),
			"chatId":        strconv.FormatInt(n.ChatID, 10),
			"messageId":     strconv.FormatInt(n.MessageID, 10),
			"senderId":      strconv.FormatInt(n.SenderID, 10),
			"messageType":   n.MessageType,
			"correlationId": n.CorrelationID,
		},
		Sound:    "default",
		Category: "message",
		Priority: PriorityHigh,
	}
}
