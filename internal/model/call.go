package model

import "encoding/json"

// Call types.
const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

// CallOfferPayload is the inbound call-offer body.
type CallOfferPayload struct {
	To          int64           `json:"to"`
	ChatID      int64           `json:"chatId"`
	Offer       json.RawMessage `json:"offer"`
	CallType    string          `json:"callType"`
	Renegotiate bool            `json:"renegotiate,omitempty"`
	CallUUID    string          `json:"callUuid,omitempty"`
}

// CallTargetPayload addresses call-offer-request and friends.
type CallTargetPayload struct {
	To     int64 `json:"to"`
	ChatID int64 `json:"chatId"`
}

type CallAnswerPayload struct {
	To     int64           `json:"to"`
	ChatID int64           `json:"chatId"`
	Answer json.RawMessage `json:"answer"`
}

type CallICEPayload struct {
	To        int64           `json:"to"`
	ChatID    int64           `json:"chatId"`
	Candidate json.RawMessage `json:"candidate"`
}

type CallEndPayload struct {
	To       int64  `json:"to"`
	ChatID   int64  `json:"chatId"`
	CallUUID string `json:"callUuid,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// GroupCallPayload covers group-call-offer, -answer and -end. To is set for
// pairwise mesh signaling inside an already running group call.
type GroupCallPayload struct {
	ChatID   int64           `json:"chatId"`
	To       int64           `json:"to,omitempty"`
	CallType string          `json:"callType,omitempty"`
	CallUUID string          `json:"callUuid,omitempty"`
	SDP      json.RawMessage `json:"sdp,omitempty"`
}

// OutboundCallOffer is what the callee receives, live or replayed.
type OutboundCallOffer struct {
	From          int64           `json:"from"`
	ChatID        int64           `json:"chatId"`
	Offer         json.RawMessage `json:"offer"`
	CallType      string          `json:"callType"`
	CallerName    string          `json:"callerName,omitempty"`
	CallUUID      string          `json:"callUuid,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Renegotiate   bool            `json:"renegotiate,omitempty"`
	Replayed      bool            `json:"replayed,omitempty"`
}

// ValidCallType reports whether t is audio or video.
func ValidCallType(t string) bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

type OutboundCallOfferRequest struct {
	From   int64 `json:"from"`
	ChatID int64 `json:"chatId"`
}

type OutboundCallAnswer struct {
	From   int64           `json:"from"`
	ChatID int64           `json:"chatId"`
	Answer json.RawMessage `json:"answer"`
}

type OutboundCallICE struct {
	From      int64           `json:"from"`
	ChatID    int64           `json:"chatId"`
	Candidate json.RawMessage `json:"candidate"`
}

type OutboundCallEnd struct {
	From     int64  `json:"from"`
	ChatID   int64  `json:"chatId"`
	CallUUID string `json:"callUuid,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// OutboundGroupCall is relayed for every group-call-* event.
type OutboundGroupCall struct {
	From          int64           `json:"from"`
	ChatID        int64           `json:"chatId"`
	CallType      string          `json:"callType,omitempty"`
	CallUUID      string          `json:"callUuid,omitempty"`
	CallerName    string          `json:"callerName,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	SDP           json.RawMessage `json:"sdp,omitempty"`
}
