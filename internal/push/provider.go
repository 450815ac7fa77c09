// Package push is the notification dispatch engine: it picks provider paths
// for calls and messages, sends through provider-agnostic Senders and feeds
// permanently invalid tokens back for pruning.
package push

import (
	"context"
	"time"

	"chatcall_realtime/internal/model"
)

// Outcome classifies one token of one provider call.
type Outcome int

const (
	Delivered Outcome = iota
	Invalid           // permanently unusable, prune it
	Transient         // timeout, rate limit, gateway error; log only
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Invalid:
		return "invalid"
	default:
		return "transient"
	}
}

// Result is the per-token answer of a Sender.
type Result struct {
	Token   string
	Outcome Outcome
	Reason  string
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

// Payload is the provider-neutral notification. Senders translate it.
type Payload struct {
	Title       string
	Body        string
	Data        map[string]string
	Sound       string
	Category    string
	CollapseKey string
	Priority    Priority
	TTL         time.Duration
	Silent      bool // data-only wake-up, no visible alert
}

// Sender is the single capability every provider exposes. A returned error
// means the whole batch failed transiently.
type Sender interface {
	Send(ctx context.Context, tokens []string, p Payload) ([]Result, error)
}

// Class groups providers that reach the same device surface.
type Class string

const (
	ClassVoIP     Class = "voip"
	ClassPlatform Class = "platform"
	ClassGateway  Class = "gateway"
)

// ClassOf maps a provider onto its class.
func ClassOf(provider string) Class {
	switch provider {
	case model.ProviderAPNsVoIP:
		return ClassVoIP
	case model.ProviderFCM, model.ProviderAPNsAlert:
		return ClassPlatform
	default:
		return ClassGateway
	}
}

// Call selection order. Only incoming calls use VoIP: PushKit terminates
// apps that receive a VoIP push without reporting a call.
var (
	callOrder      = []Class{ClassVoIP, ClassPlatform, ClassGateway}
	callEndOrder   = []Class{ClassPlatform, ClassGateway}
	messageClasses = []Class{ClassPlatform, ClassGateway}
)
