package push

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"golang.org/x/sync/errgroup"
)

const apnsParallel = 8

type apnsPusher interface {
	PushWithContext(ctx apns2.Context, n *apns2.Notification) (*apns2.Response, error)
}

// APNsSender talks to APNs directly over HTTP/2 with token auth. One instance
// serves one push type: alert tokens and PushKit VoIP tokens use different
// topics and are registered as separate providers.
type APNsSender struct {
	client apnsPusher
	topic  string
	voip   bool
	logger zerolog.Logger
}

// APNsConfig carries the .p8 signing key and app identity.
type APNsConfig struct {
	KeyID      string
	TeamID     string
	AuthKey    []byte
	BundleID   string
	Production bool
}

// NewAPNsClient builds a token-authenticated client shared by the alert and
// VoIP senders.
func NewAPNsClient(cfg APNsConfig) (*apns2.Client, error) {
	key, err := token.AuthKeyFromBytes(cfg.AuthKey)
	if err != nil {
		return nil, fmt.Errorf("parse apns auth key: %w", err)
	}
	client := apns2.NewTokenClient(&token.Token{AuthKey: key, KeyID: cfg.KeyID, TeamID: cfg.TeamID})
	if cfg.Production {
		return client.Production(), nil
	}
	return client.Development(), nil
}

func NewAPNsAlertSender(client apnsPusher, bundleID string, logger zerolog.Logger) *APNsSender {
	return &APNsSender{client: client, topic: bundleID, logger: logger.With().Str("component", "APNs").Logger()}
}

// NewAPNsVoIPSender targets PushKit; the topic is the bundle id with a .voip suffix.
func NewAPNsVoIPSender(client apnsPusher, bundleID string, logger zerolog.Logger) *APNsSender {
	return &APNsSender{
		client: client,
		topic:  bundleID + ".voip",
		voip:   true,
		logger: logger.With().Str("component", "APNsVoIP").Logger(),
	}
}

// Send pushes each token individually; APNs has no multicast.
func (s *APNsSender) Send(ctx context.Context, tokens []string, p Payload) ([]Result, error) {
	results := make([]Result, len(tokens))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(apnsParallel)

	for i, tok := range tokens {
		g.Go(func() error {
			results[i] = s.pushOne(gctx, tok, p)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (s *APNsSender) pushOne(ctx context.Context, tok string, p Payload) Result {
	resp, err := s.client.PushWithContext(ctx, s.notification(tok, p))
	if err != nil {
		return Result{Token: tok, Outcome: Transient, Reason: err.Error()}
	}
	if resp.Sent() {
		return Result{Token: tok, Outcome: Delivered}
	}
	if resp.Reason == apns2.ReasonDeviceTokenNotForTopic {
		s.logger.Error().Str("topic", s.topic).Str("reason", resp.Reason).Msg("device token not for topic, check bundle id")
	}
	return Result{Token: tok, Outcome: classifyAPNs(resp), Reason: resp.Reason}
}

func classifyAPNs(resp *apns2.Response) Outcome {
	if resp.StatusCode == http.StatusGone {
		return Invalid
	}
	switch resp.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered:
		return Invalid
	}
	// DeviceTokenNotForTopic means our topic is misconfigured, not that the
	// token is dead. Keep the token.
	return Transient
}

func (s *APNsSender) notification(tok string, p Payload) *apns2.Notification {
	n := &apns2.Notification{
		DeviceToken: tok,
		Topic:       s.topic,
		CollapseID:  p.CollapseKey,
		Priority:    apns2.PriorityHigh,
	}
	if p.TTL > 0 {
		n.Expiration = time.Now().Add(p.TTL)
	}

	pl := payload.NewPayload()
	for k, v := range p.Data {
		pl.Custom(k, v)
	}

	switch {
	case s.voip:
		n.PushType = apns2.PushTypeVOIP
	case p.Silent:
		n.PushType = apns2.PushTypeBackground
		n.Priority = apns2.PriorityLow
		pl.ContentAvailable()
	default:
		n.PushType = apns2.PushTypeAlert
		if p.Priority == PriorityNormal {
			n.Priority = apns2.PriorityLow
		}
		sound := p.Sound
		if sound == "" {
			sound = "default"
		}
		pl.AlertTitle(p.Title).AlertBody(p.Body).Sound(sound)
		if p.Category != "" {
			pl.Category(p.Category)
		}
	}
	n.Payload = pl
	return n
}
