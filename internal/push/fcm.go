package push

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

const fcmBatchLimit = 500

type multicaster interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMSender wraps the Firebase Cloud Messaging client.
//
// The credentials (project ID, client email, private key) come from the
// Firebase Console: Project Settings -> Service Accounts -> Generate New Private Key.
type FCMSender struct {
	client multicaster
	logger zerolog.Logger
}

// NewFCMSender initializes a Firebase app from service-account fields.
// Literal "\n" sequences in privateKey are expanded.
func NewFCMSender(ctx context.Context, projectID, clientEmail, privateKey string, logger zerolog.Logger) (*FCMSender, error) {
	privateKey = strings.ReplaceAll(privateKey, "\\n", "\n")

	credsJSON := fmt.Sprintf(`{
		"type": "service_account",
		"project_id": %q,
		"private_key": %q,
		"client_email": %q,
		"token_uri": "https://oauth2.googleapis.com/token"
	}`, projectID, privateKey, clientEmail)

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsJSON([]byte(credsJSON)))
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("get messaging client: %w", err)
	}

	s := &FCMSender{client: client, logger: logger.With().Str("component", "FCM").Logger()}
	s.logger.Info().Str("project", projectID).Msg("initialized")
	return s, nil
}

// Send multicasts in batches of 500, the FCM per-request limit.
func (s *FCMSender) Send(ctx context.Context, tokens []string, p Payload) ([]Result, error) {
	results := make([]Result, 0, len(tokens))
	for start := 0; start < len(tokens); start += fcmBatchLimit {
		end := min(start+fcmBatchLimit, len(tokens))
		batch := tokens[start:end]

		resp, err := s.client.SendEachForMulticast(ctx, fcmMessage(batch, p))
		if err != nil {
			for _, tok := range tokens[start:] {
				results = append(results, Result{Token: tok, Outcome: Transient, Reason: err.Error()})
			}
			return results, fmt.Errorf("send multicast: %w", err)
		}

		for i, tok := range batch {
			if i >= len(resp.Responses) {
				results = append(results, Result{Token: tok, Outcome: Transient, Reason: "missing response"})
				continue
			}
			r := resp.Responses[i]
			if r.Success {
				results = append(results, Result{Token: tok, Outcome: Delivered})
				continue
			}
			results = append(results, Result{Token: tok, Outcome: classifyFCMError(r.Error), Reason: errString(r.Error)})
		}
		s.logger.Debug().Int("tokens", len(batch)).Int("success", resp.SuccessCount).
			Int("failure", resp.FailureCount).Msg("multicast sent")
	}
	return results, nil
}

func classifyFCMError(err error) Outcome {
	if err == nil {
		return Delivered
	}
	if messaging.IsUnregistered(err) || messaging.IsSenderIDMismatch(err) {
		return Invalid
	}
	return Transient
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// fcmMessage maps a payload onto a multicast. Silent payloads are data-only
// with a background APNs push type so the app is woken without an alert.
func fcmMessage(tokens []string, p Payload) *messaging.MulticastMessage {
	priority := "high"
	apnsPriority := "10"
	if p.Priority == PriorityNormal {
		priority = "normal"
		apnsPriority = "5"
	}

	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   p.Data,
		Android: &messaging.AndroidConfig{
			Priority:    priority,
			CollapseKey: p.CollapseKey,
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{"apns-priority": apnsPriority},
			Payload: &messaging.APNSPayload{Aps: &messaging.Aps{}},
		},
	}
	if p.TTL > 0 {
		ttl := p.TTL
		msg.Android.TTL = &ttl
	}

	if p.Silent {
		msg.APNS.Headers["apns-push-type"] = "background"
		msg.APNS.Headers["apns-priority"] = "5"
		msg.APNS.Payload.Aps.ContentAvailable = true
		return msg
	}

	sound := p.Sound
	if sound == "" {
		sound = "default"
	}
	msg.Notification = &messaging.Notification{Title: p.Title, Body: p.Body}
	msg.Android.Notification = &messaging.AndroidNotification{Sound: sound, ChannelID: p.Category}
	msg.APNS.Headers["apns-push-type"] = "alert"
	msg.APNS.Payload.Aps.Sound = sound
	msg.APNS.Payload.Aps.Category = p.Category
	return msg
}
