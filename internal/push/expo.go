package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"chatcall_realtime/internal/model"
)

// ExpoSender delivers through Expo's push gateway, which fans out to both
// APNs and FCM for apps built on Expo.
//
// How it works:
// 1. The app obtains an Expo push token ("ExponentPushToken[xxx]")
// 2. It registers the token with POST /devices/token
// 3. We POST messages to Expo; every ticket in the response lines up with a token
type ExpoSender struct {
	httpClient  *http.Client
	url         string
	accessToken string
	logger      zerolog.Logger
}

// ExpoMessage is one message of Expo's push API.
type ExpoMessage struct {
	To               []string          `json:"to"`
	Title            string            `json:"title,omitempty"`
	Body             string            `json:"body,omitempty"`
	Data             map[string]string `json:"data,omitempty"`
	Sound            string            `json:"sound,omitempty"`
	Priority         string            `json:"priority,omitempty"` // "default", "normal", "high"
	TTL              int               `json:"ttl,omitempty"`      // seconds
	ChannelID        string            `json:"channelId,omitempty"`
	CategoryID       string            `json:"categoryId,omitempty"`
	ContentAvailable bool              `json:"_contentAvailable,omitempty"`
}

type expoResponse struct {
	Data []expoTicket `json:"data"`
}

type expoTicket struct {
	Status  string `json:"status"` // "ok" or "error"
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"` // "DeviceNotRegistered", "MessageTooBig", ...
	} `json:"details,omitempty"`
}

const (
	ExpoPushURL    = "https://exp.host/--/api/v2/push/send"
	expoBatchLimit = 100
)

// NewExpoSender builds the gateway client. accessToken is optional and only
// needed when enhanced push security is on for the Expo project.
func NewExpoSender(url, accessToken string, timeout time.Duration, logger zerolog.Logger) *ExpoSender {
	if url == "" {
		url = ExpoPushURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ExpoSender{
		httpClient:  &http.Client{Timeout: timeout},
		url:         url,
		accessToken: accessToken,
		logger:      logger.With().Str("component", "ExpoPush").Logger(),
	}
}

// Send posts tokens in batches of 100. Tokens that are not Expo-shaped are
// reported invalid without a network call.
func (s *ExpoSender) Send(ctx context.Context, tokens []string, p Payload) ([]Result, error) {
	results := make([]Result, 0, len(tokens))
	valid := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if model.IsExpoToken(tok) {
			valid = append(valid, tok)
			continue
		}
		results = append(results, Result{Token: tok, Outcome: Invalid, Reason: "malformed token"})
	}

	for start := 0; start < len(valid); start += expoBatchLimit {
		end := min(start+expoBatchLimit, len(valid))
		batch, err := s.sendBatch(ctx, valid[start:end], p)
		if err != nil {
			for _, tok := range valid[start:] {
				results = append(results, Result{Token: tok, Outcome: Transient, Reason: err.Error()})
			}
			return results, err
		}
		results = append(results, batch...)
	}
	return results, nil
}

func (s *ExpoSender) sendBatch(ctx context.Context, tokens []string, p Payload) ([]Result, error) {
	body, err := json.Marshal(expoMessage(tokens, p))
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.accessToken)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("expo api error: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var parsed expoResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	results := make([]Result, len(tokens))
	for i, tok := range tokens {
		if i >= len(parsed.Data) {
			results[i] = Result{Token: tok, Outcome: Transient, Reason: "missing ticket"}
			continue
		}
		ticket := parsed.Data[i]
		switch {
		case ticket.Status == "ok":
			results[i] = Result{Token: tok, Outcome: Delivered}
		case ticket.Details.Error == "DeviceNotRegistered":
			results[i] = Result{Token: tok, Outcome: Invalid, Reason: ticket.Details.Error}
		default:
			reason := ticket.Details.Error
			if reason == "" {
				reason = ticket.Message
			}
			results[i] = Result{Token: tok, Outcome: Transient, Reason: reason}
		}
	}
	return results, nil
}

func expoMessage(tokens []string, p Payload) ExpoMessage {
	msg := ExpoMessage{
		To:         tokens,
		Data:       p.Data,
		Priority:   string(p.Priority),
		TTL:        int(p.TTL / time.Second),
		CategoryID: p.Category,
	}
	if msg.Priority == "" {
		msg.Priority = string(PriorityHigh)
	}
	if p.Silent {
		msg.ContentAvailable = true
		return msg
	}
	msg.Title = p.Title
	msg.Body = p.Body
	msg.Sound = p.Sound
	if p.Category != "" {
		msg.ChannelID = p.Category
	}
	return msg
}
