// Package realtime tracks live sessions and routes events to them through
// string-addressed topics.
package realtime

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"chatcall_realtime/internal/model"
)

// Conn is the outbound half of a live transport connection.
// Send must not block; it reports false when the frame was dropped.
type Conn interface {
	Send(frame []byte) bool
}

// UserTopic is the personal topic every session of userID joins on register.
func UserTopic(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// ChatTopic is the broadcast topic of one chat.
func ChatTopic(chatID int64) string {
	return "chat:" + strconv.FormatInt(chatID, 10)
}

// Hub is an in-process publish/subscribe fabric. Subscriptions are sets, so a
// session subscribed to a topic receives each publish on it exactly once.
type Hub struct {
	mu      sync.RWMutex
	conns   map[string]Conn                // sessionID -> conn
	topics  map[string]map[string]struct{} // topic -> sessionIDs
	members map[string]map[string]struct{} // sessionID -> topics

	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		conns:   make(map[string]Conn),
		topics:  make(map[string]map[string]struct{}),
		members: make(map[string]map[string]struct{}),
		logger:  logger.With().Str("component", "Hub").Logger(),
	}
}

// Attach makes sessionID addressable. Re-attaching replaces the conn.
func (h *Hub) Attach(sessionID string, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[sessionID] = conn
	if h.members[sessionID] == nil {
		h.members[sessionID] = make(map[string]struct{})
	}
}

// Detach drops the session and every subscription it held.
func (h *Hub) Detach(sessionID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	topics := h.members[sessionID]
	left := make([]string, 0, len(topics))
	for topic := range topics {
		left = append(left, topic)
		if subs, ok := h.topics[topic]; ok {
			delete(subs, sessionID)
			if len(subs) == 0 {
				delete(h.topics, topic)
			}
		}
	}
	delete(h.members, sessionID)
	delete(h.conns, sessionID)
	return left
}

// Subscribe adds sessionID to topic. Idempotent.
func (h *Hub) Subscribe(sessionID, topic string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[sessionID]; !ok {
		return fmt.Errorf("subscribe %s: unknown session %s", topic, sessionID)
	}
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[string]struct{})
	}
	h.topics[topic][sessionID] = struct{}{}
	h.members[sessionID][topic] = struct{}{}
	return nil
}

func (h *Hub) Unsubscribe(sessionID, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.topics[topic]; ok {
		delete(subs, sessionID)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	if m, ok := h.members[sessionID]; ok {
		delete(m, topic)
	}
}

// IsSubscribed reports whether sessionID currently listens on topic.
func (h *Hub) IsSubscribed(sessionID, topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.topics[topic][sessionID]
	return ok
}

// TopicsOf returns the sorted topics sessionID is subscribed to.
func (h *Hub) TopicsOf(sessionID string) []string {
	h.mu.RLock()
	topics := make([]string, 0, len(h.members[sessionID]))
	for t := range h.members[sessionID] {
		topics = append(topics, t)
	}
	h.mu.RUnlock()
	sort.Strings(topics)
	return topics
}

// Subscribers returns a snapshot of the sessions on topic.
func (h *Hub) Subscribers(topic string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := h.topics[topic]
	out := make([]string, 0, len(subs))
	for id := range subs {
		out = append(out, id)
	}
	return out
}

// Publish delivers event to every session on topic and returns how many
// sessions accepted the frame. Delivery is at-most-once.
func (h *Hub) Publish(topic, event string, data any) int {
	return h.PublishExcept(topic, "", event, data)
}

// PublishExcept is Publish skipping one session, typically the sender's.
func (h *Hub) PublishExcept(topic, exceptSessionID, event string, data any) int {
	frame, err := EncodeFrame(event, "", data)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", topic).Str("event", event).Msg("encode frame failed")
		return 0
	}

	h.mu.RLock()
	targets := make([]Conn, 0, len(h.topics[topic]))
	for id := range h.topics[topic] {
		if id == exceptSessionID {
			continue
		}
		if c, ok := h.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.Send(frame) {
			delivered++
		}
	}
	if delivered < len(targets) {
		h.logger.Warn().Str("topic", topic).Str("event", event).
			Int("dropped", len(targets)-delivered).Msg("slow sessions dropped frames")
	}
	return delivered
}

// SendTo delivers a frame to exactly one session.
func (h *Hub) SendTo(sessionID, event, id string, data any) bool {
	h.mu.RLock()
	c, ok := h.conns[sessionID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	frame, err := EncodeFrame(event, id, data)
	if err != nil {
		h.logger.Error().Err(err).Str("session", sessionID).Str("event", event).Msg("encode frame failed")
		return false
	}
	return c.Send(frame)
}

// EncodeFrame marshals an outbound frame.
func EncodeFrame(event, id string, data any) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		raw = b
	}
	return json.Marshal(model.Frame{Event: event, ID: id, Data: raw})
}
