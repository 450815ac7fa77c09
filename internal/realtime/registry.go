package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"chatcall_realtime/internal/clock"
	"chatcall_realtime/internal/model"
)

// ErrSessionConflict is returned when a session id is reused by another user.
var ErrSessionConflict = errors.New("session id already registered to another user")

// Authorizer is the participant check supplied by the chat collaborator.
type Authorizer func(ctx context.Context, userID int64) (bool, error)

// Session is a snapshot of one live connection.
type Session struct {
	ID          string    `json:"sessionId"`
	UserID      int64     `json:"userId"`
	ConnectedAt time.Time `json:"connectedAt"`
	Topics      []string  `json:"joinedTopics"`
}

// Departure describes an unregistered session.
type Departure struct {
	UserID      int64
	SessionID   string
	LastSession bool // the user has no sessions left
	At          time.Time
}

type sessionEntry struct {
	userID      int64
	connectedAt time.Time
}

// Registry maps authenticated identities to their live sessions. Topic
// memberships live in the Hub; the registry owns the identity side.
type Registry struct {
	hub   *Hub
	clock clock.Clock

	mu       sync.RWMutex
	sessions map[string]sessionEntry       // sessionID -> entry
	byUser   map[int64]map[string]struct{} // userID -> sessionIDs

	active metric.Int64UpDownCounter
	logger zerolog.Logger
}

func NewRegistry(hub *Hub, clk clock.Clock, logger zerolog.Logger) *Registry {
	if clk == nil {
		clk = clock.Real{}
	}
	active, _ := otel.Meter("chatcall_realtime/realtime").Int64UpDownCounter(
		"realtime.sessions.active",
		metric.WithDescription("Live sessions held by this process"),
	)
	return &Registry{
		hub:      hub,
		clock:    clk,
		sessions: make(map[string]sessionEntry),
		byUser:   make(map[int64]map[string]struct{}),
		active:   active,
		logger:   logger.With().Str("component", "Registry").Logger(),
	}
}

// Register records sessionID for userID and joins the personal topic.
// It is idempotent; first reports whether this is the user's first live session.
func (r *Registry) Register(userID int64, sessionID string, conn Conn) (first bool, err error) {
	r.mu.Lock()
	if existing, ok := r.sessions[sessionID]; ok {
		r.mu.Unlock()
		if existing.userID != userID {
			return false, ErrSessionConflict
		}
		return false, nil
	}

	r.sessions[sessionID] = sessionEntry{userID: userID, connectedAt: r.clock.Now()}
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]struct{})
	}
	first = len(r.byUser[userID]) == 0
	r.byUser[userID][sessionID] = struct{}{}
	r.mu.Unlock()

	r.hub.Attach(sessionID, conn)
	if err := r.hub.Subscribe(sessionID, UserTopic(userID)); err != nil {
		return first, err
	}
	if r.active != nil {
		r.active.Add(context.Background(), 1)
	}

	r.logger.Debug().Int64("user", userID).Str("session", sessionID).Bool("first", first).Msg("session registered")
	return first, nil
}

// JoinTopic subscribes a session after the authorize predicate passes.
func (r *Registry) JoinTopic(ctx context.Context, sessionID, topic string, authorize Authorizer) error {
	r.mu.RLock()
	entry, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("join %s: %w: session not registered", topic, model.ErrAuthentication)
	}

	if authorize != nil {
		allowed, err := authorize(ctx, entry.userID)
		if err != nil {
			return fmt.Errorf("join %s: %w", topic, err)
		}
		if !allowed {
			return fmt.Errorf("join %s: %w", topic, model.ErrAccessDenied)
		}
	}
	return r.hub.Subscribe(sessionID, topic)
}

// SessionsFor returns a snapshot of userID's live sessions. The snapshot can
// race a concurrent disconnect, so an empty result is not proof of offline.
func (r *Registry) SessionsFor(userID int64) []Session {
	r.mu.RLock()
	ids := make([]string, 0, len(r.byUser[userID]))
	entries := make([]sessionEntry, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		ids = append(ids, id)
		entries = append(entries, r.sessions[id])
	}
	r.mu.RUnlock()

	out := make([]Session, 0, len(ids))
	for i, id := range ids {
		out = append(out, Session{
			ID:          id,
			UserID:      userID,
			ConnectedAt: entries[i].connectedAt,
			Topics:      r.hub.TopicsOf(id),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// UserOf returns the identity behind a session.
func (r *Registry) UserOf(sessionID string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sessionID]
	return e.userID, ok
}

// IsOnline reports whether userID holds at least one live session.
func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// Unregister removes a session and all of its topic memberships.
func (r *Registry) Unregister(sessionID string) (Departure, bool) {
	r.mu.Lock()
	entry, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return Departure{}, false
	}
	delete(r.sessions, sessionID)
	userSessions := r.byUser[entry.userID]
	delete(userSessions, sessionID)
	last := len(userSessions) == 0
	if last {
		delete(r.byUser, entry.userID)
	}
	r.mu.Unlock()

	r.hub.Detach(sessionID)
	if r.active != nil {
		r.active.Add(context.Background(), -1)
	}

	d := Departure{UserID: entry.userID, SessionID: sessionID, LastSession: last, At: r.clock.Now()}
	r.logger.Debug().Int64("user", entry.userID).Str("session", sessionID).Bool("last", last).Msg("session unregistered")
	return d, true
}

// SessionCount returns the number of live sessions across all users.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
