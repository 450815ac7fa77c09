// Package presence derives online/offline state from registry transitions and
// fans it out to accepted friends.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatcall_realtime/internal/model"
	"chatcall_realtime/internal/realtime"
)

// Store persists the presence fields of the user aggregate.
type Store interface {
	SetPresence(ctx context.Context, userID int64, online bool, lastSeenAt *time.Time) error
	GetPresence(ctx context.Context, userIDs []int64) (map[int64]model.PresenceRecord, error)
}

// FriendStore resolves the accepted-friend graph.
type FriendStore interface {
	AcceptedFriendIDs(ctx context.Context, userID int64) ([]int64, error)
}

type Publisher interface {
	Publish(topic, event string, data any) int
}

// LiveChecker answers from the in-process registry.
type LiveChecker interface {
	IsOnline(userID int64) bool
}

const lockStripes = 64

// Tracker serializes transitions per user. A transition the live registry no
// longer agrees with is dropped, so a quick reconnect cannot end offline.
type Tracker struct {
	store        Store
	friends      FriendStore
	pub          Publisher
	live         LiveChecker
	writeTimeout time.Duration

	stripes [lockStripes]sync.Mutex
	logger  zerolog.Logger
}

func NewTracker(store Store, friends FriendStore, pub Publisher, live LiveChecker, writeTimeout time.Duration, logger zerolog.Logger) *Tracker {
	if writeTimeout <= 0 {
		writeTimeout = 3 * time.Second
	}
	return &Tracker{
		store:        store,
		friends:      friends,
		pub:          pub,
		live:         live,
		writeTimeout: writeTimeout,
		logger:       logger.With().Str("component", "PresenceTracker").Logger(),
	}
}

// Connected marks userID online and tells their friends.
func (t *Tracker) Connected(ctx context.Context, userID int64) {
	t.transition(ctx, model.PresenceRecord{UserID: userID, IsOnline: true})
}

// Disconnected marks userID offline with lastSeenAt = at.
func (t *Tracker) Disconnected(ctx context.Context, userID int64, at time.Time) {
	at = at.UTC()
	t.transition(ctx, model.PresenceRecord{UserID: userID, IsOnline: false, LastSeenAt: &at})
}

// transition broadcasts first; the store write can fail without blocking it.
func (t *Tracker) transition(ctx context.Context, rec model.PresenceRecord) {
	mu := &t.stripes[uint64(rec.UserID)%lockStripes]
	mu.Lock()
	defer mu.Unlock()

	if t.live.IsOnline(rec.UserID) != rec.IsOnline {
		t.logger.Debug().Int64("user", rec.UserID).Bool("online", rec.IsOnline).Msg("stale presence transition dropped")
		return
	}

	t.broadcast(ctx, rec)

	wctx, cancel := context.WithTimeout(ctx, t.writeTimeout)
	defer cancel()
	if err := t.store.SetPresence(wctx, rec.UserID, rec.IsOnline, rec.LastSeenAt); err != nil {
		t.logger.Error().Err(err).Int64("user", rec.UserID).Bool("online", rec.IsOnline).Msg("presence write failed")
	}
}

func (t *Tracker) broadcast(ctx context.Context, rec model.PresenceRecord) {
	friendIDs, err := t.friends.AcceptedFriendIDs(ctx, rec.UserID)
	if err != nil {
		t.logger.Error().Err(err).Int64("user", rec.UserID).Msg("friend lookup failed, presence not broadcast")
		return
	}
	delivered := 0
	for _, id := range friendIDs {
		delivered += t.pub.Publish(realtime.UserTopic(id), model.EventPresenceUpdate, rec)
	}
	t.logger.Debug().Int64("user", rec.UserID).Bool("online", rec.IsOnline).
		Int("friends", len(friendIDs)).Int("sessions", delivered).Msg("presence broadcast")
}

// Snapshot returns the presence of every accepted friend, unordered. Live
// sessions in this process override whatever the store last recorded.
func (t *Tracker) Snapshot(ctx context.Context, userID int64) ([]model.PresenceRecord, error) {
	friendIDs, err := t.friends.AcceptedFriendIDs(ctx, userID)
	if err != nil {
		return nil, model.Persistence("accepted friends", err)
	}
	if len(friendIDs) == 0 {
		return []model.PresenceRecord{}, nil
	}

	stored, err := t.store.GetPresence(ctx, friendIDs)
	if err != nil {
		t.logger.Warn().Err(err).Int64("user", userID).Msg("presence read failed, answering from live sessions")
		stored = nil
	}

	out := make([]model.PresenceRecord, 0, len(friendIDs))
	for _, id := range friendIDs {
		if t.live.IsOnline(id) {
			out = append(out, model.PresenceRecord{UserID: id, IsOnline: true})
			continue
		}
		rec := model.PresenceRecord{UserID: id}
		if s, ok := stored[id]; ok {
			rec.LastSeenAt = s.LastSeenAt
		}
		out = append(out, rec)
	}
	return out, nil
}
