package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chatcall_realtime/internal/model"
)

const (
	// PresencePrefix is the key prefix of per-user presence hashes.
	PresencePrefix = "presence:user:"

	// OnlineTTL bounds a stale "online" left behind by a crashed process.
	OnlineTTL = 24 * time.Hour

	// OfflineTTL keeps last-seen around long enough for any friend list.
	OfflineTTL = 30 * 24 * time.Hour
)

// Backing is the durable presence store Redis writes through to.
type Backing interface {
	SetPresence(ctx context.Context, userID int64, online bool, lastSeenAt *time.Time) error
	GetPresence(ctx context.Context, userIDs []int64) (map[int64]model.PresenceRecord, error)
}

// RedisPresenceStore keeps presence in Redis hashes and writes through to the
// user table when a backing store is set. Reads missing from Redis fall back
// to the backing store.
type RedisPresenceStore struct {
	client  *redis.Client
	backing Backing
	logger  zerolog.Logger
}

// NewPresenceStore creates a presence store. backing may be nil.
func NewPresenceStore(client *redis.Client, backing Backing, logger zerolog.Logger) *RedisPresenceStore {
	return &RedisPresenceStore{
		client:  client,
		backing: backing,
		logger:  logger.With().Str("component", "PresenceCache").Logger(),
	}
}

func presenceKey(userID int64) string {
	return fmt.Sprintf("%s%d", PresencePrefix, userID)
}

// SetPresence pipelines HSET + EXPIRE. The backing write is attempted even if
// Redis fails; the first error is returned.
func (s *RedisPresenceStore) SetPresence(ctx context.Context, userID int64, online bool, lastSeenAt *time.Time) error {
	key := presenceKey(userID)

	fields := map[string]any{"online": "0", "last_seen": ""}
	ttl := OfflineTTL
	if online {
		fields["online"] = "1"
		ttl = OnlineTTL
	}
	if lastSeenAt != nil {
		fields["last_seen"] = strconv.FormatInt(lastSeenAt.UnixMilli(), 10)
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, ttl)
	_, redisErr := pipe.Exec(ctx)
	if redisErr != nil {
		redisErr = fmt.Errorf("set presence: %w", redisErr)
		s.logger.Warn().Err(redisErr).Int64("user", userID).Msg("SetPresence FAILED")
	}

	if s.backing != nil {
		if err := s.backing.SetPresence(ctx, userID, online, lastSeenAt); err != nil && redisErr == nil {
			return err
		}
	}
	return redisErr
}

// GetPresence pipelines one HGETALL per user.
func (s *RedisPresenceStore) GetPresence(ctx context.Context, userIDs []int64) (map[int64]model.PresenceRecord, error) {
	out := make(map[int64]model.PresenceRecord, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.HGetAll(ctx, presenceKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		if s.backing != nil {
			s.logger.Warn().Err(err).Msg("GetPresence FAILED, reading backing store")
			return s.backing.GetPresence(ctx, userIDs)
		}
		return nil, fmt.Errorf("get presence: %w", err)
	}

	var missing []int64
	for i, id := range userIDs {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			missing = append(missing, id)
			continue
		}
		out[id] = parsePresence(id, fields)
	}

	if len(missing) > 0 && s.backing != nil {
		rest, err := s.backing.GetPresence(ctx, missing)
		if err != nil {
			s.logger.Warn().Err(err).Int("missing", len(missing)).Msg("backing presence read failed")
			return out, nil
		}
		for id, rec := range rest {
			out[id] = rec
		}
	}
	return out, nil
}

func parsePresence(userID int64, fields map[string]string) model.PresenceRecord {
	rec := model.PresenceRecord{UserID: userID, IsOnline: fields["online"] == "1"}
	if ms, err := strconv.ParseInt(fields["last_seen"], 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		rec.LastSeenAt = &t
	}
	return rec
}
