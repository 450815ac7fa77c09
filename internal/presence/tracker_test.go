package presence_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcall_realtime/internal/clock"
	"chatcall_realtime/internal/model"
	"chatcall_realtime/internal/presence"
	"chatcall_realtime/internal/realtime"
	"chatcall_realtime/internal/realtime/realtimetest"
)

type memoryStore struct {
	mu       sync.Mutex
	records  map[int64]model.PresenceRecord
	setErr   error
	getErr   error
	setCalls int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[int64]model.PresenceRecord)}
}

func (m *memoryStore) SetPresence(ctx context.Context, userID int64, online bool, lastSeen *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if m.setErr != nil {
		return m.setErr
	}
	m.records[userID] = model.PresenceRecord{UserID: userID, IsOnline: online, LastSeenAt: lastSeen}
	return nil
}

func (m *memoryStore) GetPresence(ctx context.Context, ids []int64) (map[int64]model.PresenceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	out := make(map[int64]model.PresenceRecord)
	for _, id := range ids {
		if r, ok := m.records[id]; ok {
			out[id] = r
		}
	}
	return out, nil
}

type friendGraph map[int64][]int64

func (g friendGraph) AcceptedFriendIDs(ctx context.Context, userID int64) ([]int64, error) {
	return g[userID], nil
}

type fixture struct {
	reg     *realtime.Registry
	hub     *realtime.Hub
	clk     *clock.Fake
	store   *memoryStore
	tracker *presence.Tracker
}

func newFixture(friends friendGraph) *fixture {
	hub := realtime.NewHub(zerolog.Nop())
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	reg := realtime.NewRegistry(hub, clk, zerolog.Nop())
	store := newMemoryStore()
	return &fixture{
		reg:     reg,
		hub:     hub,
		clk:     clk,
		store:   store,
		tracker: presence.NewTracker(store, friends, hub, reg, time.Second, zerolog.Nop()),
	}
}

func TestTracker_DisconnectVisibleToFriends(t *testing.T) {
	f := newFixture(friendGraph{1: {2}, 2: {1}})
	friendConn := &realtimetest.Conn{}
	_, _ = f.reg.Register(2, "friend", friendConn)
	_, _ = f.reg.Register(1, "me", &realtimetest.Conn{})
	ctx := context.Background()

	f.tracker.Connected(ctx, 1)

	updates := friendConn.Events(model.EventPresenceUpdate)
	require.Len(t, updates, 1)
	var rec model.PresenceRecord
	require.NoError(t, realtimetest.Decode(updates[0], &rec))
	assert.True(t, rec.IsOnline)
	assert.Nil(t, rec.LastSeenAt)

	f.clk.Advance(time.Minute)
	d, _ := f.reg.Unregister("me")
	f.tracker.Disconnected(ctx, d.UserID, d.At)

	updates = friendConn.Events(model.EventPresenceUpdate)
	require.Len(t, updates, 2)
	require.NoError(t, realtimetest.Decode(updates[1], &rec))
	assert.False(t, rec.IsOnline)
	require.NotNil(t, rec.LastSeenAt)
	assert.True(t, rec.LastSeenAt.Equal(d.At))

	snap, err := f.tracker.Snapshot(ctx, 2)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.False(t, snap[0].IsOnline)
	assert.NotNil(t, snap[0].LastSeenAt)
}

func TestTracker_SnapshotAfterReconnectIsOnline(t *testing.T) {
	f := newFixture(friendGraph{1: {2}, 2: {1}})
	ctx := context.Background()
	_, _ = f.reg.Register(1, "me", &realtimetest.Conn{})
	d, _ := f.reg.Unregister("me")
	f.tracker.Disconnected(ctx, 1, d.At)

	_, _ = f.reg.Register(1, "me-again", &realtimetest.Conn{})
	f.tracker.Connected(ctx, 1)

	snap, err := f.tracker.Snapshot(ctx, 2)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.True(t, snap[0].IsOnline)
	assert.Nil(t, snap[0].LastSeenAt)
}

func TestTracker_WriteFailureDoesNotBlockBroadcast(t *testing.T) {
	f := newFixture(friendGraph{1: {2}})
	f.store.setErr = errors.New("redis down")
	friendConn := &realtimetest.Conn{}
	_, _ = f.reg.Register(2, "friend", friendConn)

	f.tracker.Disconnected(context.Background(), 1, f.clk.Now())

	assert.Len(t, friendConn.Events(model.EventPresenceUpdate), 1)
	assert.Equal(t, 1, f.store.setCalls)
}

func TestTracker_SnapshotFallsBackToLiveOnReadError(t *testing.T) {
	f := newFixture(friendGraph{1: {2, 3}})
	f.store.getErr = errors.New("timeout")
	_, _ = f.reg.Register(2, "two", &realtimetest.Conn{})

	snap, err := f.tracker.Snapshot(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, snap, 2)

	online := map[int64]bool{}
	for _, r := range snap {
		online[r.UserID] = r.IsOnline
	}
	assert.Equal(t, map[int64]bool{2: true, 3: false}, online)
}

func TestTracker_NoFriends(t *testing.T) {
	f := newFixture(friendGraph{})
	snap, err := f.tracker.Snapshot(context.Background(), 9)
	require.NoError(t, err)
	assert.Empty(t, snap)
}

func TestTracker_LateDisconnectAfterReconnectIsDropped(t *testing.T) {
	f := newFixture(friendGraph{1: {2}, 2: {1}})
	friendConn := &realtimetest.Conn{}
	_, _ = f.reg.Register(2, "friend", friendConn)
	ctx := context.Background()

	_, _ = f.reg.Register(1, "a", &realtimetest.Conn{})
	d, _ := f.reg.Unregister("a")
	require.True(t, d.LastSession)
	first, _ := f.reg.Register(1, "b", &realtimetest.Conn{})
	require.True(t, first)

	// b's online transition wins the race against a's offline one.
	f.tracker.Connected(ctx, 1)
	f.tracker.Disconnected(ctx, 1, d.At)

	updates := friendConn.Events(model.EventPresenceUpdate)
	require.Len(t, updates, 1)
	var rec model.PresenceRecord
	require.NoError(t, realtimetest.Decode(updates[0], &rec))
	assert.True(t, rec.IsOnline)

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	assert.True(t, f.store.records[1].IsOnline)
}

func TestTracker_LateConnectAfterDisconnectIsDropped(t *testing.T) {
	f := newFixture(friendGraph{1: {2}, 2: {1}})
	friendConn := &realtimetest.Conn{}
	_, _ = f.reg.Register(2, "friend", friendConn)
	ctx := context.Background()

	_, _ = f.reg.Register(1, "a", &realtimetest.Conn{})
	d, _ := f.reg.Unregister("a")
	f.tracker.Disconnected(ctx, 1, d.At)
	f.tracker.Connected(ctx, 1)

	updates := friendConn.Events(model.EventPresenceUpdate)
	require.Len(t, updates, 1)
	var rec model.PresenceRecord
	require.NoError(t, realtimetest.Decode(updates[0], &rec))
	assert.False(t, rec.IsOnline)

	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	assert.False(t, f.store.records[1].IsOnline)
}
