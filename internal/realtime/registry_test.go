package realtime_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcall_realtime/internal/clock"
	"chatcall_realtime/internal/model"
	"chatcall_realtime/internal/realtime"
	"chatcall_realtime/internal/realtime/realtimetest"
)

func newRegistry() (*realtime.Registry, *realtime.Hub, *clock.Fake) {
	hub := realtime.NewHub(zerolog.Nop())
	clk := clock.NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	return realtime.NewRegistry(hub, clk, zerolog.Nop()), hub, clk
}

func allow(context.Context, int64) (bool, error) { return true, nil }
func deny(context.Context, int64) (bool, error)  { return false, nil }

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	reg, hub, _ := newRegistry()
	conn := &realtimetest.Conn{}

	first, err := reg.Register(1, "s1", conn)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = reg.Register(1, "s1", conn)
	require.NoError(t, err)
	assert.False(t, first)

	assert.Len(t, reg.SessionsFor(1), 1)
	assert.True(t, hub.IsSubscribed("s1", realtime.UserTopic(1)))

	_, err = reg.Register(2, "s1", conn)
	assert.ErrorIs(t, err, realtime.ErrSessionConflict)
}

func TestRegistry_SecondSessionIsNotFirst(t *testing.T) {
	reg, _, _ := newRegistry()

	first, _ := reg.Register(1, "s1", &realtimetest.Conn{})
	assert.True(t, first)
	first, _ = reg.Register(1, "s2", &realtimetest.Conn{})
	assert.False(t, first)

	sessions := reg.SessionsFor(1)
	require.Len(t, sessions, 2)
	assert.Equal(t, []string{realtime.UserTopic(1)}, sessions[0].Topics)
}

func TestRegistry_JoinTopic(t *testing.T) {
	reg, hub, _ := newRegistry()
	_, err := reg.Register(1, "s1", &realtimetest.Conn{})
	require.NoError(t, err)

	topic := realtime.ChatTopic(10)

	err = reg.JoinTopic(context.Background(), "s1", topic, deny)
	assert.ErrorIs(t, err, model.ErrAccessDenied)
	assert.False(t, hub.IsSubscribed("s1", topic))

	require.NoError(t, reg.JoinTopic(context.Background(), "s1", topic, allow))
	assert.True(t, hub.IsSubscribed("s1", topic))

	storeErr := errors.New("db down")
	err = reg.JoinTopic(context.Background(), "s1", realtime.ChatTopic(11),
		func(context.Context, int64) (bool, error) { return false, storeErr })
	assert.ErrorIs(t, err, storeErr)

	err = reg.JoinTopic(context.Background(), "ghost", topic, allow)
	assert.ErrorIs(t, err, model.ErrAuthentication)
}

func TestRegistry_UnregisterDropsMemberships(t *testing.T) {
	reg, hub, clk := newRegistry()
	_, _ = reg.Register(1, "s1", &realtimetest.Conn{})
	_, _ = reg.Register(1, "s2", &realtimetest.Conn{})
	require.NoError(t, reg.JoinTopic(context.Background(), "s1", realtime.ChatTopic(5), allow))

	clk.Advance(time.Minute)
	d, ok := reg.Unregister("s1")
	require.True(t, ok)
	assert.False(t, d.LastSession)
	assert.Equal(t, clk.Now(), d.At)
	assert.Empty(t, hub.Subscribers(realtime.ChatTopic(5)))
	assert.True(t, reg.IsOnline(1))

	d, ok = reg.Unregister("s2")
	require.True(t, ok)
	assert.True(t, d.LastSession)
	assert.False(t, reg.IsOnline(1))
	assert.Empty(t, reg.SessionsFor(1))

	_, ok = reg.Unregister("s2")
	assert.False(t, ok)
}

func TestHub_PublishReachesEachSessionOnce(t *testing.T) {
	reg, hub, _ := newRegistry()
	a1, a2, b := &realtimetest.Conn{}, &realtimetest.Conn{}, &realtimetest.Conn{}
	_, _ = reg.Register(1, "a1", a1)
	_, _ = reg.Register(1, "a2", a2)
	_, _ = reg.Register(2, "b", b)

	topic := realtime.ChatTopic(7)
	for _, s := range []string{"a1", "a2", "b"} {
		require.NoError(t, reg.JoinTopic(context.Background(), s, topic, allow))
		// joining twice must not duplicate delivery
		require.NoError(t, reg.JoinTopic(context.Background(), s, topic, allow))
	}

	n := hub.Publish(topic, "ping", map[string]int{"n": 1})
	assert.Equal(t, 3, n)
	for _, c := range []*realtimetest.Conn{a1, a2, b} {
		assert.Len(t, c.Events("ping"), 1)
	}

	n = hub.PublishExcept(topic, "a1", "pong", nil)
	assert.Equal(t, 2, n)
	assert.Empty(t, a1.Events("pong"))
}

func TestHub_DroppedFramesAreNotCounted(t *testing.T) {
	reg, hub, _ := newRegistry()
	slow := &realtimetest.Conn{Full: true}
	_, _ = reg.Register(1, "s1", slow)

	assert.Equal(t, 0, hub.Publish(realtime.UserTopic(1), "x", nil))
	assert.False(t, hub.SendTo("s1", "x", "", nil))
	assert.False(t, hub.SendTo("missing", "x", "", nil))
}
