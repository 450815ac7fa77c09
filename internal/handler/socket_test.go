package handler

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcall_realtime/internal/clock"
	"chatcall_realtime/internal/fanout"
	"chatcall_realtime/internal/model"
	"chatcall_realtime/internal/presence"
	"chatcall_realtime/internal/push"
	"chatcall_realtime/internal/realtime"
	"chatcall_realtime/internal/realtime/realtimetest"
	"chatcall_realtime/internal/signaling"
	"chatcall_realtime/internal/transport/ws"
)

// world backs every collaborator with in-memory maps.
// Users 1 and 2 are friends and share chat 10; user 3 is a stranger.
type world struct {
	mu       sync.Mutex
	members  map[int64][]int64
	friends  map[int64][]int64
	messages []*model.Message
	calls    []push.CallNotice
}

func newWorld() *world {
	return &world{
		members: map[int64][]int64{10: {1, 2}},
		friends: map[int64][]int64{1: {2}, 2: {1}},
	}
}

func (w *world) GetChat(_ context.Context, id int64) (*model.Chat, error) {
	return &model.Chat{ID: id}, nil
}

func (w *world) IsParticipant(_ context.Context, chatID, userID int64) (bool, error) {
	return slices.Contains(w.members[chatID], userID), nil
}

func (w *world) ParticipantIDs(_ context.Context, chatID int64) ([]int64, error) {
	return w.members[chatID], nil
}

func (w *world) GetUserByID(_ context.Context, id int64) (*model.User, error) {
	return &model.User{ID: id, Username: "user"}, nil
}

func (w *world) CreateMessage(_ context.Context, m *model.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	m.ID = int64(len(w.messages) + 1)
	w.messages = append(w.messages, m)
	return nil
}

func (w *world) MarkRead(context.Context, int64, int64, int64, time.Time) error { return nil }

func (w *world) SetPresence(context.Context, int64, bool, *time.Time) error { return nil }

func (w *world) GetPresence(context.Context, []int64) (map[int64]model.PresenceRecord, error) {
	return nil, nil
}

func (w *world) AcceptedFriendIDs(_ context.Context, userID int64) ([]int64, error) {
	return w.friends[userID], nil
}

func (w *world) NotifyIncomingCall(_ context.Context, n push.CallNotice) push.Report {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, n)
	return push.Report{RecipientID: n.RecipientID}
}

func (w *world) NotifyCallEnded(_ context.Context, n push.CallEndNotice) push.Report {
	return push.Report{RecipientID: n.RecipientID}
}

func (w *world) NotifyMessage(_ context.Context, n push.MessageNotice) push.Report {
	return push.Report{RecipientID: n.RecipientID}
}

type socketFixture struct {
	world    *world
	registry *realtime.Registry
	handler  *SocketHandler
	relay    *signaling.Relay
	fanout   *fanout.Service
}

func newSocketFixture(t *testing.T) *socketFixture {
	t.Helper()
	w := newWorld()
	hub := realtime.NewHub(zerolog.Nop())
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	reg := realtime.NewRegistry(hub, clk, zerolog.Nop())
	tracker := presence.NewTracker(w, w, hub, reg, time.Second, zerolog.Nop())
	relay := signaling.NewRelay(hub, signaling.NewOfferCache(signaling.DefaultOfferTTL, clk), reg, w, w, w, zerolog.Nop())
	svc := fanout.NewService(w, w, w, hub, w, clk, zerolog.Nop())

	f := &socketFixture{
		world:    w,
		registry: reg,
		relay:    relay,
		fanout:   svc,
		handler:  NewSocketHandler(reg, hub, w, svc, relay, tracker, zerolog.Nop()),
	}
	t.Cleanup(func() {
		relay.Wait()
		svc.Wait()
	})
	return f
}

func (f *socketFixture) connect(t *testing.T, userID int64, sessionID string) (ws.Session, *realtimetest.Conn) {
	t.Helper()
	c := &realtimetest.Conn{}
	_, err := f.registry.Register(userID, sessionID, c)
	require.NoError(t, err)
	return ws.Session{UserID: userID, SessionID: sessionID}, c
}

func frame(t *testing.T, event, id string, data any) model.Frame {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(t, err)
		raw = b
	}
	return model.Frame{Event: event, ID: id, Data: raw}
}

func lastAck(t *testing.T, c *realtimetest.Conn, id string) model.Ack {
	t.Helper()
	acks := c.Events(model.EventAck)
	require.NotEmpty(t, acks)
	last := acks[len(acks)-1]
	require.Equal(t, id, last.ID)
	var ack model.Ack
	require.NoError(t, realtimetest.Decode(last, &ack))
	return ack
}

func TestSocketHandler_JoinTopic(t *testing.T) {
	f := newSocketFixture(t)
	ctx := context.Background()
	alice, aliceConn := f.connect(t, 1, "a1")
	stranger, strangerConn := f.connect(t, 3, "c1")

	f.handler.HandleFrame(ctx, alice, frame(t, model.EventJoinTopic, "1", model.JoinTopicPayload{ChatID: 10}))
	assert.True(t, lastAck(t, aliceConn, "1").OK)

	f.handler.HandleFrame(ctx, stranger, frame(t, model.EventJoinTopic, "2", model.JoinTopicPayload{ChatID: 10}))
	ack := lastAck(t, strangerConn, "2")
	assert.False(t, ack.OK)
	require.NotNil(t, ack.Error)
	assert.Equal(t, model.CodeAccessDenied, ack.Error.Code)
	assert.Equal(t, model.EventJoinTopic, ack.Error.Event)
}

func TestSocketHandler_SendMessageReachesJoinedSession(t *testing.T) {
	f := newSocketFixture(t)
	ctx := context.Background()
	alice, aliceConn := f.connect(t, 1, "a1")
	bob, bobConn := f.connect(t, 2, "b1")
	f.handler.HandleFrame(ctx, bob, frame(t, model.EventJoinTopic, "", model.JoinTopicPayload{ChatID: 10}))

	f.handler.HandleFrame(ctx, alice, frame(t, model.EventSendMessage, "m1", model.SendMessagePayload{
		ChatID: 10, Content: "hi", Type: model.MessageTypeText,
	}))

	ack := lastAck(t, aliceConn, "m1")
	assert.True(t, ack.OK)
	assert.Len(t, bobConn.Events(model.EventNewMessage), 1)
	assert.Len(t, bobConn.Events(model.EventChatUpdated), 1)
}

func TestSocketHandler_TypingRequiresJoin(t *testing.T) {
	f := newSocketFixture(t)
	ctx := context.Background()
	alice, aliceConn := f.connect(t, 1, "a1")
	bob, bobConn := f.connect(t, 2, "b1")

	f.handler.HandleFrame(ctx, alice, frame(t, model.EventTyping, "", model.TypingPayload{ChatID: 10}))
	errs := aliceConn.Events(model.EventError)
	require.Len(t, errs, 1)
	var body model.ErrorBody
	require.NoError(t, realtimetest.Decode(errs[0], &body))
	assert.Equal(t, model.CodeAccessDenied, body.Code)

	f.handler.HandleFrame(ctx, alice, frame(t, model.EventJoinTopic, "", model.JoinTopicPayload{ChatID: 10}))
	f.handler.HandleFrame(ctx, bob, frame(t, model.EventJoinTopic, "", model.JoinTopicPayload{ChatID: 10}))
	f.handler.HandleFrame(ctx, alice, frame(t, model.EventTyping, "", model.TypingPayload{ChatID: 10}))
	f.handler.HandleFrame(ctx, alice, frame(t, model.EventStopTyping, "", model.TypingPayload{ChatID: 10}))

	assert.Len(t, bobConn.Events(model.EventUserTyping), 1)
	assert.Len(t, bobConn.Events(model.EventUserStopTyping), 1)
	assert.Empty(t, aliceConn.Events(model.EventUserTyping))
}

func TestSocketHandler_CallOfferRoutesToRelay(t *testing.T) {
	f := newSocketFixture(t)
	alice, aliceConn := f.connect(t, 1, "a1")
	_, bobConn := f.connect(t, 2, "b1")

	f.handler.HandleFrame(context.Background(), alice, frame(t, model.EventCallOffer, "o1", model.CallOfferPayload{
		To: 2, ChatID: 10, Offer: json.RawMessage(`{"sdp":"v=0"}`), CallType: model.CallTypeAudio,
	}))
	f.relay.Wait()

	assert.True(t, lastAck(t, aliceConn, "o1").OK)
	assert.Len(t, bobConn.Events(model.EventCallOffer), 1)
	f.world.mu.Lock()
	defer f.world.mu.Unlock()
	assert.Len(t, f.world.calls, 1)
}

func TestSocketHandler_PresenceGet(t *testing.T) {
	f := newSocketFixture(t)
	alice, aliceConn := f.connect(t, 1, "a1")
	f.connect(t, 2, "b1")

	f.handler.HandleFrame(context.Background(), alice, frame(t, model.EventPresenceGet, "", nil))

	states := aliceConn.Events(model.EventPresenceState)
	require.Len(t, states, 1)
	var recs []model.PresenceRecord
	require.NoError(t, realtimetest.Decode(states[0], &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, int64(2), recs[0].UserID)
	assert.True(t, recs[0].IsOnline)
}

func TestSocketHandler_MalformedAndUnknown(t *testing.T) {
	f := newSocketFixture(t)
	alice, aliceConn := f.connect(t, 1, "a1")

	f.handler.HandleFrame(context.Background(), alice, model.Frame{Event: model.EventCallOffer, ID: "x", Data: json.RawMessage(`[1,2]`)})
	ack := lastAck(t, aliceConn, "x")
	require.NotNil(t, ack.Error)
	assert.Equal(t, model.CodeValidation, ack.Error.Code)

	f.handler.HandleFrame(context.Background(), alice, model.Frame{Event: "launch-rockets", ID: "y"})
	ack = lastAck(t, aliceConn, "y")
	require.NotNil(t, ack.Error)
	assert.Equal(t, model.CodeValidation, ack.Error.Code)
}
