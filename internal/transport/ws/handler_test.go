package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatcall_realtime/internal/model"
	"chatcall_realtime/internal/realtime"
	"chatcall_realtime/internal/transport/http/middleware"
)

type recordingPresence struct {
	mu           sync.Mutex
	connected    []int64
	disconnected []int64
}

func (p *recordingPresence) Connected(_ context.Context, userID int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = append(p.connected, userID)
}

func (p *recordingPresence) Disconnected(_ context.Context, userID int64, _ time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = append(p.disconnected, userID)
}

func (p *recordingPresence) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.connected), len(p.disconnected)
}

type recordingFrames struct {
	mu     sync.Mutex
	frames []model.Frame
}

func (r *recordingFrames) HandleFrame(_ context.Context, _ Session, f model.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *recordingFrames) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

type fixture struct {
	srv      *httptest.Server
	hub      *realtime.Hub
	registry *realtime.Registry
	presence *recordingPresence
	frames   *recordingFrames
	handler  *Handler
}

// The test server trusts a ?uid= query in place of a signed token.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	hub := realtime.NewHub(zerolog.Nop())
	f := &fixture{
		hub:      hub,
		registry: realtime.NewRegistry(hub, nil, zerolog.Nop()),
		presence: &recordingPresence{},
		frames:   &recordingFrames{},
	}
	f.handler = NewHandler(f.registry, f.presence, f.frames, 8, zerolog.Nop())
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if uid, err := strconv.ParseInt(r.URL.Query().Get("uid"), 10, 64); err == nil {
			r = r.WithContext(middleware.WithUserID(r.Context(), uid))
		}
		f.handler.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) dial(t *testing.T, uid int64) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?uid=" + strconv.FormatInt(uid, 10)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	return conn
}

func TestHandler_Lifecycle(t *testing.T) {
	f := newFixture(t)

	conn := f.dial(t, 7)
	require.Eventually(t, func() bool { return f.registry.IsOnline(7) }, time.Second, 10*time.Millisecond)
	connected, _ := f.presence.counts()
	assert.Equal(t, 1, connected)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"typing","data":{"chatId":1}}`)))
	assert.Eventually(t, func() bool { return f.frames.len() == 1 }, time.Second, 10*time.Millisecond)

	f.hub.Publish(realtime.UserTopic(7), model.EventPresenceUpdate, model.PresenceRecord{UserID: 8, IsOnline: true})
	var got model.Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, model.EventPresenceUpdate, got.Event)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		_, disconnected := f.presence.counts()
		return disconnected == 1 && !f.registry.IsOnline(7)
	}, time.Second, 10*time.Millisecond)
}

func TestHandler_MalformedFrame(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, 7)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))

	var got model.Frame
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, model.EventError, got.Event)
	assert.Contains(t, string(got.Data), model.CodeValidation)
	assert.Equal(t, 0, f.frames.len())
}

func TestHandler_SecondSessionKeepsUserOnline(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t, 7)
	b := f.dial(t, 7)
	defer b.Close()
	require.Eventually(t, func() bool { return f.registry.SessionCount() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return f.registry.SessionCount() == 1 }, time.Second, 10*time.Millisecond)

	connected, disconnected := f.presence.counts()
	assert.Equal(t, 1, connected)
	assert.Equal(t, 0, disconnected)
	assert.True(t, f.registry.IsOnline(7))
}

func TestHandler_RequiresIdentity(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_CloseAll(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, 7)
	defer conn.Close()
	require.Eventually(t, func() bool { return f.registry.IsOnline(7) }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.handler.CloseAll(ctx))

	assert.False(t, f.registry.IsOnline(7))
	_, disconnected := f.presence.counts()
	assert.Equal(t, 1, disconnected)
}

func TestClient_SendDropsWhenFull(t *testing.T) {
	c := newClient(nil, 1, "s", 1, zerolog.Nop())
	assert.True(t, c.Send([]byte("a")))
	assert.False(t, c.Send([]byte("b")))

	c.Close()
	<-c.send
	assert.False(t, c.Send([]byte("c")))
}
