package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gochat-fanout/internal/event"
	"github.com/Tyrowin/gochat-fanout/internal/hub"
	"github.com/Tyrowin/gochat-fanout/internal/relay"
)

type mockConn struct {
	id      string
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	sendErr error
}

func (m *mockConn) ID() string     { return m.id }
func (m *mockConn) UserID() string { return "" }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.frames = append(m.frames, data)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) contents(t *testing.T) []string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.frames))
	for _, f := range m.frames {
		var fields map[string]any
		require.NoError(t, json.Unmarshal(f, &fields))
		content, _ := fields["content"].(string)
		out = append(out, content)
	}
	return out
}

func (m *mockConn) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func (m *mockConn) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func chat(room, content string) event.Event {
	return event.New(room, event.ChatMessage{Content: content})
}

func setup(conns ...*mockConn) (*hub.Hub, *Dispatcher) {
	h := hub.New(nil)
	for _, c := range conns {
		h.Register(c)
	}
	return h, New(relay.NewMemory(16), h, nil)
}

func TestDispatch_ResolvesMembershipAtDispatchTime(t *testing.T) {
	a := &mockConn{id: "a"}
	b := &mockConn{id: "b"}
	h, d := setup(a, b)
	h.Join("room", "a")

	ev := chat("room", "hello")

	h.Leave("room", "a")
	h.Join("room", "b")

	assert.Equal(t, 1, d.Dispatch(ev))
	assert.Empty(t, a.contents(t))
	assert.Equal(t, []string{"hello"}, b.contents(t))
}

func TestDispatch_IsolatesFailedPush(t *testing.T) {
	dead := &mockConn{id: "dead", sendErr: hub.ErrClosed}
	live := &mockConn{id: "live"}
	h, d := setup(dead, live)
	h.Join("room", "dead")
	h.Join("room", "live")

	assert.Equal(t, 1, d.Dispatch(chat("room", "still delivered")))

	assert.Equal(t, []string{"still delivered"}, live.contents(t))
	assert.True(t, dead.isClosed())
	assert.False(t, h.IsLive("dead"))
	assert.Len(t, h.MembersOf("room"), 1)
	assert.EqualValues(t, 1, d.Stats().Failed)
}

func TestDispatch_FallbackBroadcastsToAll(t *testing.T) {
	a := &mockConn{id: "a"}
	b := &mockConn{id: "b"}
	h, d := setup(a, b)
	h.Join("user_1", "a")

	assert.Equal(t, 2, d.Dispatch(chat("", "everyone")))
	assert.Equal(t, []string{"everyone"}, a.contents(t))
	assert.Equal(t, []string{"everyone"}, b.contents(t))
	assert.EqualValues(t, 1, d.Stats().Broadcasts)
}

func TestDispatch_SkipsOrigin(t *testing.T) {
	sender := &mockConn{id: "sender"}
	other := &mockConn{id: "other"}
	h, d := setup(sender, other)
	h.Join("user_2", "sender")
	h.Join("user_2", "other")

	ev := event.New("user_2", event.Typing{SenderID: "1"}).WithOrigin("sender")
	assert.Equal(t, 1, d.Dispatch(ev))
	assert.Empty(t, sender.contents(t))
}

func TestDispatch_DisconnectedRoomDeliversToNobody(t *testing.T) {
	a := &mockConn{id: "a"}
	h, d := setup(a)
	h.Join("post_7", "a")
	h.Unregister("a")

	assert.NotPanics(t, func() {
		assert.Zero(t, d.Dispatch(event.New("post_7", event.Comment{ID: "1", Content: "late"})))
	})
	assert.Empty(t, a.contents(t))
}

func TestDispatch_UnencodableEventIsDropped(t *testing.T) {
	a := &mockConn{id: "a"}
	h, d := setup(a)
	h.Join("room", "a")

	assert.Zero(t, d.Dispatch(event.Event{Room: "room"}))
	assert.Empty(t, a.contents(t))
}

func runDispatcher(t *testing.T, src relay.Subscriber, h *hub.Hub) (*Dispatcher, chan error, context.CancelFunc) {
	t.Helper()
	d := New(src, h, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- d.Run(ctx) }()
	t.Cleanup(cancel)
	return d, errc, cancel
}

func TestRun_DeliversInPublishOrder(t *testing.T) {
	a := &mockConn{id: "a"}
	b := &mockConn{id: "b"}
	h := hub.New(nil)
	h.Register(a)
	h.Register(b)
	h.Join("room", "a")
	h.Join("room", "b")

	r := relay.NewMemory(16)
	_, errc, cancel := runDispatcher(t, r, h)

	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, chat("room", "E1")))
	require.NoError(t, r.Publish(ctx, chat("room", "E2")))

	for _, c := range []*mockConn{a, b} {
		require.Eventually(t, func() bool { return c.count() == 2 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, []string{"E1", "E2"}, c.contents(t))
	}

	cancel()
	assert.NoError(t, <-errc)
}

func TestRun_UserRoomScenario(t *testing.T) {
	a := &mockConn{id: "a"}
	h := hub.New(nil)
	h.Register(a)
	h.Join(event.UserRoom("42"), "a")

	r := relay.NewMemory(16)
	runDispatcher(t, r, h)

	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, chat("user_42", "hi")))
	require.NoError(t, r.Publish(ctx, chat("", "unrelated")))

	require.Eventually(t, func() bool { return a.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"hi", "unrelated"}, a.contents(t))
}

type closedFeed struct{}

func (closedFeed) Subscribe(context.Context) (<-chan event.Event, error) {
	ch := make(chan event.Event)
	close(ch)
	return ch, nil
}

type failingFeed struct{ err error }

func (f failingFeed) Subscribe(context.Context) (<-chan event.Event, error) {
	return nil, f.err
}

func TestRun_FeedClosed(t *testing.T) {
	d := New(closedFeed{}, hub.New(nil), nil)
	assert.ErrorIs(t, d.Run(context.Background()), ErrSubscriptionClosed)
	assert.Equal(t, StateIdle, d.State())
}

func TestRun_SubscribeError(t *testing.T) {
	boom := errors.New("boom")
	d := New(failingFeed{err: boom}, hub.New(nil), nil)
	assert.ErrorIs(t, d.Run(context.Background()), boom)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "receiving", StateReceiving.String())
	assert.Equal(t, "resolving", StateResolving.String())
	assert.Equal(t, "pushing", StatePushing.String())
}
