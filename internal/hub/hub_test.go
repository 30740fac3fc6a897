package hub

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConn struct {
	id     string
	user   string
	mu     sync.Mutex
	sent   [][]byte
	closed bool
	err    error
}

func (m *mockConn) ID() string     { return m.id }
func (m *mockConn) UserID() string { return m.user }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, data)
	return nil
}

func (m *mockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func ids(conns []Conn) []string {
	out := make([]string, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.ID())
	}
	sort.Strings(out)
	return out
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := New(nil)
	c := &mockConn{id: "c1"}

	handle := h.Register(c)
	assert.Equal(t, "c1", handle)
	assert.True(t, h.IsLive(handle))

	got, ok := h.Unregister(handle)
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.False(t, h.IsLive(handle))

	_, ok = h.Unregister(handle)
	assert.False(t, ok, "second unregister is a no-op")
	_, ok = h.Unregister("never-registered")
	assert.False(t, ok)
}

func TestHub_JoinIsIdempotent(t *testing.T) {
	h := New(nil)
	c := &mockConn{id: "c1"}
	h.Register(c)

	require.True(t, h.Join("room", "c1"))
	once := ids(h.MembersOf("room"))
	require.True(t, h.Join("room", "c1"))

	assert.Equal(t, once, ids(h.MembersOf("room")))
	assert.Equal(t, []string{"c1"}, once)
}

func TestHub_JoinRequiresRegistration(t *testing.T) {
	h := New(nil)

	assert.False(t, h.Join("room", "ghost"))
	assert.Empty(t, h.MembersOf("room"))

	rooms, conns := h.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, conns)
}

func TestHub_LeaveNonMemberIsNoop(t *testing.T) {
	h := New(nil)
	a := &mockConn{id: "a"}
	b := &mockConn{id: "b"}
	h.Register(a)
	h.Register(b)
	h.Join("room", "a")

	h.Leave("room", "b")
	h.Leave("other", "a")
	h.Leave("room", "ghost")

	assert.Equal(t, []string{"a"}, ids(h.MembersOf("room")))
}

func TestHub_MultipleRoomsPerConnection(t *testing.T) {
	h := New(nil)
	a := &mockConn{id: "a", user: "42"}
	b := &mockConn{id: "b"}
	h.Register(a)
	h.Register(b)

	h.Join("user_42", "a")
	h.Join("post_7", "a")
	h.Join("post_7", "b")

	assert.Equal(t, []string{"a", "b"}, ids(h.MembersOf("post_7")))
	assert.Equal(t, []string{"a"}, ids(h.MembersOf("user_42")))

	rooms := h.RoomsOf("a")
	sort.Strings(rooms)
	assert.Equal(t, []string{"post_7", "user_42"}, rooms)
}

func TestHub_UnregisterPurgesRooms(t *testing.T) {
	h := New(nil)
	a := &mockConn{id: "a"}
	b := &mockConn{id: "b"}
	h.Register(a)
	h.Register(b)
	h.Join("user_1", "a")
	h.Join("post_7", "a")
	h.Join("post_7", "b")

	h.Unregister("a")

	assert.Empty(t, h.MembersOf("user_1"))
	assert.Equal(t, []string{"b"}, ids(h.MembersOf("post_7")))
	assert.Empty(t, h.RoomsOf("a"))

	rooms, conns := h.Stats()
	assert.Equal(t, 1, rooms, "empty room is garbage-collected")
	assert.Equal(t, 1, conns)
}

func TestHub_LeaveLastMemberDropsRoom(t *testing.T) {
	h := New(nil)
	h.Register(&mockConn{id: "a"})
	h.Join("room", "a")

	h.Leave("room", "a")

	rooms, _ := h.Stats()
	assert.Zero(t, rooms)
}

func TestHub_CloseAll(t *testing.T) {
	h := New(nil)
	a := &mockConn{id: "a"}
	b := &mockConn{id: "b", err: errors.New("dead")}
	h.Register(a)
	h.Register(b)
	h.Join("room", "a")

	assert.Equal(t, 2, h.CloseAll())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Empty(t, h.Connections())
	assert.Empty(t, h.MembersOf("room"))
}

func TestHub_ConcurrentMembership(t *testing.T) {
	h := New(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			h.Register(&mockConn{id: id})
			h.Join("shared", id)
			_ = h.MembersOf("shared")
			if i%2 == 0 {
				h.Unregister(id)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, h.MembersOf("shared"), 25)
	for _, c := range h.MembersOf("shared") {
		assert.True(t, h.IsLive(c.ID()))
	}
}
