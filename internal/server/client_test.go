package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-fanout/internal/config"
	"github.com/Tyrowin/gochat-fanout/internal/hub"
)

func bareClient(buffer int) *Client {
	return &Client{
		id:   "c1",
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
		log:  zap.NewNop(),
	}
}

func TestClientSendNeverBlocks(t *testing.T) {
	c := bareClient(1)

	assert.NoError(t, c.Send([]byte("a")))
	assert.ErrorIs(t, c.Send([]byte("b")), ErrSendBufferFull)

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.ErrorIs(t, c.Send([]byte("c")), hub.ErrClosed)
}

func TestClientMayJoin(t *testing.T) {
	anon := bareClient(1)
	user := bareClient(1)
	user.userID = "5"

	tests := []struct {
		name   string
		client *Client
		room   string
		want   bool
	}{
		{"anonymous public room", anon, "lobby", true},
		{"anonymous post room", anon, "post_7", true},
		{"anonymous user room", anon, "user_5", false},
		{"own user room", user, "user_5", true},
		{"foreign user room", user, "user_6", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.client.mayJoin(tt.room))
		})
	}
}

func TestNewLimiter(t *testing.T) {
	l := newLimiter(config.RateLimitConfig{Burst: 3, RefillInterval: time.Hour})
	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow())
	}
	assert.False(t, l.Allow())

	fallback := newLimiter(config.RateLimitConfig{})
	assert.Equal(t, 1, fallback.Burst())
}

func TestOriginPolicy(t *testing.T) {
	request := func(origin string) *http.Request {
		r, _ := http.NewRequest(http.MethodGet, "/ws", http.NoBody)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	p := newOriginPolicy([]string{" HTTP://Example.com ", "not-a-url", ""}, zap.NewNop())

	assert.True(t, p.allows(request("http://example.com")))
	assert.True(t, p.allows(request("http://EXAMPLE.com/path")))
	assert.False(t, p.allows(request("https://example.com")))
	assert.False(t, p.allows(request("")))
	assert.False(t, p.checkOrigin(request("http://other.com")))

	all := newOriginPolicy([]string{"*"}, zap.NewNop())
	assert.True(t, all.allows(request("http://anything.test")))
	assert.False(t, all.allows(request("")))
}
