// Package forward mirrors event summaries to a peer realtime service over a
// websocket. Delivery is best effort: a message that cannot be queued or
// written is dropped and counted.
package forward

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-fanout/internal/event"
)

const (
	defaultQueueSize = 256
	handshakeTimeout = 5 * time.Second
	writeWait        = 10 * time.Second
)

// ErrDisabled is returned by Forward when no peer URL is configured.
var ErrDisabled = errors.New("forward: no peer configured")

// ErrQueueFull is returned by Forward when the outbound queue is full.
var ErrQueueFull = errors.New("forward: queue full")

// Stats is a snapshot of forwarder counters.
type Stats struct {
	Enabled   bool   `json:"enabled"`
	Connected bool   `json:"connected"`
	Forwarded uint64 `json:"forwarded"`
	Dropped   uint64 `json:"dropped"`
	Failures  uint64 `json:"failures"`
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithDialer replaces the websocket dialer used to reach the peer.
func WithDialer(d *websocket.Dialer) Option {
	return func(f *Forwarder) { f.dialer = d }
}

// WithHeader sets headers sent on the peer handshake.
func WithHeader(h http.Header) Option {
	return func(f *Forwarder) { f.header = h }
}

// Forwarder owns a single writer goroutine and a lazily dialed peer connection.
type Forwarder struct {
	url    string
	dialer *websocket.Dialer
	header http.Header
	queue  chan event.Summary
	log    *zap.Logger

	connected atomic.Bool
	forwarded atomic.Uint64
	dropped   atomic.Uint64
	failures  atomic.Uint64
}

// New creates a Forwarder for peerURL. An empty peerURL yields a disabled
// forwarder whose Forward calls return ErrDisabled.
func New(peerURL string, queueSize int, log *zap.Logger, opts ...Option) *Forwarder {
	if log == nil {
		log = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	f := &Forwarder{
		url:    peerURL,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		queue:  make(chan event.Summary, queueSize),
		log:    log.With(zap.String("peer", peerURL)),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Enabled reports whether a peer is configured.
func (f *Forwarder) Enabled() bool {
	return f.url != ""
}

// Forward queues the summary of ev for the peer. It never blocks.
func (f *Forwarder) Forward(ev event.Event) error {
	if !f.Enabled() {
		return ErrDisabled
	}
	select {
	case f.queue <- ev.Summary():
		return nil
	default:
		f.dropped.Add(1)
		f.log.Warn("forward queue full, dropping message", zap.String("kind", string(ev.Kind)))
		return ErrQueueFull
	}
}

// peerConn is a dialed peer connection. dead is closed once the reader
// goroutine sees the connection end.
type peerConn struct {
	ws   *websocket.Conn
	dead chan struct{}
}

// alive reports whether the peer has not closed the connection.
func (p *peerConn) alive() bool {
	select {
	case <-p.dead:
		return false
	default:
		return true
	}
}

// Run writes queued summaries to the peer until ctx is done. The connection
// is dialed on first use and redialed after the peer closes it or a write
// fails.
func (f *Forwarder) Run(ctx context.Context) error {
	if !f.Enabled() {
		<-ctx.Done()
		return nil
	}

	var peer *peerConn
	var dead <-chan struct{}
	drop := func() {
		f.closeConn(peer.ws)
		peer, dead = nil, nil
	}
	defer func() {
		if peer != nil {
			drop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-dead:
			f.log.Info("peer closed connection")
			drop()
		case msg := <-f.queue:
			if peer != nil && !peer.alive() {
				f.log.Info("peer closed connection")
				drop()
			}
			if peer == nil {
				p, err := f.dial(ctx)
				if err != nil {
					f.failures.Add(1)
					f.dropped.Add(1)
					f.log.Warn("peer unreachable, dropping message", zap.Error(err))
					continue
				}
				peer, dead = p, p.dead
			}

			if err := f.write(peer.ws, msg); err != nil {
				f.failures.Add(1)
				f.dropped.Add(1)
				f.log.Warn("peer write failed, dropping message", zap.Error(err))
				drop()
				continue
			}
			f.forwarded.Add(1)
		}
	}
}

func (f *Forwarder) dial(ctx context.Context) (*peerConn, error) {
	conn, resp, err := f.dialer.DialContext(ctx, f.url, f.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	f.connected.Store(true)
	f.log.Info("connected to peer")

	p := &peerConn{ws: conn, dead: make(chan struct{})}
	go discardReads(p)
	return p, nil
}

// discardReads keeps control frames flowing. Pings and close frames from the
// peer are only handled while reading.
func discardReads(p *peerConn) {
	defer close(p.dead)
	for {
		if _, _, err := p.ws.NextReader(); err != nil {
			return
		}
	}
}

func (f *Forwarder) write(conn *websocket.Conn, msg event.Summary) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

func (f *Forwarder) closeConn(conn *websocket.Conn) {
	f.connected.Store(false)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	if err := conn.Close(); err != nil {
		f.log.Debug("close peer connection", zap.Error(err))
	}
}

// Stats returns the forwarder counters.
func (f *Forwarder) Stats() Stats {
	return Stats{
		Enabled:   f.Enabled(),
		Connected: f.connected.Load(),
		Forwarded: f.forwarded.Load(),
		Dropped:   f.dropped.Load(),
		Failures:  f.failures.Load(),
	}
}
