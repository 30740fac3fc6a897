// Package relay decouples event producers from the dispatch loop through a
// publish/subscribe channel. Publishing is a non-blocking enqueue; a single
// subscription per relay feeds the dispatcher.
package relay

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/Tyrowin/gochat-fanout/internal/event"
)

var (
	// ErrQueueFull is returned by Publish when the outbound queue is saturated.
	ErrQueueFull = errors.New("relay: outbound queue full")
	// ErrClosed is returned by Publish after the relay has stopped.
	ErrClosed = errors.New("relay: closed")
	// ErrAlreadySubscribed is returned by a second call to Subscribe.
	ErrAlreadySubscribed = errors.New("relay: already subscribed")
)

// Publisher accepts events from write paths.
type Publisher interface {
	Publish(ctx context.Context, ev event.Event) error
}

// Subscriber provides the ordered event feed consumed by the dispatcher. The
// channel is closed when ctx is done or the subscription is abandoned.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan event.Event, error)
}

// Relay is a complete relay implementation.
type Relay interface {
	Publisher
	Subscriber
	// Run drives background delivery until ctx is done.
	Run(ctx context.Context) error
	// Healthy reports whether the subscription is currently established.
	Healthy() bool
	Stats() Stats
}

// Stats is a snapshot of relay counters.
type Stats struct {
	Healthy       bool   `json:"healthy"`
	Published     uint64 `json:"published"`
	Dropped       uint64 `json:"dropped"`
	PublishErrors uint64 `json:"publish_errors"`
	Received      uint64 `json:"received"`
	Malformed     uint64 `json:"malformed"`
	Reconnects    uint64 `json:"reconnects"`
}

type counters struct {
	published     atomic.Uint64
	dropped       atomic.Uint64
	publishErrors atomic.Uint64
	received      atomic.Uint64
	malformed     atomic.Uint64
	reconnects    atomic.Uint64
}

func (c *counters) snapshot(healthy bool) Stats {
	return Stats{
		Healthy:       healthy,
		Published:     c.published.Load(),
		Dropped:       c.dropped.Load(),
		PublishErrors: c.publishErrors.Load(),
		Received:      c.received.Load(),
		Malformed:     c.malformed.Load(),
		Reconnects:    c.reconnects.Load(),
	}
}
