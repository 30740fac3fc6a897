package relay

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Tyrowin/gochat-fanout/internal/event"
)

// Memory is an in-process relay for single-process deployments.
type Memory struct {
	queue      chan event.Event
	subscribed atomic.Bool
	done       chan struct{}
	closeOnce  sync.Once
	stats      counters
}

// NewMemory creates a relay buffering up to size events.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 1
	}
	return &Memory{
		queue: make(chan event.Event, size),
		done:  make(chan struct{}),
	}
}

// Publish enqueues ev without blocking.
func (m *Memory) Publish(_ context.Context, ev event.Event) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	select {
	case m.queue <- ev:
		m.stats.published.Add(1)
		return nil
	default:
		m.stats.dropped.Add(1)
		return ErrQueueFull
	}
}

// Subscribe returns the feed of published events.
func (m *Memory) Subscribe(ctx context.Context) (<-chan event.Event, error) {
	if !m.subscribed.CompareAndSwap(false, true) {
		return nil, ErrAlreadySubscribed
	}

	out := make(chan event.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.done:
				return
			case ev := <-m.queue:
				m.stats.received.Add(1)
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Run blocks until ctx is done and then closes the relay.
func (m *Memory) Run(ctx context.Context) error {
	<-ctx.Done()
	m.Close()
	return nil
}

// Close stops the relay; later publishes fail with ErrClosed.
func (m *Memory) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// Healthy reports whether the relay is open.
func (m *Memory) Healthy() bool {
	select {
	case <-m.done:
		return false
	default:
		return true
	}
}

// Stats returns the relay counters.
func (m *Memory) Stats() Stats {
	return m.stats.snapshot(m.Healthy())
}
