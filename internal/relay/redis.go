package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-fanout/internal/event"
)

const maxLoggedPayload = 256

// Redis relays events over a Redis Pub/Sub channel so that every process
// subscribed to the channel dispatches them.
type Redis struct {
	client     *redis.Client
	channel    string
	queue      chan []byte
	log        *zap.Logger
	newBackOff func() backoff.BackOff

	healthy    atomic.Bool
	subscribed atomic.Bool
	done       chan struct{}
	closeOnce  sync.Once
	stats      counters
}

// RedisOption customises a Redis relay.
type RedisOption func(*Redis)

// WithBackOff sets the policy used between resubscription attempts.
func WithBackOff(newBackOff func() backoff.BackOff) RedisOption {
	return func(r *Redis) {
		r.newBackOff = newBackOff
	}
}

// NewRedis creates a relay publishing to and subscribing on channel.
func NewRedis(client *redis.Client, channel string, queueSize int, log *zap.Logger, opts ...RedisOption) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	r := &Redis{
		client:     client,
		channel:    channel,
		queue:      make(chan []byte, queueSize),
		log:        log,
		newBackOff: defaultBackOff,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 15 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Publish encodes ev and enqueues it for the publisher loop.
func (r *Redis) Publish(_ context.Context, ev event.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event for %q: %w", ev.Room, err)
	}

	select {
	case <-r.done:
		return ErrClosed
	default:
	}

	select {
	case r.queue <- data:
		return nil
	default:
		r.stats.dropped.Add(1)
		return ErrQueueFull
	}
}

// Run drains the outbound queue into PUBLISH commands until ctx is done.
// A single loop keeps the publish order of this process.
func (r *Redis) Run(ctx context.Context) error {
	defer r.closeOnce.Do(func() { close(r.done) })

	r.log.Info("relay publisher started", zap.String("channel", r.channel))
	for {
		select {
		case <-ctx.Done():
			r.log.Info("relay publisher stopped", zap.Int("pending", len(r.queue)))
			return nil
		case data := <-r.queue:
			if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
				r.stats.publishErrors.Add(1)
				r.log.Warn("relay publish failed", zap.String("channel", r.channel), zap.Error(err))
				continue
			}
			r.stats.published.Add(1)
		}
	}
}

// Subscribe starts the subscription loop. Lost subscriptions are retried
// with backoff while the relay reports itself unhealthy.
func (r *Redis) Subscribe(ctx context.Context) (<-chan event.Event, error) {
	if !r.subscribed.CompareAndSwap(false, true) {
		return nil, ErrAlreadySubscribed
	}

	out := make(chan event.Event, 64)
	go r.subscribeLoop(ctx, out)
	return out, nil
}

// Healthy reports whether the subscription is established.
func (r *Redis) Healthy() bool {
	return r.healthy.Load()
}

// Stats returns the relay counters.
func (r *Redis) Stats() Stats {
	return r.stats.snapshot(r.Healthy())
}

func (r *Redis) subscribeLoop(ctx context.Context, out chan<- event.Event) {
	defer close(out)
	defer r.healthy.Store(false)

	b := r.newBackOff()
	for {
		err := r.receive(ctx, out, b)
		if ctx.Err() != nil {
			return
		}

		r.healthy.Store(false)
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			r.log.Error("relay subscription abandoned", zap.String("channel", r.channel), zap.Error(err))
			return
		}

		r.stats.reconnects.Add(1)
		r.log.Warn("relay subscription lost",
			zap.String("channel", r.channel),
			zap.Duration("retry_in", wait),
			zap.Error(err))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (r *Redis) receive(ctx context.Context, out chan<- event.Event, b backoff.BackOff) error {
	ps := r.client.Subscribe(ctx, r.channel)
	var closeOnce sync.Once
	closePubSub := func() {
		closeOnce.Do(func() {
			if err := ps.Close(); err != nil {
				r.log.Debug("close pubsub", zap.Error(err))
			}
		})
	}
	defer closePubSub()

	// Blocking reads on a PubSub ignore ctx; closing it unblocks them.
	stop := context.AfterFunc(ctx, closePubSub)
	defer stop()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.healthy.Store(true)
	b.Reset()
	r.log.Info("relay subscribed", zap.String("channel", r.channel))

	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			return fmt.Errorf("receive on %s: %w", r.channel, err)
		}
		r.stats.received.Add(1)

		ev, err := event.Decode([]byte(msg.Payload))
		if err != nil {
			r.stats.malformed.Add(1)
			r.log.Warn("dropping relay payload",
				zap.Error(err),
				zap.String("payload", truncate(msg.Payload, maxLoggedPayload)))
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
