// Package dispatch runs the background loop that resolves relay events to
// room members and pushes them to live connections.
package dispatch

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-fanout/internal/event"
	"github.com/Tyrowin/gochat-fanout/internal/hub"
	"github.com/Tyrowin/gochat-fanout/internal/relay"
)

// ErrSubscriptionClosed is returned by Run when the relay feed ends while the
// dispatcher is still meant to be running.
var ErrSubscriptionClosed = errors.New("dispatch: relay subscription closed")

// State is the position of the dispatch loop.
type State int32

const (
	StateIdle State = iota
	StateReceiving
	StateResolving
	StatePushing
)

func (s State) String() string {
	switch s {
	case StateReceiving:
		return "receiving"
	case StateResolving:
		return "resolving"
	case StatePushing:
		return "pushing"
	}
	return "idle"
}

// Targets resolves event targets. *hub.Hub satisfies it.
type Targets interface {
	MembersOf(room string) []hub.Conn
	Connections() []hub.Conn
	Unregister(handle string) (hub.Conn, bool)
}

// Stats is a snapshot of dispatcher counters.
type Stats struct {
	State      string `json:"state"`
	Events     uint64 `json:"events"`
	Broadcasts uint64 `json:"broadcasts"`
	Pushed     uint64 `json:"pushed"`
	Failed     uint64 `json:"failed"`
}

// Dispatcher consumes one relay subscription.
type Dispatcher struct {
	source  relay.Subscriber
	targets Targets
	log     *zap.Logger

	state      atomic.Int32
	events     atomic.Uint64
	broadcasts atomic.Uint64
	pushed     atomic.Uint64
	failed     atomic.Uint64
}

// New creates a Dispatcher reading from source and delivering to targets.
func New(source relay.Subscriber, targets Targets, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{source: source, targets: targets, log: log}
}

// Run subscribes and dispatches events until ctx is done. It returns nil on
// cancellation and ErrSubscriptionClosed if the feed ends first.
func (d *Dispatcher) Run(ctx context.Context) error {
	events, err := d.source.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer d.setState(StateIdle)

	d.log.Info("dispatcher started")
	for {
		d.setState(StateReceiving)
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopped")
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				d.log.Error("relay subscription closed")
				return ErrSubscriptionClosed
			}
			d.Dispatch(ev)
		}
	}
}

// Dispatch delivers ev to the connections that are members of its room at
// this moment, or to every connection when the event has no room. A failed
// push unregisters and closes that connection without affecting the others.
// It returns the number of successful pushes.
func (d *Dispatcher) Dispatch(ev event.Event) int {
	d.events.Add(1)

	d.setState(StateResolving)
	frame, err := ev.Frame()
	if err != nil {
		d.log.Warn("dropping unencodable event", zap.String("room", ev.Room), zap.Error(err))
		d.setState(StateIdle)
		return 0
	}

	var targets []hub.Conn
	if ev.Room == "" {
		d.broadcasts.Add(1)
		targets = d.targets.Connections()
		d.log.Warn("event without room, broadcasting to all connections",
			zap.String("kind", string(ev.Kind)),
			zap.Int("targets", len(targets)))
	} else {
		targets = d.targets.MembersOf(ev.Room)
	}

	d.setState(StatePushing)
	delivered := 0
	for _, conn := range targets {
		if ev.Origin != "" && conn.ID() == ev.Origin {
			continue
		}
		if err := conn.Send(frame); err != nil {
			d.drop(conn, err)
			continue
		}
		delivered++
	}
	d.pushed.Add(uint64(delivered))

	d.log.Debug("event dispatched",
		zap.String("kind", string(ev.Kind)),
		zap.String("room", ev.Room),
		zap.Int("delivered", delivered))
	d.setState(StateIdle)
	return delivered
}

func (d *Dispatcher) drop(conn hub.Conn, cause error) {
	d.failed.Add(1)
	d.log.Info("push failed, dropping connection", zap.String("conn", conn.ID()), zap.Error(cause))

	if _, ok := d.targets.Unregister(conn.ID()); !ok {
		return
	}
	if err := conn.Close(); err != nil {
		d.log.Debug("close dropped connection", zap.String("conn", conn.ID()), zap.Error(err))
	}
}

// State returns the current loop state.
func (d *Dispatcher) State() State {
	return State(d.state.Load())
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		State:      d.State().String(),
		Events:     d.events.Load(),
		Broadcasts: d.broadcasts.Load(),
		Pushed:     d.pushed.Load(),
		Failed:     d.failed.Load(),
	}
}

func (d *Dispatcher) setState(s State) {
	d.state.Store(int32(s))
}
