// Package event defines the tagged-variant events carried by the relay and
// pushed to live connections, together with their flat JSON wire format.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind tags the payload carried by an Event.
type Kind string

const (
	KindMessage Kind = "message"
	KindTyping  Kind = "typing"
	KindDelete  Kind = "delete"
	KindComment Kind = "comment"
	KindLike    Kind = "like"
)

var (
	// ErrMalformed is returned when a payload cannot be decoded or fails validation.
	ErrMalformed = errors.New("event: malformed payload")
	// ErrUnknownKind is returned when the type tag names no known payload.
	ErrUnknownKind = errors.New("event: unknown kind")
	// ErrMissingPayload is returned when encoding an Event without a payload.
	ErrMissingPayload = errors.New("event: missing payload")
)

// Payload is implemented by the typed body of each Kind. The set is closed:
// only the types in this package satisfy it.
type Payload interface {
	Kind() Kind
	Summary() Summary
	validate() error
}

// Summary is the compact form mirrored to the external peer.
type Summary struct {
	User string `json:"user"`
	Msg  string `json:"msg"`
}

// Event is an immutable payload addressed to one room. An empty Room means
// the event is addressed to every live connection. Origin optionally names
// the connection that caused the event so it can be skipped on delivery.
type Event struct {
	Kind    Kind
	Room    string
	Origin  string
	Payload Payload
}

// New builds an Event for room with the kind taken from the payload.
func New(room string, p Payload) Event {
	return Event{Kind: p.Kind(), Room: room, Payload: p}
}

// WithOrigin returns a copy of e that will not be pushed back to the
// connection identified by origin.
func (e Event) WithOrigin(origin string) Event {
	e.Origin = origin
	return e
}

// WithRoom returns a copy of e addressed to room.
func (e Event) WithRoom(room string) Event {
	e.Room = room
	return e
}

// Summary returns the peer summary of the payload.
func (e Event) Summary() Summary {
	if e.Payload == nil {
		return Summary{}
	}
	return e.Payload.Summary()
}

type header struct {
	Type   Kind   `json:"type"`
	Room   string `json:"room"`
	Origin string `json:"origin"`
}

// Decode parses a relay payload. A missing type tag is read as a chat
// message, which is what write paths publish when they omit it.
func Decode(data []byte) (Event, error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	kind := h.Type
	if kind == "" {
		kind = KindMessage
	}

	p, err := decodePayload(kind, data)
	if err != nil {
		return Event{}, err
	}

	return Event{Kind: kind, Room: h.Room, Origin: h.Origin, Payload: p}, nil
}

func decodePayload(kind Kind, data []byte) (Payload, error) {
	switch kind {
	case KindMessage:
		return decodeAs[ChatMessage](data)
	case KindTyping:
		return decodeAs[Typing](data)
	case KindDelete:
		return decodeAs[Delete](data)
	case KindComment:
		return decodeAs[Comment](data)
	case KindLike:
		return decodeAs[Like](data)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

func decodeAs[T Payload](data []byte) (Payload, error) {
	var p T
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return p, nil
}

// MarshalJSON writes the flat wire form: the payload fields plus type, room
// and origin at the top level.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, ErrMissingPayload
	}

	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Payload.Kind(), err)
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", e.Payload.Kind(), err)
	}

	fields["type"], _ = json.Marshal(e.Payload.Kind())
	if e.Room != "" {
		fields["room"], _ = json.Marshal(e.Room)
	}
	if e.Origin != "" {
		fields["origin"], _ = json.Marshal(e.Origin)
	}
	return json.Marshal(fields)
}

// UnmarshalJSON is Decode for use with encoding/json.
func (e *Event) UnmarshalJSON(data []byte) error {
	ev, err := Decode(data)
	if err != nil {
		return err
	}
	*e = ev
	return nil
}

// Frame encodes e as sent to clients, without the origin connection.
func (e Event) Frame() ([]byte, error) {
	e.Origin = ""
	return json.Marshal(e)
}
