// Package notify is the producer side of the fan-out service. Write paths
// call a Notifier after their own work has committed; real-time delivery
// never fails the caller.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-fanout/internal/event"
	"github.com/Tyrowin/gochat-fanout/internal/relay"
)

// Forwarder mirrors events to the external peer. *forward.Forwarder
// satisfies it.
type Forwarder interface {
	Forward(ev event.Event) error
}

// Notifier publishes domain events to the relay and mirrors the public ones
// to the peer.
type Notifier struct {
	pub  relay.Publisher
	peer Forwarder
	log  *zap.Logger
}

// New creates a Notifier. peer may be nil to disable forwarding.
func New(pub relay.Publisher, peer Forwarder, log *zap.Logger) *Notifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{pub: pub, peer: peer, log: log}
}

// Publish hands ev to the relay. Failures are logged, not returned.
func (n *Notifier) Publish(ctx context.Context, ev event.Event) {
	if err := n.pub.Publish(ctx, ev); err != nil {
		n.log.Warn("relay publish failed",
			zap.String("kind", string(ev.Kind)),
			zap.String("room", ev.Room),
			zap.Error(err))
	}
}

// Notify publishes ev and forwards it when its kind is mirrored to the peer.
func (n *Notifier) Notify(ctx context.Context, ev event.Event) {
	n.Publish(ctx, ev)
	if forwarded(ev) {
		n.forward(ev)
	}
}

// ChatMessage delivers msg to the receiver's room and to the sender's room so
// the sender's other connections stay in sync.
func (n *Notifier) ChatMessage(ctx context.Context, msg event.ChatMessage) {
	rooms := participantRooms(msg.SenderID, msg.ReceiverID)
	if len(rooms) == 0 {
		n.log.Warn("chat message without participants, not published")
		return
	}
	for _, room := range rooms {
		n.Publish(ctx, event.New(room, msg))
	}
}

// MessageDeleted tells both participants that a message is gone.
func (n *Notifier) MessageDeleted(ctx context.Context, messageID, senderID, receiverID event.ID) {
	del := event.Delete{MessageID: messageID}
	for _, room := range participantRooms(senderID, receiverID) {
		n.Publish(ctx, event.New(room, del))
	}
}

// Typing tells the receiver that the sender is composing. origin names the
// connection the signal came from; it does not get the event back.
func (n *Notifier) Typing(ctx context.Context, origin string, t event.Typing) {
	room := ""
	if t.ReceiverID != "" {
		room = event.UserRoom(t.ReceiverID)
	}
	n.Notify(ctx, event.New(room, t).WithOrigin(origin))
}

// Comment pushes a new comment to the post's stream.
func (n *Notifier) Comment(ctx context.Context, c event.Comment) {
	n.Notify(ctx, event.New(postRoom(c.PostID), c))
}

// CommentLiked pushes a like on a comment to the post's stream.
func (n *Notifier) CommentLiked(ctx context.Context, l event.Like) {
	n.Notify(ctx, event.New(postRoom(l.PostID), l))
}

// CommentDeleted pushes a comment removal to the post's stream.
func (n *Notifier) CommentDeleted(ctx context.Context, postID, commentID event.ID, user string) {
	n.Notify(ctx, event.New(postRoom(postID), event.Delete{
		CommentID: commentID,
		PostID:    postID,
		User:      user,
	}))
}

func (n *Notifier) forward(ev event.Event) {
	if n.peer == nil {
		return
	}
	if err := n.peer.Forward(ev); err != nil {
		n.log.Debug("event not forwarded", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}

// forwarded reports whether ev is mirrored to the peer. Direct messages and
// message deletions stay private.
func forwarded(ev event.Event) bool {
	switch p := ev.Payload.(type) {
	case event.Typing, event.Comment, event.Like:
		return true
	case event.Delete:
		return p.CommentID != ""
	}
	return false
}

func postRoom(postID event.ID) string {
	if postID == "" {
		return ""
	}
	return event.PostRoom(postID)
}

func participantRooms(senderID, receiverID event.ID) []string {
	rooms := make([]string, 0, 2)
	if receiverID != "" {
		rooms = append(rooms, event.UserRoom(receiverID))
	}
	if senderID != "" && senderID != receiverID {
		rooms = append(rooms, event.UserRoom(senderID))
	}
	return rooms
}
