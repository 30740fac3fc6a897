package server

import (
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-fanout/internal/event"
)

// Inbound frame types.
const (
	frameJoin        = "join"
	frameLeave       = "leave"
	frameTyping      = "typing"
	frameSendMessage = "send_message"
	framePing        = "ping"
)

// Reply frame types.
const (
	replyJoined = "joined"
	replyLeft   = "left"
	replyPong   = "pong"
	replyError  = "error"
)

type inboundHeader struct {
	Type string `json:"type"`
	Room string `json:"room"`
}

// replyFrame is written straight to the requesting connection and never goes
// through the relay.
type replyFrame struct {
	Type  string `json:"type"`
	Room  string `json:"room,omitempty"`
	Error string `json:"error,omitempty"`
}

func errorReply(msg string) replyFrame {
	return replyFrame{Type: replyError, Error: msg}
}

func (c *Client) reply(r replyFrame) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.Send(data); err != nil {
		c.log.Debug("reply not queued", zap.String("type", r.Type), zap.Error(err))
	}
}

// handleFrame interprets one inbound client frame.
func (s *Server) handleFrame(c *Client, raw []byte) {
	var hdr inboundHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		c.log.Debug("invalid frame", zap.Error(err))
		c.reply(errorReply("invalid json"))
		return
	}

	switch hdr.Type {
	case frameJoin:
		s.handleJoin(c, hdr.Room)
	case frameLeave:
		s.hub.Leave(hdr.Room, c.id)
		c.reply(replyFrame{Type: replyLeft, Room: hdr.Room})
	case frameTyping:
		s.handleTyping(c, raw)
	case frameSendMessage:
		s.handleSendMessage(c, raw)
	case framePing:
		c.reply(replyFrame{Type: replyPong})
	default:
		c.reply(errorReply("unknown message type"))
	}
}

func (s *Server) handleJoin(c *Client, room string) {
	if room == "" {
		c.reply(errorReply("room is required"))
		return
	}
	if !c.mayJoin(room) {
		c.log.Warn("refused join to another user's room", zap.String("room", room))
		c.reply(errorReply("forbidden room"))
		return
	}
	if !s.hub.Join(room, c.id) {
		return
	}
	c.reply(replyFrame{Type: replyJoined, Room: room})
}

// mayJoin reports whether c may subscribe to room. A user room is private to
// its owner; every other room is open.
func (c *Client) mayJoin(room string) bool {
	if !strings.HasPrefix(room, event.UserRoom("")) {
		return true
	}
	return c.userID != "" && room == event.UserRoom(event.ID(c.userID))
}

func (s *Server) handleTyping(c *Client, raw []byte) {
	var t event.Typing
	if err := json.Unmarshal(raw, &t); err != nil {
		c.reply(errorReply("invalid typing frame"))
		return
	}
	if c.userID != "" {
		t.SenderID = event.ID(c.userID)
	}
	if t.SenderID == "" || t.ReceiverID == "" {
		c.reply(errorReply("typing requires sender and receiver"))
		return
	}
	s.notifier.Typing(c.ctx, c.id, t)
}

func (s *Server) handleSendMessage(c *Client, raw []byte) {
	var msg event.ChatMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.reply(errorReply("invalid message frame"))
		return
	}
	if c.userID != "" {
		msg.SenderID = event.ID(c.userID)
	}
	if msg.Content == "" || msg.ReceiverID == "" {
		c.reply(errorReply("message requires content and receiver_id"))
		return
	}
	if msg.Timestamp == "" {
		msg.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	s.notifier.ChatMessage(c.ctx, msg)
}
