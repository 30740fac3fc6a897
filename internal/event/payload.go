package event

import (
	"encoding/json"
	"errors"
	"strconv"
)

// ID is an entity identifier that accepts both JSON numbers and strings.
// IDs in canonical decimal form are written back as numbers; anything else,
// such as "007", stays a string.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// String returns the identifier as text.
func (id ID) String() string { return string(id) }

// UserRoom is the room a user's connections are auto-joined to.
func UserRoom(userID ID) string { return "user_" + string(userID) }

// PostRoom is the room carrying the comment stream of a post.
func PostRoom(postID ID) string { return "post_" + string(postID) }

// ChatMessage is a persisted direct message.
type ChatMessage struct {
	Content            string `json:"content"`
	SenderID           ID     `json:"sender_id,omitempty"`
	ReceiverID         ID     `json:"receiver_id,omitempty"`
	Timestamp          string `json:"timestamp,omitempty"`
	MessageID          ID     `json:"message_id,omitempty"`
	SenderNickname     string `json:"sender_nickname,omitempty"`
	SenderProfileImage string `json:"sender_profile_image,omitempty"`
}

func (ChatMessage) Kind() Kind { return KindMessage }

func (m ChatMessage) Summary() Summary {
	user := m.SenderNickname
	if user == "" {
		user = m.SenderID.String()
	}
	return Summary{User: user, Msg: m.Content}
}

func (m ChatMessage) validate() error {
	if m.Content == "" {
		return errors.New("message content is empty")
	}
	return nil
}

// Typing signals that SenderID is composing a message to ReceiverID.
type Typing struct {
	SenderID   ID `json:"senderId"`
	ReceiverID ID `json:"receiverId,omitempty"`
}

func (Typing) Kind() Kind { return KindTyping }

func (t Typing) Summary() Summary {
	return Summary{User: t.SenderID.String(), Msg: "typing..."}
}

func (t Typing) validate() error {
	if t.SenderID == "" {
		return errors.New("typing sender is empty")
	}
	return nil
}

// Delete announces the removal of a message or a comment.
type Delete struct {
	MessageID ID     `json:"message_id,omitempty"`
	CommentID ID     `json:"comment_id,omitempty"`
	PostID    ID     `json:"post_id,omitempty"`
	User      string `json:"user,omitempty"`
}

func (Delete) Kind() Kind { return KindDelete }

func (d Delete) Summary() Summary {
	if d.CommentID != "" {
		return Summary{User: d.User, Msg: "deleted comment " + d.CommentID.String()}
	}
	return Summary{User: d.User, Msg: "deleted message " + d.MessageID.String()}
}

func (d Delete) validate() error {
	if d.MessageID == "" && d.CommentID == "" {
		return errors.New("delete names neither a message nor a comment")
	}
	return nil
}

// Comment is a comment added to a post.
type Comment struct {
	ID               ID     `json:"id"`
	PostID           ID     `json:"post_id,omitempty"`
	UserName         string `json:"user_name,omitempty"`
	UserProfileImage string `json:"user_profile_image,omitempty"`
	Content          string `json:"content"`
	UserID           ID     `json:"user_id,omitempty"`
	CreatedAt        string `json:"created_at,omitempty"`
}

func (Comment) Kind() Kind { return KindComment }

func (c Comment) Summary() Summary {
	user := c.UserName
	if user == "" {
		user = "anonymous"
	}
	return Summary{User: user, Msg: c.Content}
}

func (c Comment) validate() error {
	if c.ID == "" && c.Content == "" {
		return errors.New("comment has neither id nor content")
	}
	return nil
}

// Like announces a like on a comment.
type Like struct {
	CommentID ID     `json:"comment_id"`
	PostID    ID     `json:"post_id,omitempty"`
	User      string `json:"user,omitempty"`
	Likes     int    `json:"likes"`
}

func (Like) Kind() Kind { return KindLike }

func (l Like) Summary() Summary {
	return Summary{User: l.User, Msg: "liked comment " + l.CommentID.String()}
}

func (l Like) validate() error {
	if l.CommentID == "" {
		return errors.New("like has no comment id")
	}
	return nil
}
