package model

import "time"

// MessageType is the payload kind of a message.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeVideo MessageType = "video"
	TypeFile  MessageType = "file"
)

// SearchStatus describes the relation between the local user and a search hit.
type SearchStatus string

const (
	StatusNoConnection SearchStatus = "no-connection"
	StatusPendingThem  SearchStatus = "pending-them"
	StatusPendingMe    SearchStatus = "pending-me"
	StatusConnected    SearchStatus = "connected"
)

// Profile is the public identity of a user: the counterpart of a conversation,
// a request party, a search hit, or the signed-in user.
type Profile struct {
	Username  string `json:"username"`
	Name      string `json:"name"`
	Thumbnail string `json:"thumbnail,omitempty"`
	Online    bool   `json:"online,omitempty"`
}

// Conversation is one entry of the friend list: a 1:1 connection or a group.
type Conversation struct {
	ID      ID      `json:"id"`
	Friend  Profile `json:"friend"`
	Preview string  `json:"preview"`
	Updated string  `json:"updated"`
	Unread  int     `json:"unread"`
	Blocked bool    `json:"blocked,omitempty"`
	IsGroup bool    `json:"is_group,omitempty"`
}

// UpdatedAt returns the ordering timestamp, epoch when malformed.
func (c Conversation) UpdatedAt() time.Time {
	return ParseTime(c.Updated)
}

// Reaction is one emoji reaction on a message.
type Reaction struct {
	ID      ID     `json:"id"`
	Emoji   string `json:"emoji"`
	User    string `json:"user"`
	Created string `json:"created,omitempty"`
}

// Key identifies a reaction for upserts: one reaction per emoji and user.
func (r Reaction) Key() string {
	return r.Emoji + "\x00" + r.User
}

// Reply references the message being answered.
type Reply struct {
	ID   ID     `json:"id"`
	Text string `json:"text,omitempty"`
}

// Message belongs to exactly one conversation.
type Message struct {
	ID        ID          `json:"id"`
	IsMe      bool        `json:"is_me"`
	Text      string      `json:"text"`
	Type      MessageType `json:"type,omitempty"`
	Created   string      `json:"created"`
	Deleted   bool        `json:"deleted,omitempty"`
	Reactions []Reaction  `json:"reactions,omitempty"`
	RepliedTo *Reply      `json:"replied_to,omitempty"`
	File      string      `json:"file,omitempty"`
	Pending   bool        `json:"pending,omitempty"`
}

// CreatedAt returns the creation time, epoch when malformed.
func (m Message) CreatedAt() time.Time {
	return ParseTime(m.Created)
}

// Request is a friend request between two users.
type Request struct {
	ID       ID      `json:"id"`
	Sender   Profile `json:"sender"`
	Receiver Profile `json:"receiver"`
	Created  string  `json:"created,omitempty"`
	Accepted bool    `json:"accepted,omitempty"`
}

// SearchResult is a user found by a search, tagged with the relation status.
type SearchResult struct {
	Profile
	Status SearchStatus `json:"status"`
}

// Tokens holds the bearer credentials issued by the HTTP side-channel.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Credentials are the sign-in credentials kept for re-authentication.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
