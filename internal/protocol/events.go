package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/matheus3301/chatsync/internal/model"
)

// Event is one decoded inbound frame. The set of implementations is closed.
type Event interface {
	Source() string
	isEvent()
}

// FriendList is a full conversation list snapshot.
type FriendList []model.Conversation

// FriendNew announces a conversation that was just created.
type FriendNew struct {
	model.Conversation
}

// MessageList is one page of a conversation's history.
type MessageList struct {
	ConnectionID model.ID        `json:"connectionId"`
	Messages     []model.Message `json:"messages"`
	Next         *int            `json:"next"`
}

// MessageSend is the broadcast of a message sent by either party.
type MessageSend struct {
	Friend  model.Conversation `json:"friend"`
	Message model.Message      `json:"message"`
}

// MessageType reports that a peer is typing.
type MessageType struct {
	Username string `json:"username"`
}

// MessageUpdate carries an edited message.
type MessageUpdate struct {
	ConnectionID model.ID      `json:"connectionId"`
	Message      model.Message `json:"message"`
}

// MessageDelete soft-deletes one message.
type MessageDelete struct {
	ConnectionID model.ID `json:"connectionId"`
	MessageID    model.ID `json:"messageId"`
}

// MessageSeen acknowledges count messages of a conversation as read.
type MessageSeen struct {
	ConnectionID model.ID `json:"connectionId"`
	Count        int      `json:"count"`
}

// ReactionAdd upserts a reaction on a message.
type ReactionAdd struct {
	ConnectionID model.ID       `json:"connectionId"`
	MessageID    model.ID       `json:"messageId"`
	Reaction     model.Reaction `json:"reaction"`
}

// RequestList is the pending friend request snapshot.
type RequestList []model.Request

// RequestConnect is a friend request sent by or to the local user.
type RequestConnect struct {
	model.Request
}

// RequestAccept is a friend request that was accepted by either party.
type RequestAccept struct {
	model.Request
}

// SearchResults replaces the transient search results.
type SearchResults []model.SearchResult

// OnlineStatus patches a counterpart's presence.
type OnlineStatus struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// GroupCreated announces a new group channel.
type GroupCreated struct {
	ID      model.ID `json:"id"`
	Name    string   `json:"name"`
	Created string   `json:"created"`
}

// Thumbnail carries the signed-in user's updated profile.
type Thumbnail struct {
	model.Profile
}

// ServerError is a server-side failure report.
type ServerError struct {
	Message string `json:"message"`
}

// InvalidToken reports whether the server rejected the access token.
func (e ServerError) InvalidToken() bool {
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "invalid token") || strings.Contains(msg, "token is invalid") ||
		strings.Contains(msg, "token expired") || strings.Contains(msg, "not authenticated")
}

func (FriendList) Source() string     { return TagFriendList }
func (FriendNew) Source() string      { return TagFriendNew }
func (MessageList) Source() string    { return TagMessageList }
func (MessageSend) Source() string    { return TagMessageSend }
func (MessageType) Source() string    { return TagMessageType }
func (MessageUpdate) Source() string  { return TagMessageUpdate }
func (MessageDelete) Source() string  { return TagMessageDelete }
func (MessageSeen) Source() string    { return TagMessageSeen }
func (ReactionAdd) Source() string    { return TagReactionAdd }
func (RequestList) Source() string    { return TagRequestList }
func (RequestConnect) Source() string { return TagRequestConnect }
func (RequestAccept) Source() string  { return TagRequestAccept }
func (SearchResults) Source() string  { return TagSearch }
func (OnlineStatus) Source() string   { return TagOnlineStatus }
func (GroupCreated) Source() string   { return TagGroupCreated }
func (Thumbnail) Source() string      { return TagThumbnail }
func (ServerError) Source() string    { return TagError }

func (FriendList) isEvent()     {}
func (FriendNew) isEvent()      {}
func (MessageList) isEvent()    {}
func (MessageSend) isEvent()    {}
func (MessageType) isEvent()    {}
func (MessageUpdate) isEvent()  {}
func (MessageDelete) isEvent()  {}
func (MessageSeen) isEvent()    {}
func (ReactionAdd) isEvent()    {}
func (RequestList) isEvent()    {}
func (RequestConnect) isEvent() {}
func (RequestAccept) isEvent()  {}
func (SearchResults) isEvent()  {}
func (OnlineStatus) isEvent()   {}
func (GroupCreated) isEvent()   {}
func (Thumbnail) isEvent()      {}
func (ServerError) isEvent()    {}

// ErrUnknownTag is returned by Decode for a well-formed frame with an unrecognized source.
var ErrUnknownTag = errors.New("unknown source tag")

type envelope struct {
	Source  string          `json:"source"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

var decoders = map[string]func(json.RawMessage) (Event, error){
	TagFriendList:     decodeAs[FriendList],
	TagFriendNew:      decodeAs[FriendNew],
	TagMessageList:    decodeAs[MessageList],
	TagMessageSend:    decodeAs[MessageSend],
	TagMessageType:    decodeAs[MessageType],
	TagMessageUpdate:  decodeAs[MessageUpdate],
	TagMessageDelete:  decodeAs[MessageDelete],
	TagMessageSeen:    decodeAs[MessageSeen],
	TagReactionAdd:    decodeAs[ReactionAdd],
	TagRequestList:    decodeAs[RequestList],
	TagRequestConnect: decodeAs[RequestConnect],
	TagRequestAccept:  decodeAs[RequestAccept],
	TagSearch:         decodeAs[SearchResults],
	TagOnlineStatus:   decodeAs[OnlineStatus],
	TagGroupCreated:   decodeAs[GroupCreated],
	TagThumbnail:      decodeAs[Thumbnail],
}

// Decode parses one inbound frame. A malformed frame, or a payload missing the
// ids needed to apply it, yields an error and no event.
func Decode(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Source == "" {
		return nil, errors.New("decode envelope: missing source")
	}
	if env.Source == TagError {
		return decodeError(env), nil
	}
	dec, ok := decoders[env.Source]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, env.Source)
	}
	if len(env.Data) == 0 {
		env.Data = json.RawMessage("null")
	}
	evt, err := dec(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", env.Source, err)
	}
	if v, ok := evt.(interface{ validate() error }); ok {
		if err := v.validate(); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Source, err)
		}
	}
	return evt, nil
}

func decodeAs[E Event](raw json.RawMessage) (Event, error) {
	var e E
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return e, nil
}

// The error payload shows up as {message}, as a bare string, or at the top level.
func decodeError(env envelope) ServerError {
	var e ServerError
	if err := json.Unmarshal(env.Data, &e); err == nil && e.Message != "" {
		return e
	}
	var s string
	if err := json.Unmarshal(env.Data, &s); err == nil && s != "" {
		return ServerError{Message: s}
	}
	return ServerError{Message: env.Message}
}

func (e MessageList) validate() error {
	if e.ConnectionID == "" {
		return errors.New("missing connectionId")
	}
	return nil
}

func (e MessageSend) validate() error {
	if e.Friend.ID == "" {
		return errors.New("missing friend id")
	}
	if e.Message.ID == "" {
		return errors.New("missing message id")
	}
	return nil
}

func (e MessageUpdate) validate() error {
	if e.ConnectionID == "" || e.Message.ID == "" {
		return errors.New("missing connectionId or message id")
	}
	return nil
}

func (e MessageDelete) validate() error {
	if e.ConnectionID == "" || e.MessageID == "" {
		return errors.New("missing connectionId or messageId")
	}
	return nil
}

func (e MessageSeen) validate() error {
	if e.ConnectionID == "" {
		return errors.New("missing connectionId")
	}
	if e.Count < 0 {
		return fmt.Errorf("negative count %d", e.Count)
	}
	return nil
}

func (e ReactionAdd) validate() error {
	if e.ConnectionID == "" || e.MessageID == "" {
		return errors.New("missing connectionId or messageId")
	}
	if e.Reaction.Emoji == "" || e.Reaction.User == "" {
		return errors.New("reaction needs emoji and user")
	}
	return nil
}

func (e FriendNew) validate() error {
	if e.ID == "" {
		return errors.New("missing id")
	}
	return nil
}

func (e GroupCreated) validate() error {
	if e.ID == "" {
		return errors.New("missing id")
	}
	return nil
}
