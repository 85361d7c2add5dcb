package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/matheus3301/chatsync/internal/model"
)

// Command is one outbound frame. The set of implementations is closed.
type Command interface {
	Source() string
	isCommand()
}

// ListRequests asks for the pending friend requests.
type ListRequests struct{}

// ListFriends asks for the conversation list snapshot.
type ListFriends struct{}

// QueryOnlineStatus asks for the presence of every counterpart.
type QueryOnlineStatus struct{}

// ListMessages asks for one history page of a conversation.
type ListMessages struct {
	ConnectionID model.ID `json:"connectionId"`
	Page         int      `json:"page"`
}

// SendMessage posts a message to a conversation.
type SendMessage struct {
	ConnectionID model.ID          `json:"connectionId"`
	Message      string            `json:"message"`
	Type         model.MessageType `json:"type"`
	RepliedTo    *model.ID         `json:"replied_to"`
	IsGroup      bool              `json:"isGroup"`
	Incognito    bool              `json:"incognito"`
	Disappearing bool              `json:"disappearing"`
	File         string            `json:"file,omitempty"`
}

// Typing tells a counterpart the local user is typing.
type Typing struct {
	Username string `json:"username"`
}

// AcceptRequest accepts a friend request from username.
type AcceptRequest struct {
	Username string `json:"username"`
}

// ConnectRequest sends a friend request to username.
type ConnectRequest struct {
	Username string `json:"username"`
}

// CreateGroup creates a group channel.
type CreateGroup struct {
	Name string `json:"name"`
}

// SearchUsers runs a user search.
type SearchUsers struct {
	Query string `json:"query"`
}

// UpdateThumbnail points the profile picture at an uploaded file.
type UpdateThumbnail struct {
	FileURL string `json:"fileUrl"`
}

// MarkSeen acknowledges count messages of a conversation as read.
type MarkSeen struct {
	ConnectionID model.ID `json:"connectionId"`
	Count        int      `json:"count"`
}

// UpdateMessage edits the text of one of the local user's messages.
type UpdateMessage struct {
	ConnectionID model.ID `json:"connectionId"`
	MessageID    model.ID `json:"messageId"`
	Message      string   `json:"message"`
}

// DeleteMessage soft-deletes one of the local user's messages.
type DeleteMessage struct {
	ConnectionID model.ID `json:"connectionId"`
	MessageID    model.ID `json:"messageId"`
}

// AddReaction reacts to a message.
type AddReaction struct {
	ConnectionID model.ID `json:"connectionId"`
	MessageID    model.ID `json:"messageId"`
	Emoji        string   `json:"emoji"`
}

func (ListRequests) Source() string      { return TagRequestList }
func (ListFriends) Source() string       { return TagFriendList }
func (QueryOnlineStatus) Source() string { return TagOnlineStatus }
func (ListMessages) Source() string      { return TagMessageList }
func (SendMessage) Source() string       { return TagMessageSend }
func (Typing) Source() string            { return TagMessageType }
func (AcceptRequest) Source() string     { return TagRequestAccept }
func (ConnectRequest) Source() string    { return TagRequestConnect }
func (CreateGroup) Source() string       { return TagGroupsCreate }
func (SearchUsers) Source() string       { return TagSearch }
func (UpdateThumbnail) Source() string   { return TagThumbnail }
func (MarkSeen) Source() string          { return TagMessageSeen }
func (UpdateMessage) Source() string     { return TagMessageUpdate }
func (DeleteMessage) Source() string     { return TagMessageDelete }
func (AddReaction) Source() string       { return TagReactionAdd }

func (ListRequests) isCommand()      {}
func (ListFriends) isCommand()       {}
func (QueryOnlineStatus) isCommand() {}
func (ListMessages) isCommand()      {}
func (SendMessage) isCommand()       {}
func (Typing) isCommand()            {}
func (AcceptRequest) isCommand()     {}
func (ConnectRequest) isCommand()    {}
func (CreateGroup) isCommand()       {}
func (SearchUsers) isCommand()       {}
func (UpdateThumbnail) isCommand()   {}
func (MarkSeen) isCommand()          {}
func (UpdateMessage) isCommand()     {}
func (DeleteMessage) isCommand()     {}
func (AddReaction) isCommand()       {}

// Resync is the batch sent right after a connection opens.
func Resync() []Command {
	return []Command{ListRequests{}, ListFriends{}, QueryOnlineStatus{}}
}

// Encode renders cmd as a flat envelope: {"source": <tag>, ...params}.
func Encode(cmd Command) ([]byte, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Source(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Source(), err)
	}
	tag, _ := json.Marshal(cmd.Source())
	fields["source"] = tag
	return json.Marshal(fields)
}
