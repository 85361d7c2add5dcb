package sync

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/protocol"
)

var (
	ErrUnknownConversation = errors.New("unknown conversation")
	ErrUnknownMessage      = errors.New("unknown message")
	ErrNotOwner            = errors.New("message was not sent by the local user")
	ErrPending             = errors.New("message is not confirmed yet")
	ErrEmptyMessage        = errors.New("message has no text or file")
)

// SendOptions are the optional parts of an outgoing message.
type SendOptions struct {
	Type         model.MessageType
	RepliedTo    model.ID
	File         string
	Incognito    bool
	Disappearing bool
}

// The user actions below mutate under the engine lock and hand their command
// to the transport before releasing it, so commands leave in commit order.

// OpenConversation makes id the active conversation: its unread counter drops
// to zero, the server is told the messages were seen, and the first history
// page is requested.
func (e *Engine) OpenConversation(id model.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.conversationIndex(id) < 0 {
		return fmt.Errorf("open %s: %w", id, ErrUnknownConversation)
	}
	unread := e.state.Unread[id]
	s := e.state
	s.Active = id
	s.TypingAt = time.Time{}
	s = s.withUnread(id, 0)
	e.commit(s, Effects{FriendList: unread > 0})

	e.send(protocol.ListMessages{ConnectionID: id, Page: 1})
	if unread > 0 {
		e.send(protocol.MarkSeen{ConnectionID: id, Count: unread})
	}
	e.changed("open")
	return nil
}

// CloseConversation clears the active conversation.
func (e *Engine) CloseConversation() {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state
	s.Active = ""
	s.TypingAt = time.Time{}
	e.commit(s, Effects{})
	e.changed("close")
}

// Send inserts a placeholder at the head of the conversation's history and
// sends the message. The placeholder is replaced when the server echoes it.
func (e *Engine) Send(id model.ID, text string, opts SendOptions) (model.Message, error) {
	if strings.TrimSpace(text) == "" && opts.File == "" {
		return model.Message{}, ErrEmptyMessage
	}
	if opts.Type == "" {
		opts.Type = model.TypeText
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ci := e.state.conversationIndex(id)
	if ci < 0 {
		return model.Message{}, fmt.Errorf("send to %s: %w", id, ErrUnknownConversation)
	}
	conv := e.state.Conversations[ci]

	placeholder := model.Message{
		ID:      model.NewTempID(),
		IsMe:    true,
		Text:    text,
		Type:    opts.Type,
		Created: model.FormatTime(e.now()),
		File:    opts.File,
		Pending: true,
	}
	var replyTo *model.ID
	if opts.RepliedTo != "" {
		ref := opts.RepliedTo
		replyTo = &ref
		placeholder.RepliedTo = &model.Reply{ID: ref}
	}

	history := append([]model.Message{placeholder}, e.state.Messages[id]...)
	s := e.state.withHistory(id, history)
	conv.Preview = previewOf(placeholder)
	conv.Updated = placeholder.Created
	s = s.withConversationAtHead(conv)
	e.commit(s, Effects{FriendList: true, Histories: []model.ID{id}})

	e.send(protocol.SendMessage{
		ConnectionID: id,
		Message:      text,
		Type:         opts.Type,
		RepliedTo:    replyTo,
		IsGroup:      conv.IsGroup,
		Incognito:    opts.Incognito,
		Disappearing: opts.Disappearing,
		File:         opts.File,
	})
	e.changed(protocol.TagMessageSend)
	return placeholder, nil
}

// LoadMore requests the next history page, reporting false when there is none.
func (e *Engine) LoadMore(id model.ID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	page, ok := e.state.NextPage[id]
	if !ok {
		return false
	}
	e.send(protocol.ListMessages{ConnectionID: id, Page: page})
	return true
}

// MarkSeen acknowledges count messages of a conversation.
func (e *Engine) MarkSeen(id model.ID, count int) error {
	if count <= 0 {
		return nil
	}
	evt := protocol.MessageSeen{ConnectionID: id, Count: count}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.conversationIndex(id) < 0 {
		return fmt.Errorf("mark seen %s: %w", id, ErrUnknownConversation)
	}
	s, fx := reduceMessageSeen(e.state, evt, e.env())
	e.commit(s, fx)
	e.send(protocol.MarkSeen{ConnectionID: id, Count: count})
	e.changed(protocol.TagMessageSeen)
	return nil
}

// Typing tells the active conversation's counterpart the user is typing.
func (e *Engine) Typing() {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, ok := e.state.Conversation(e.state.Active)
	if !ok || c.IsGroup || c.Friend.Username == "" {
		return
	}
	e.send(protocol.Typing{Username: c.Friend.Username})
}

// EditMessage changes the text of one of the user's messages, locally first.
func (e *Engine) EditMessage(conv, msg model.ID, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	m, err := e.ownMessage(conv, msg)
	if err != nil {
		return fmt.Errorf("edit %s: %w", msg, err)
	}
	m.Text = text
	s, fx := reduceMessageUpdate(e.state, protocol.MessageUpdate{ConnectionID: conv, Message: m}, e.env())
	e.commit(s, fx)
	e.send(protocol.UpdateMessage{ConnectionID: conv, MessageID: msg, Message: text})
	e.changed(protocol.TagMessageUpdate)
	return nil
}

// DeleteMessage soft-deletes one of the user's messages, locally first.
func (e *Engine) DeleteMessage(conv, msg model.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.ownMessage(conv, msg); err != nil {
		return fmt.Errorf("delete %s: %w", msg, err)
	}
	s, fx := reduceMessageDelete(e.state, protocol.MessageDelete{ConnectionID: conv, MessageID: msg}, e.env())
	e.commit(s, fx)
	e.send(protocol.DeleteMessage{ConnectionID: conv, MessageID: msg})
	e.changed(protocol.TagMessageDelete)
	return nil
}

// React adds or replaces the user's reaction with emoji on a message.
func (e *Engine) React(conv, msg model.ID, emoji string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.state.messageIndex(conv, msg)
	if i < 0 {
		return fmt.Errorf("react to %s: %w", msg, ErrUnknownMessage)
	}
	if msg.IsTemporary() {
		return fmt.Errorf("react to %s: %w", msg, ErrPending)
	}
	r := model.Reaction{Emoji: emoji, User: e.state.User.Username, Created: model.FormatTime(e.now())}
	s, fx := reduceReactionAdd(e.state, protocol.ReactionAdd{ConnectionID: conv, MessageID: msg, Reaction: r}, e.env())
	e.commit(s, fx)
	e.send(protocol.AddReaction{ConnectionID: conv, MessageID: msg, Emoji: emoji})
	e.changed(protocol.TagReactionAdd)
	return nil
}

// Search runs a user search; results arrive as a search event.
func (e *Engine) Search(query string) {
	e.sendLocked(protocol.SearchUsers{Query: query})
}

// RequestConnect sends a friend request.
func (e *Engine) RequestConnect(username string) {
	e.sendLocked(protocol.ConnectRequest{Username: username})
}

// AcceptRequest accepts a friend request.
func (e *Engine) AcceptRequest(username string) {
	e.sendLocked(protocol.AcceptRequest{Username: username})
}

// CreateGroup asks the server to create a group channel.
func (e *Engine) CreateGroup(name string) {
	e.sendLocked(protocol.CreateGroup{Name: name})
}

// UpdateThumbnail points the profile picture at an uploaded file.
func (e *Engine) UpdateThumbnail(fileURL string) {
	e.sendLocked(protocol.UpdateThumbnail{FileURL: fileURL})
}

// Logout closes the connection, wipes the session and clears the mirror.
func (e *Engine) Logout() {
	if e.transport != nil {
		e.transport.Close()
	}
	if e.session != nil {
		e.session.Logout()
	}
	e.reset()
}

func (e *Engine) ownMessage(conv, msg model.ID) (model.Message, error) {
	i := e.state.messageIndex(conv, msg)
	if i < 0 {
		return model.Message{}, ErrUnknownMessage
	}
	m := e.state.Messages[conv][i]
	if !m.IsMe {
		return model.Message{}, ErrNotOwner
	}
	if m.ID.IsTemporary() {
		return model.Message{}, ErrPending
	}
	return m, nil
}

// send must be called with e.mu held.
func (e *Engine) send(cmd protocol.Command) {
	if e.transport != nil {
		e.transport.Send(cmd)
	}
}

func (e *Engine) sendLocked(cmd protocol.Command) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.send(cmd)
}

func (e *Engine) changed(source string) {
	e.bus.Emit(bus.KindStateChanged, StateChange{Source: source})
}
