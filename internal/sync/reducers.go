package sync

import (
	"slices"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/protocol"
)

// Env carries the inputs a reducer may read besides the state and the event.
type Env struct {
	Now time.Time
}

// Effects lists the side effects a reducer asks the engine to perform.
type Effects struct {
	// FriendList requests a write-through of the conversation list.
	FriendList bool
	// Histories lists conversations whose history must be written through.
	Histories []model.ID
	// User is set when the signed-in user's profile changed.
	User *model.Profile
	// Notes are user-visible notifications to publish.
	Notes []bus.Notification
}

type reducer func(State, protocol.Event, Env) (State, Effects)

func on[E protocol.Event](fn func(State, E, Env) (State, Effects)) reducer {
	return func(s State, evt protocol.Event, env Env) (State, Effects) {
		e, ok := evt.(E)
		if !ok {
			return s, Effects{}
		}
		return fn(s, e, env)
	}
}

// reducers maps every inbound tag except "error" to its state transition.
var reducers = map[string]reducer{
	protocol.TagFriendList:     on(reduceFriendList),
	protocol.TagFriendNew:      on(reduceFriendNew),
	protocol.TagMessageList:    on(reduceMessageList),
	protocol.TagMessageSend:    on(reduceMessageSend),
	protocol.TagMessageType:    on(reduceMessageType),
	protocol.TagMessageUpdate:  on(reduceMessageUpdate),
	protocol.TagMessageDelete:  on(reduceMessageDelete),
	protocol.TagMessageSeen:    on(reduceMessageSeen),
	protocol.TagReactionAdd:    on(reduceReactionAdd),
	protocol.TagRequestList:    on(reduceRequestList),
	protocol.TagRequestConnect: on(reduceRequestConnect),
	protocol.TagRequestAccept:  on(reduceRequestAccept),
	protocol.TagSearch:         on(reduceSearch),
	protocol.TagOnlineStatus:   on(reduceOnlineStatus),
	protocol.TagGroupCreated:   on(reduceGroupCreated),
	protocol.TagThumbnail:      on(reduceThumbnail),
}

func reduceFriendList(s State, e protocol.FriendList, _ Env) (State, Effects) {
	var fx Effects
	incoming := make(map[model.ID]bool, len(e))
	list := make([]model.Conversation, 0, len(e)+len(s.Conversations))
	for _, c := range e {
		if c.ID == "" || incoming[c.ID] {
			continue
		}
		incoming[c.ID] = true
		if old, ok := s.Conversation(c.ID); ok && old.Blocked != c.Blocked {
			fx.Notes = append(fx.Notes, blockNote(c))
		}
		list = append(list, c)
	}
	for _, c := range s.Conversations {
		if c.IsGroup && !incoming[c.ID] {
			list = append(list, c)
		}
	}
	sortConversations(list)

	unread := make(map[model.ID]int, len(list))
	for _, c := range list {
		switch {
		case c.ID == s.Active:
			unread[c.ID] = 0
		case incoming[c.ID]:
			unread[c.ID] = max(c.Unread, 0)
		default:
			unread[c.ID] = s.Unread[c.ID]
		}
	}

	s.Conversations = list
	s.Unread = unread
	fx.FriendList = true
	return s, fx
}

func blockNote(c model.Conversation) bus.Notification {
	title := "Conversation unblocked"
	if c.Blocked {
		title = "Conversation blocked"
	}
	return bus.Notification{
		Kind:           bus.NotifyBlockChanged,
		Title:          title,
		Body:           displayName(c.Friend),
		ConversationID: string(c.ID),
	}
}

// reduceFriendNew puts the entry first, then reorders by updated, so an entry
// older than the current head (server clock skew) lands at its updated
// position. The ordering invariant takes precedence over arrival order.
func reduceFriendNew(s State, e protocol.FriendNew, _ Env) (State, Effects) {
	c := e.Conversation
	s = s.withConversationAtHead(c)
	if c.ID == s.Active {
		s = s.withUnread(c.ID, 0)
	} else {
		s = s.withUnread(c.ID, c.Unread)
	}
	return s, Effects{FriendList: true}
}

func reduceMessageList(s State, e protocol.MessageList, _ Env) (State, Effects) {
	id := e.ConnectionID
	s = s.withHistory(id, MergeMessages(s.Messages[id], e.Messages))
	s = s.withNextPage(id, e.Next)
	return s, Effects{Histories: []model.ID{id}}
}

// reduceMessageSend expects duplicate deliveries to be filtered already.
func reduceMessageSend(s State, e protocol.MessageSend, _ Env) (State, Effects) {
	id := e.Friend.ID
	msg := e.Message

	history := s.Messages[id]
	replaced := false
	if msg.IsMe {
		history, replaced = ReplacePlaceholder(history, msg)
	}
	if !replaced {
		history = MergeMessages(history, []model.Message{msg})
	}
	s = s.withHistory(id, history)

	conv := e.Friend
	if old, ok := s.Conversation(id); ok {
		conv = mergeConversation(old, e.Friend)
	}
	conv.Preview = derivedPreview(history)
	if msg.CreatedAt().After(conv.UpdatedAt()) {
		conv.Updated = msg.Created
	}
	s = s.withConversationAtHead(conv)

	fx := Effects{FriendList: true, Histories: []model.ID{id}}
	if !msg.IsMe && id != s.Active {
		s = s.withUnread(id, s.Unread[id]+1)
		fx.Notes = append(fx.Notes, bus.Notification{
			Kind:           bus.NotifyMessage,
			Title:          displayName(conv.Friend),
			Body:           previewOf(msg),
			ConversationID: string(id),
		})
	} else if _, ok := s.Unread[id]; !ok {
		s = s.withUnread(id, 0)
	}
	return s, fx
}

// mergeConversation overlays the non-empty fields of the server's copy on ours.
func mergeConversation(old, in model.Conversation) model.Conversation {
	out := old
	if in.Friend.Username != "" {
		out.Friend = in.Friend
	}
	if in.UpdatedAt().After(out.UpdatedAt()) {
		out.Updated = in.Updated
	}
	out.Blocked = in.Blocked
	out.IsGroup = out.IsGroup || in.IsGroup
	return out
}

func reduceMessageType(s State, e protocol.MessageType, env Env) (State, Effects) {
	if s.Active == "" {
		return s, Effects{}
	}
	c, ok := s.Conversation(s.Active)
	if !ok || c.Friend.Username != e.Username {
		return s, Effects{}
	}
	s.TypingAt = env.Now
	return s, Effects{}
}

// mutateMessage applies fn to one message in place and re-derives the preview
// when that message was the most recent visible one.
func mutateMessage(s State, conv, msg model.ID, fn func(*model.Message)) (State, Effects) {
	i := s.messageIndex(conv, msg)
	if i < 0 {
		return s, Effects{}
	}
	history := slices.Clone(s.Messages[conv])
	wasLatest := latestVisible(history) == i
	fn(&history[i])
	s = s.withHistory(conv, history)
	fx := Effects{Histories: []model.ID{conv}}

	if !wasLatest {
		return s, fx
	}
	if ci := s.conversationIndex(conv); ci >= 0 {
		c := s.Conversations[ci]
		if p := derivedPreview(history); p != c.Preview {
			c.Preview = p
			s = s.withConversation(ci, c)
			fx.FriendList = true
		}
	}
	return s, fx
}

func reduceMessageUpdate(s State, e protocol.MessageUpdate, _ Env) (State, Effects) {
	return mutateMessage(s, e.ConnectionID, e.Message.ID, func(m *model.Message) {
		m.Text = e.Message.Text
	})
}

func reduceMessageDelete(s State, e protocol.MessageDelete, _ Env) (State, Effects) {
	return mutateMessage(s, e.ConnectionID, e.MessageID, func(m *model.Message) {
		m.Deleted = true
	})
}

func reduceReactionAdd(s State, e protocol.ReactionAdd, _ Env) (State, Effects) {
	return mutateMessage(s, e.ConnectionID, e.MessageID, func(m *model.Message) {
		m.Reactions = UpsertReaction(m.Reactions, e.Reaction)
	})
}

func reduceMessageSeen(s State, e protocol.MessageSeen, _ Env) (State, Effects) {
	s = s.withUnread(e.ConnectionID, s.Unread[e.ConnectionID]-e.Count)
	return s, Effects{FriendList: true}
}

// reduceRequestList replaces the request list. Search results tagged pending
// by a request the snapshot no longer carries go back to no-connection.
func reduceRequestList(s State, e protocol.RequestList, _ Env) (State, Effects) {
	s.Requests = slices.Clone([]model.Request(e))
	s = clearPending(s)
	for _, r := range e {
		s = tagPending(s, r)
	}
	return s, Effects{}
}

func reduceRequestConnect(s State, e protocol.RequestConnect, _ Env) (State, Effects) {
	r := e.Request
	list := slices.DeleteFunc(slices.Clone(s.Requests), func(x model.Request) bool { return sameRequest(x, r) })
	s.Requests = append(list, r)
	s = tagPending(s, r)

	var fx Effects
	if r.Sender.Username != s.User.Username {
		fx.Notes = append(fx.Notes, bus.Notification{
			Kind:  bus.NotifyFriendRequest,
			Title: "New friend request",
			Body:  displayName(r.Sender),
		})
	}
	return s, fx
}

func reduceRequestAccept(s State, e protocol.RequestAccept, _ Env) (State, Effects) {
	r := e.Request
	s.Requests = slices.DeleteFunc(slices.Clone(s.Requests), func(x model.Request) bool { return sameRequest(x, r) })

	counterpart := r.Sender
	iSent := r.Sender.Username == s.User.Username
	if iSent {
		counterpart = r.Receiver
	}
	s = tagSearch(s, counterpart.Username, model.StatusConnected)

	var fx Effects
	if iSent {
		fx.Notes = append(fx.Notes, bus.Notification{
			Kind:  bus.NotifyRequestAccepted,
			Title: "Friend request accepted",
			Body:  displayName(counterpart),
		})
	}
	return s, fx
}

func sameRequest(a, b model.Request) bool {
	if a.ID != "" && a.ID == b.ID {
		return true
	}
	return a.Sender.Username == b.Sender.Username && a.Receiver.Username == b.Receiver.Username
}

// tagPending marks the other party of a pending request in the search results.
func tagPending(s State, r model.Request) State {
	if r.Sender.Username == s.User.Username {
		return tagSearch(s, r.Receiver.Username, model.StatusPendingThem)
	}
	return tagSearch(s, r.Sender.Username, model.StatusPendingMe)
}

func clearPending(s State) State {
	results := slices.Clone(s.SearchResults)
	for i, r := range results {
		if r.Status == model.StatusPendingThem || r.Status == model.StatusPendingMe {
			results[i].Status = model.StatusNoConnection
		}
	}
	s.SearchResults = results
	return s
}

func tagSearch(s State, username string, status model.SearchStatus) State {
	i := slices.IndexFunc(s.SearchResults, func(r model.SearchResult) bool { return r.Username == username })
	if i < 0 {
		return s
	}
	results := slices.Clone(s.SearchResults)
	results[i].Status = status
	s.SearchResults = results
	return s
}

func reduceSearch(s State, e protocol.SearchResults, _ Env) (State, Effects) {
	s.SearchResults = slices.Clone([]model.SearchResult(e))
	return s, Effects{}
}

func reduceOnlineStatus(s State, e protocol.OnlineStatus, _ Env) (State, Effects) {
	var list []model.Conversation
	for i, c := range s.Conversations {
		if c.Friend.Username != e.Username || c.Friend.Online == e.Online {
			continue
		}
		if list == nil {
			list = slices.Clone(s.Conversations)
		}
		list[i].Friend.Online = e.Online
	}
	if list == nil {
		return s, Effects{}
	}
	s.Conversations = list
	return s, Effects{FriendList: true}
}

func reduceGroupCreated(s State, e protocol.GroupCreated, env Env) (State, Effects) {
	id := model.GroupID(e.ID)
	c := model.Conversation{
		ID:      id,
		Friend:  model.Profile{Name: e.Name},
		Updated: e.Created,
		IsGroup: true,
	}
	if c.Updated == "" {
		c.Updated = model.FormatTime(env.Now)
	}
	if old, ok := s.Conversation(id); ok {
		c.Preview = old.Preview
	}
	s = s.withConversationAtHead(c)
	if _, ok := s.Unread[id]; !ok {
		s = s.withUnread(id, 0)
	}
	return s, Effects{FriendList: true}
}

func reduceThumbnail(s State, e protocol.Thumbnail, _ Env) (State, Effects) {
	user := e.Profile
	if user.Username == "" {
		user.Username = s.User.Username
	}
	s.User = user
	return s, Effects{User: &user}
}

func displayName(p model.Profile) string {
	if p.Name != "" {
		return p.Name
	}
	return p.Username
}
