package sync

import (
	"maps"
	"slices"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

// State is an immutable snapshot of the local mirror. Reducers never write
// into the maps or slices of the State they receive; they build new ones.
type State struct {
	// Conversations is ordered by Updated, most recent first.
	Conversations []model.Conversation
	// Messages holds each conversation's history, ordered by Created, most recent first.
	Messages map[model.ID][]model.Message
	// Unread counts per conversation. Never negative.
	Unread map[model.ID]int
	// NextPage is the next history page to request, present only when there is one.
	NextPage map[model.ID]int

	Active   model.ID
	TypingAt time.Time

	Requests      []model.Request
	SearchResults []model.SearchResult

	User model.Profile
}

// Visible returns the open conversation's history.
func (s State) Visible() []model.Message {
	if s.Active == "" {
		return nil
	}
	return s.Messages[s.Active]
}

// Conversation returns the entry with the given id.
func (s State) Conversation(id model.ID) (model.Conversation, bool) {
	if i := s.conversationIndex(id); i >= 0 {
		return s.Conversations[i], true
	}
	return model.Conversation{}, false
}

func (s State) conversationIndex(id model.ID) int {
	return slices.IndexFunc(s.Conversations, func(c model.Conversation) bool { return c.ID == id })
}

func (s State) messageIndex(conv, msg model.ID) int {
	return slices.IndexFunc(s.Messages[conv], func(m model.Message) bool { return m.ID == msg })
}

func (s State) withHistory(id model.ID, msgs []model.Message) State {
	m := maps.Clone(s.Messages)
	if m == nil {
		m = make(map[model.ID][]model.Message)
	}
	m[id] = msgs
	s.Messages = m
	return s
}

func (s State) withUnread(id model.ID, n int) State {
	m := maps.Clone(s.Unread)
	if m == nil {
		m = make(map[model.ID]int)
	}
	m[id] = max(n, 0)
	s.Unread = m
	return s
}

func (s State) withNextPage(id model.ID, next *int) State {
	m := maps.Clone(s.NextPage)
	if m == nil {
		m = make(map[model.ID]int)
	}
	if next == nil {
		delete(m, id)
	} else {
		m[id] = *next
	}
	s.NextPage = m
	return s
}

// withConversationAtHead puts c first, dropping any entry with the same id,
// then restores the Updated ordering. An entry newer than every other stays first.
func (s State) withConversationAtHead(c model.Conversation) State {
	list := make([]model.Conversation, 0, len(s.Conversations)+1)
	list = append(list, c)
	for _, other := range s.Conversations {
		if other.ID != c.ID {
			list = append(list, other)
		}
	}
	sortConversations(list)
	s.Conversations = list
	return s
}

func (s State) withConversation(i int, c model.Conversation) State {
	list := slices.Clone(s.Conversations)
	list[i] = c
	s.Conversations = list
	return s
}

// persistedConversations is the friend list as written to disk, with the
// unread counters folded into each entry.
func (s State) persistedConversations() []model.Conversation {
	out := slices.Clone(s.Conversations)
	for i := range out {
		out[i].Unread = s.Unread[out[i].ID]
	}
	return out
}

func sortConversations(list []model.Conversation) {
	slices.SortStableFunc(list, func(a, b model.Conversation) int {
		return b.UpdatedAt().Compare(a.UpdatedAt())
	})
}

func sortMessages(list []model.Message) {
	slices.SortStableFunc(list, func(a, b model.Message) int {
		return b.CreatedAt().Compare(a.CreatedAt())
	})
}
