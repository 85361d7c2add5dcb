package sync

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/protocol"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func apply(t *testing.T, s State, evt protocol.Event) (State, Effects) {
	t.Helper()
	r, ok := reducers[evt.Source()]
	if !ok {
		t.Fatalf("no reducer for %s", evt.Source())
	}
	return r(s, evt, Env{Now: testNow})
}

func conv(id, username, updated string) model.Conversation {
	return model.Conversation{ID: model.ID(id), Friend: model.Profile{Username: username, Name: username}, Updated: updated}
}

func convIDs(list []model.Conversation) []model.ID {
	out := make([]model.ID, 0, len(list))
	for _, c := range list {
		out = append(out, c.ID)
	}
	return out
}

func assertSorted(t *testing.T, s State) {
	t.Helper()
	for i := 1; i < len(s.Conversations); i++ {
		if s.Conversations[i].UpdatedAt().After(s.Conversations[i-1].UpdatedAt()) {
			t.Errorf("conversations out of order at %d: %v", i, convIDs(s.Conversations))
		}
	}
	for id, history := range s.Messages {
		for i := 1; i < len(history); i++ {
			if history[i].CreatedAt().After(history[i-1].CreatedAt()) {
				t.Errorf("history %s out of order at %d", id, i)
			}
		}
	}
}

func TestReducerTableCoversInboundTags(t *testing.T) {
	for _, tag := range protocol.InboundTags {
		if tag == protocol.TagError {
			continue
		}
		if _, ok := reducers[tag]; !ok {
			t.Errorf("no reducer for inbound tag %q", tag)
		}
	}
	if _, ok := reducers["ride.request"]; ok {
		t.Error("unexpected reducer for unknown tag")
	}
}

func TestFriendListSnapshot(t *testing.T) {
	s := State{
		Active: "c2",
		Conversations: []model.Conversation{
			conv("c1", "bob", "2024-01-01T10:00:00Z"),
			{ID: "group_9", IsGroup: true, Updated: "2024-01-01T09:00:00Z"},
			conv("stale", "eve", "2024-01-01T08:00:00Z"),
		},
		Unread: map[model.ID]int{"group_9": 4, "stale": 1},
	}

	blocked := conv("c1", "bob", "2024-01-02T10:00:00Z")
	blocked.Blocked = true
	blocked.Unread = 2
	active := conv("c2", "carol", "2024-01-03T10:00:00Z")
	active.Unread = 5

	next, fx := apply(t, s, protocol.FriendList{blocked, active})

	if want := []model.ID{"c2", "c1", "group_9"}; !reflect.DeepEqual(convIDs(next.Conversations), want) {
		t.Errorf("conversations = %v, want %v", convIDs(next.Conversations), want)
	}
	if next.Unread["c1"] != 2 || next.Unread["c2"] != 0 || next.Unread["group_9"] != 4 {
		t.Errorf("unread = %v", next.Unread)
	}
	if _, ok := next.Unread["stale"]; ok {
		t.Error("dropped conversation should lose its counter")
	}
	if !fx.FriendList {
		t.Error("friend list should be persisted")
	}
	if len(fx.Notes) != 1 || fx.Notes[0].Kind != bus.NotifyBlockChanged {
		t.Errorf("notes = %+v, want one block change", fx.Notes)
	}
	if len(s.Conversations) != 3 || s.Unread["stale"] != 1 {
		t.Error("reducer modified its input state")
	}
}

func TestFriendNewPrepends(t *testing.T) {
	s := State{Conversations: []model.Conversation{conv("c1", "bob", "2024-01-01T10:00:00Z")}}
	next, fx := apply(t, s, protocol.FriendNew{Conversation: conv("c2", "carol", "2024-01-02T10:00:00Z")})
	if want := []model.ID{"c2", "c1"}; !reflect.DeepEqual(convIDs(next.Conversations), want) {
		t.Errorf("conversations = %v, want %v", convIDs(next.Conversations), want)
	}
	if !fx.FriendList {
		t.Error("friend list should be persisted")
	}
}

// Arrival order never beats the updated ordering: an entry older than the
// head is placed by its timestamp.
func TestHeadInsertKeepsUpdatedOrder(t *testing.T) {
	s := State{Conversations: []model.Conversation{
		conv("c1", "bob", "2024-01-03T10:00:00Z"),
		conv("c2", "carol", "2024-01-01T10:00:00Z"),
	}}

	next, _ := apply(t, s, protocol.FriendNew{Conversation: conv("c3", "dave", "2024-01-02T10:00:00Z")})
	if want := []model.ID{"c1", "c3", "c2"}; !reflect.DeepEqual(convIDs(next.Conversations), want) {
		t.Errorf("friend.new: conversations = %v, want %v", convIDs(next.Conversations), want)
	}

	next, _ = apply(t, s, protocol.MessageSend{
		Friend:  conv("c2", "carol", ""),
		Message: msg("m1", "2024-01-02T00:00:00Z", "late"),
	})
	if want := []model.ID{"c1", "c2"}; !reflect.DeepEqual(convIDs(next.Conversations), want) {
		t.Errorf("message.send: conversations = %v, want %v", convIDs(next.Conversations), want)
	}
	assertSorted(t, next)
}

func TestMessageListMerges(t *testing.T) {
	next2 := 2
	s := State{Active: "c1", Messages: map[model.ID][]model.Message{"c1": {msg("m2", "2024-01-01T10:02:00Z", "two")}}}
	next, fx := apply(t, s, protocol.MessageList{
		ConnectionID: "c1",
		Messages:     []model.Message{msg("m1", "2024-01-01T10:01:00Z", "one"), msg("m2", "2024-01-01T10:02:00Z", "two")},
		Next:         &next2,
	})
	if want := []model.ID{"m2", "m1"}; !reflect.DeepEqual(ids(next.Visible()), want) {
		t.Errorf("visible = %v, want %v", ids(next.Visible()), want)
	}
	if next.NextPage["c1"] != 2 {
		t.Errorf("next page = %v", next.NextPage)
	}
	if !reflect.DeepEqual(fx.Histories, []model.ID{"c1"}) {
		t.Errorf("histories = %v", fx.Histories)
	}

	last, _ := apply(t, next, protocol.MessageList{ConnectionID: "c1"})
	if _, ok := last.NextPage["c1"]; ok {
		t.Error("next page should be cleared on the last page")
	}
}

func TestMessageSendUnread(t *testing.T) {
	tests := []struct {
		name   string
		active model.ID
		isMe   bool
		want   int
	}{
		{"incoming", "", false, 1},
		{"own message", "", true, 0},
		{"open conversation", "c1", false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := State{Active: tt.active, Conversations: []model.Conversation{conv("c1", "bob", "2024-01-01T10:00:00Z")}}
			m := msg("m1", "2024-01-02T10:00:00Z", "hey")
			m.IsMe = tt.isMe
			next, fx := apply(t, s, protocol.MessageSend{Friend: conv("c1", "bob", ""), Message: m})
			if next.Unread["c1"] != tt.want {
				t.Errorf("unread = %d, want %d", next.Unread["c1"], tt.want)
			}
			c, _ := next.Conversation("c1")
			if c.Preview != "hey" || c.Updated != "2024-01-02T10:00:00Z" {
				t.Errorf("conversation = %+v", c)
			}
			if !fx.FriendList || len(fx.Histories) != 1 {
				t.Errorf("effects = %+v", fx)
			}
			if notified := len(fx.Notes) == 1 && fx.Notes[0].Kind == bus.NotifyMessage; notified != (tt.want == 1) {
				t.Errorf("notes = %+v", fx.Notes)
			}
		})
	}
}

func TestMessageSendMovesToHead(t *testing.T) {
	s := State{Conversations: []model.Conversation{
		conv("c1", "bob", "2024-01-03T10:00:00Z"),
		conv("c2", "carol", "2024-01-02T10:00:00Z"),
	}}
	next, _ := apply(t, s, protocol.MessageSend{
		Friend:  conv("c2", "carol", ""),
		Message: msg("m1", "2024-01-04T10:00:00Z", "hi"),
	})
	if want := []model.ID{"c2", "c1"}; !reflect.DeepEqual(convIDs(next.Conversations), want) {
		t.Errorf("conversations = %v, want %v", convIDs(next.Conversations), want)
	}

	next, _ = apply(t, next, protocol.MessageSend{
		Friend:  conv("c3", "dave", ""),
		Message: msg("m2", "2024-01-05T10:00:00Z", "new"),
	})
	if want := []model.ID{"c3", "c2", "c1"}; !reflect.DeepEqual(convIDs(next.Conversations), want) {
		t.Errorf("conversations = %v, want %v", convIDs(next.Conversations), want)
	}
	assertSorted(t, next)
}

func TestUnreadNeverNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	s := State{Conversations: []model.Conversation{conv("c1", "bob", "2024-01-01T10:00:00Z")}}
	for i := 0; i < 500; i++ {
		var evt protocol.Event
		if rng.Intn(2) == 0 {
			evt = protocol.MessageSend{
				Friend:  conv("c1", "bob", ""),
				Message: msg(fmt.Sprintf("m%d", i), testNow.Add(time.Duration(i)*time.Second).Format(time.RFC3339), "x"),
			}
		} else {
			evt = protocol.MessageSeen{ConnectionID: "c1", Count: rng.Intn(4)}
		}
		s, _ = apply(t, s, evt)
		if s.Unread["c1"] < 0 {
			t.Fatalf("step %d: unread = %d", i, s.Unread["c1"])
		}
	}
	assertSorted(t, s)
}

func TestMessageSeenClamps(t *testing.T) {
	s := State{Unread: map[model.ID]int{"c1": 2}}
	s, _ = apply(t, s, protocol.MessageSeen{ConnectionID: "c1", Count: 5})
	if s.Unread["c1"] != 0 {
		t.Errorf("unread = %d, want 0", s.Unread["c1"])
	}
}

func TestMessageTypeOnlyForOpenConversation(t *testing.T) {
	s := State{Active: "c1", Conversations: []model.Conversation{conv("c1", "bob", ""), conv("c2", "carol", "")}}
	next, _ := apply(t, s, protocol.MessageType{Username: "carol"})
	if !next.TypingAt.IsZero() {
		t.Error("typing from another conversation should be ignored")
	}
	next, _ = apply(t, s, protocol.MessageType{Username: "bob"})
	if !next.TypingAt.Equal(testNow) {
		t.Errorf("TypingAt = %v, want %v", next.TypingAt, testNow)
	}
}

func TestUpdateAndDeleteRederivePreview(t *testing.T) {
	c := conv("c1", "bob", "2024-01-01T10:02:00Z")
	c.Preview = "two"
	s := State{
		Conversations: []model.Conversation{c},
		Messages: map[model.ID][]model.Message{"c1": {
			msg("m2", "2024-01-01T10:02:00Z", "two"),
			msg("m1", "2024-01-01T10:01:00Z", "one"),
		}},
	}

	s, fx := apply(t, s, protocol.MessageUpdate{ConnectionID: "c1", Message: model.Message{ID: "m2", Text: "two!"}})
	if got, _ := s.Conversation("c1"); got.Preview != "two!" || !fx.FriendList {
		t.Errorf("preview = %q after editing latest", got.Preview)
	}

	s, fx = apply(t, s, protocol.MessageUpdate{ConnectionID: "c1", Message: model.Message{ID: "m1", Text: "uno"}})
	if got, _ := s.Conversation("c1"); got.Preview != "two!" || fx.FriendList {
		t.Errorf("preview = %q after editing older message", got.Preview)
	}

	s, _ = apply(t, s, protocol.MessageDelete{ConnectionID: "c1", MessageID: "m2"})
	if got, _ := s.Conversation("c1"); got.Preview != "uno" {
		t.Errorf("preview = %q after deleting latest, want uno", got.Preview)
	}
	if !s.Messages["c1"][0].Deleted || len(s.Messages["c1"]) != 2 {
		t.Error("delete should be soft")
	}

	same, fx := apply(t, s, protocol.MessageDelete{ConnectionID: "c1", MessageID: "nope"})
	if fx.FriendList || len(fx.Histories) != 0 || !reflect.DeepEqual(same, s) {
		t.Error("unknown message should be a no-op")
	}
}

func TestReactionUpsertScenario(t *testing.T) {
	s := State{Messages: map[model.ID][]model.Message{"c1": {msg("M1", "2024-01-01T10:00:00Z", "hi")}}}
	s, _ = apply(t, s, protocol.ReactionAdd{ConnectionID: "c1", MessageID: "M1",
		Reaction: model.Reaction{ID: "r1", Emoji: "👍", User: "alice", Created: "2024-01-01T10:01:00Z"}})
	s, _ = apply(t, s, protocol.ReactionAdd{ConnectionID: "c1", MessageID: "M1",
		Reaction: model.Reaction{ID: "r2", Emoji: "👍", User: "alice", Created: "2024-01-01T10:05:00Z"}})

	reactions := s.Messages["c1"][0].Reactions
	if len(reactions) != 1 {
		t.Fatalf("reactions = %+v, want exactly one", reactions)
	}
	if reactions[0].ID != "r2" || reactions[0].Created != "2024-01-01T10:05:00Z" {
		t.Errorf("reaction = %+v, want latest metadata", reactions[0])
	}
}

func TestRequestsTagSearchResults(t *testing.T) {
	s := State{
		User: model.Profile{Username: "me"},
		SearchResults: []model.SearchResult{
			{Profile: model.Profile{Username: "alice"}, Status: model.StatusNoConnection},
			{Profile: model.Profile{Username: "bob"}, Status: model.StatusNoConnection},
		},
	}

	s, fx := apply(t, s, protocol.RequestConnect{Request: model.Request{ID: "1", Sender: model.Profile{Username: "me"}, Receiver: model.Profile{Username: "alice"}}})
	if s.SearchResults[0].Status != model.StatusPendingThem || len(fx.Notes) != 0 {
		t.Errorf("after sending: %+v, notes %v", s.SearchResults[0], fx.Notes)
	}

	s, fx = apply(t, s, protocol.RequestConnect{Request: model.Request{ID: "2", Sender: model.Profile{Username: "bob", Name: "Bob"}, Receiver: model.Profile{Username: "me"}}})
	if s.SearchResults[1].Status != model.StatusPendingMe {
		t.Errorf("after receiving: %+v", s.SearchResults[1])
	}
	if len(fx.Notes) != 1 || fx.Notes[0].Kind != bus.NotifyFriendRequest || fx.Notes[0].Body != "Bob" {
		t.Errorf("notes = %+v", fx.Notes)
	}
	if len(s.Requests) != 2 {
		t.Errorf("requests = %d, want 2", len(s.Requests))
	}

	s, fx = apply(t, s, protocol.RequestAccept{Request: model.Request{ID: "1", Sender: model.Profile{Username: "me"}, Receiver: model.Profile{Username: "alice"}}})
	if s.SearchResults[0].Status != model.StatusConnected {
		t.Errorf("after accept: %+v", s.SearchResults[0])
	}
	if len(fx.Notes) != 1 || fx.Notes[0].Kind != bus.NotifyRequestAccepted {
		t.Errorf("notes = %+v", fx.Notes)
	}
	if len(s.Requests) != 1 || s.Requests[0].ID != "2" {
		t.Errorf("requests = %+v", s.Requests)
	}

	s, _ = apply(t, s, protocol.RequestList{})
	if len(s.Requests) != 0 {
		t.Errorf("request.list snapshot should replace, got %+v", s.Requests)
	}
	if s.SearchResults[1].Status != model.StatusNoConnection {
		t.Errorf("vanished request left %s on bob", s.SearchResults[1].Status)
	}
	if s.SearchResults[0].Status != model.StatusConnected {
		t.Errorf("snapshot reset a connected result: %+v", s.SearchResults[0])
	}
}

func TestRequestListRetagsFromSnapshot(t *testing.T) {
	s := State{
		User: model.Profile{Username: "me"},
		SearchResults: []model.SearchResult{
			{Profile: model.Profile{Username: "alice"}, Status: model.StatusPendingThem},
			{Profile: model.Profile{Username: "bob"}, Status: model.StatusPendingMe},
			{Profile: model.Profile{Username: "carol"}, Status: model.StatusNoConnection},
		},
	}
	before := s.SearchResults

	s, _ = apply(t, s, protocol.RequestList{
		{ID: "9", Sender: model.Profile{Username: "carol"}, Receiver: model.Profile{Username: "me"}},
	})

	want := []model.SearchStatus{model.StatusNoConnection, model.StatusNoConnection, model.StatusPendingMe}
	for i, w := range want {
		if got := s.SearchResults[i].Status; got != w {
			t.Errorf("%s = %s, want %s", s.SearchResults[i].Username, got, w)
		}
	}
	if before[0].Status != model.StatusPendingThem {
		t.Error("reducer wrote into the previous state's results")
	}
}

func TestSearchReplaces(t *testing.T) {
	s := State{SearchResults: []model.SearchResult{{Profile: model.Profile{Username: "old"}}}}
	s, _ = apply(t, s, protocol.SearchResults{{Profile: model.Profile{Username: "new"}, Status: model.StatusConnected}})
	if len(s.SearchResults) != 1 || s.SearchResults[0].Username != "new" {
		t.Errorf("results = %+v", s.SearchResults)
	}
}

func TestOnlineStatusPatchesCounterpart(t *testing.T) {
	s := State{Conversations: []model.Conversation{conv("c1", "bob", ""), conv("c2", "carol", "")}}
	next, fx := apply(t, s, protocol.OnlineStatus{Username: "carol", Online: true})
	if !next.Conversations[1].Friend.Online || next.Conversations[0].Friend.Online || !fx.FriendList {
		t.Errorf("conversations = %+v", next.Conversations)
	}
	if s.Conversations[1].Friend.Online {
		t.Error("reducer modified its input state")
	}
	_, fx = apply(t, next, protocol.OnlineStatus{Username: "carol", Online: true})
	if fx.FriendList {
		t.Error("unchanged presence should not persist")
	}
}

func TestGroupCreatedNamespacesID(t *testing.T) {
	s := State{Conversations: []model.Conversation{conv("5", "bob", "2024-01-01T10:00:00Z")}}
	s, fx := apply(t, s, protocol.GroupCreated{ID: "5", Name: "Friends", Created: "2024-01-02T10:00:00Z"})
	if want := []model.ID{"group_5", "5"}; !reflect.DeepEqual(convIDs(s.Conversations), want) {
		t.Errorf("conversations = %v, want %v", convIDs(s.Conversations), want)
	}
	if !s.Conversations[0].IsGroup || s.Conversations[0].Friend.Name != "Friends" || !fx.FriendList {
		t.Errorf("group = %+v", s.Conversations[0])
	}
}

func TestThumbnailUpdatesUser(t *testing.T) {
	s := State{User: model.Profile{Username: "me"}}
	s, fx := apply(t, s, protocol.Thumbnail{Profile: model.Profile{Name: "Me", Thumbnail: "https://cdn/x.png"}})
	if s.User.Username != "me" || s.User.Thumbnail != "https://cdn/x.png" {
		t.Errorf("user = %+v", s.User)
	}
	if fx.User == nil || fx.User.Thumbnail != "https://cdn/x.png" {
		t.Errorf("effects user = %+v", fx.User)
	}
}
