package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/matheus3301/chatsync/internal/status"
)

// Status is the response of GetStatus and Connect.
type Status struct {
	Session       string        `json:"session"`
	State         status.State  `json:"state"`
	LoggedIn      bool          `json:"logged_in"`
	User          model.Profile `json:"user"`
	UptimeMS      int64         `json:"uptime_ms"`
	Conversations int           `json:"conversations"`
	Unread        int           `json:"unread"`
	Queued        int           `json:"queued"`
	Active        model.ID      `json:"active,omitempty"`
}

type ConversationList struct {
	Conversations []model.Conversation `json:"conversations"`
}

type ConversationRequest struct {
	ConversationID model.ID `json:"conversation_id"`
}

// ListMessagesRequest asks for a conversation's local history. LoadMore
// additionally requests the next page from the server.
type ListMessagesRequest struct {
	ConversationID model.ID `json:"conversation_id"`
	LoadMore       bool     `json:"load_more,omitempty"`
}

type MessagePage struct {
	ConversationID model.ID        `json:"conversation_id"`
	Messages       []model.Message `json:"messages"`
	NextPage       int             `json:"next_page,omitempty"`
	Requested      bool            `json:"requested,omitempty"`
}

type SendRequest struct {
	ConversationID model.ID          `json:"conversation_id"`
	Text           string            `json:"text"`
	Type           model.MessageType `json:"type,omitempty"`
	RepliedTo      model.ID          `json:"replied_to,omitempty"`
	File           string            `json:"file,omitempty"`
}

type SendResult struct {
	Message model.Message `json:"message"`
}

type MarkSeenRequest struct {
	ConversationID model.ID `json:"conversation_id"`
	Count          int      `json:"count"`
}

type SearchRequest struct {
	Query string `json:"query"`
}

// SearchResults holds the results known when Search returned. Complete is
// false when the server did not answer in time and the results are stale.
type SearchResults struct {
	Results  []model.SearchResult `json:"results"`
	Complete bool                 `json:"complete"`
}

// SignInRequest hands the daemon tokens obtained from the sign-in endpoint.
type SignInRequest struct {
	Tokens model.Tokens  `json:"tokens"`
	User   model.Profile `json:"user"`
}

// MessageRequest addresses one message. Text is used by EditMessage and
// Emoji by React.
type MessageRequest struct {
	ConversationID model.ID `json:"conversation_id"`
	MessageID      model.ID `json:"message_id"`
	Text           string   `json:"text,omitempty"`
	Emoji          string   `json:"emoji,omitempty"`
}

type RequestList struct {
	Requests []model.Request `json:"requests"`
}

type UserRequest struct {
	Username string `json:"username"`
}

type GroupRequest struct {
	Name string `json:"name"`
}

type ThumbnailRequest struct {
	FileURL string `json:"file_url"`
}

type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// WatchRequest filters WatchEvents by bus kind prefix. Empty means everything.
type WatchRequest struct {
	Prefix string `json:"prefix,omitempty"`
}

type EventEnvelope struct {
	EventID    string          `json:"event_id"`
	Session    string          `json:"session"`
	OccurredAt string          `json:"occurred_at"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return out, nil
}

func fromStruct(s *structpb.Struct, v any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
