package bus

import "time"

// Event kinds published by the sync core.
const (
	KindStateChanged   = "state.changed"
	KindTransportState = "transport.state_changed"
	KindSignedIn       = "session.signed_in"
	KindLoggedOut      = "session.logged_out"
)

// Notification kinds. All share the NotifyPrefix namespace.
const (
	NotifyPrefix           = "notify."
	NotifyQueued           = "notify.queued"
	NotifyConnectionFailed = "notify.connection_failed"
	NotifyAuthFailed       = "notify.auth_failed"
	NotifyServerError      = "notify.server_error"
	NotifyFriendRequest    = "notify.friend_request"
	NotifyRequestAccepted  = "notify.request_accepted"
	NotifyBlockChanged     = "notify.block_changed"
	NotifyMessage          = "notify.message"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Notification is a user-visible notice raised by the core.
type Notification struct {
	Kind           string `json:"kind"`
	Title          string `json:"title"`
	Body           string `json:"body,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}
