package model

import "encoding/json"

// --- Realtime (Phoenix channel) Messages ---

type PhoenixEvent string

const (
	PhoenixJoin      PhoenixEvent = "phx_join"
	PhoenixLeave     PhoenixEvent = "phx_leave"
	PhoenixReply     PhoenixEvent = "phx_reply"
	PhoenixError     PhoenixEvent = "phx_error"
	PhoenixClose     PhoenixEvent = "phx_close"
	PhoenixHeartbeat PhoenixEvent = "heartbeat"
	PhoenixAccess    PhoenixEvent = "access_token"
	PostgresChanges  PhoenixEvent = "postgres_changes"
	RealtimeSystem   PhoenixEvent = "system"
)

type PhoenixMessage struct {
	Topic   string          `json:"topic"`
	Event   PhoenixEvent    `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type PhoenixReplyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type PostgresChangeFilter struct {
	Event  string `json:"event"`
	Schema string `json:"schema"`
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

type JoinConfig struct {
	Broadcast struct {
		Self bool `json:"self"`
		Ack  bool `json:"ack"`
	} `json:"broadcast"`
	Presence struct {
		Key string `json:"key"`
	} `json:"presence"`
	PostgresChanges []PostgresChangeFilter `json:"postgres_changes"`
}

type JoinPayload struct {
	Config      JoinConfig `json:"config"`
	AccessToken string     `json:"access_token,omitempty"`
}

type PostgresChangePayload struct {
	Data struct {
		Type            string          `json:"type"`
		Schema          string          `json:"schema"`
		Table           string          `json:"table"`
		CommitTimestamp string          `json:"commit_timestamp"`
		Record          json.RawMessage `json:"record"`
	} `json:"data"`
	IDs []int64 `json:"ids"`
}

// InsertEvent is a decoded row-insert notification. Only the id is trusted;
// the full record is always re-fetched.
type InsertEvent struct {
	Table string
	ID    int64
}

// --- Dashboard Push Messages ---

type MessageType string

const (
	MessageTypeNewOrder       MessageType = "new_order"
	MessageTypeSessionRestore MessageType = "session_restored"
	MessageTypeStatus         MessageType = "status"
	MessageTypeSignedOut      MessageType = "signed_out"
)

type WSMessage struct {
	Type      MessageType `json:"type"`
	Data      any         `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}
