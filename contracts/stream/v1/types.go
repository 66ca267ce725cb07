package v1

import (
	"encoding/json"
	"time"
)

// HelloPayload opens a session. Token is required when the host has one configured.
type HelloPayload struct {
	Token string `json:"token,omitempty"`
}

// HelloAckPayload carries the host-assigned session id.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
}

// SubscribePayload selects the events pushed to the session. Empty lists
// match everything.
type SubscribePayload struct {
	ClientIDs []string `json:"client_ids,omitempty"`
	Events    []string `json:"events,omitempty"`
}

// EventPayload is one orchestrator event.
type EventPayload struct {
	EventID  string          `json:"event_id"`
	ClientID string          `json:"client_id"`
	Name     string          `json:"name"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// SendTextPayload asks client ClientID to send Text to JID.
type SendTextPayload struct {
	ClientID    string `json:"client_id"`
	JID         string `json:"jid"`
	Text        string `json:"text"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

// SendAckPayload reports the id of the message created by a send_text.
type SendAckPayload struct {
	ClientID    string `json:"client_id"`
	JID         string `json:"jid"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
	MessageID   string `json:"message_id"`
}

// HistoryFetchPayload requests the archive window of one chat.
type HistoryFetchPayload struct {
	ClientID string `json:"client_id"`
	Chat     string `json:"chat"`
	AfterSeq *int64 `json:"after_seq,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// ArchivedMessage is one archived message.
type ArchivedMessage struct {
	ClientID   string    `json:"client_id"`
	Chat       string    `json:"chat"`
	MessageID  string    `json:"message_id"`
	Seq        int64     `json:"seq"`
	Sender     string    `json:"sender"`
	PushName   string    `json:"push_name,omitempty"`
	Type       string    `json:"type"`
	Body       string    `json:"body"`
	FromMe     bool      `json:"from_me"`
	SentAt     time.Time `json:"sent_at"`
	ArchivedAt time.Time `json:"archived_at"`
}

// HistoryChunkPayload answers a history_fetch.
type HistoryChunkPayload struct {
	ClientID string            `json:"client_id"`
	Chat     string            `json:"chat"`
	Messages []ArchivedMessage `json:"messages"`
	HasMore  bool              `json:"has_more"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
