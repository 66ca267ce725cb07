package wa

import (
	"encoding/json"
	"fmt"
)

// Upstream event categories emitted by a connected socket.
const (
	EventConnectionUpdate = "connection.update"
	EventCredsUpdate      = "creds.update"

	EventMessagesUpsert   = "messages.upsert"
	EventMessagesUpdate   = "messages.update"
	EventMessagesDelete   = "messages.delete"
	EventReceiptUpdate    = "message-receipt.update"
	EventMessagesReaction = "messages.reaction"
	EventMediaUpdate      = "messages.media-update"
)

// Upsert types.
const (
	UpsertNotify = "notify"
	UpsertAppend = "append"
)

// Connection states reported by ConnectionUpdate.
const (
	ConnConnecting = "connecting"
	ConnOpen       = "open"
	ConnClose      = "close"
)

// StatusLoggedOut is the disconnect status code for a session revoked by the
// primary device. The stored credentials are unusable afterwards.
const StatusLoggedOut = 401

// Event is one upstream notification. Payload holds the typed value matching
// Name (e.g. MessagesUpsert for EventMessagesUpsert).
type Event struct {
	Name    string
	Payload any
}

// MessagesUpsert is a batch of new or appended messages.
type MessagesUpsert struct {
	Messages []*WebMessageInfo `json:"messages"`
	Type     string            `json:"type"`
}

// MessageUpdate is a partial update (status, edits, poll votes) of one message.
type MessageUpdate struct {
	Key    MessageKey      `json:"key"`
	Update json.RawMessage `json:"update,omitempty"`
}

// MessagesDelete removes either specific keys or every message of a chat.
type MessagesDelete struct {
	Keys []MessageKey `json:"keys,omitempty"`
	JID  string       `json:"jid,omitempty"`
	All  bool         `json:"all,omitempty"`
}

// ReceiptUpdate is a delivery/read receipt for one message.
type ReceiptUpdate struct {
	Key     MessageKey      `json:"key"`
	Receipt json.RawMessage `json:"receipt,omitempty"`
}

// Reaction is a reaction added to (or removed from) one message.
type Reaction struct {
	Key      MessageKey      `json:"key"`
	Reaction json.RawMessage `json:"reaction,omitempty"`
}

// MediaUpdate reports the result of a media re-upload request.
type MediaUpdate struct {
	Key   MessageKey      `json:"key"`
	Media json.RawMessage `json:"media,omitempty"`
	Error string          `json:"error,omitempty"`
}

// ConnectionUpdate reports socket state transitions and authentication prompts.
type ConnectionUpdate struct {
	Connection     string          `json:"connection,omitempty"`
	QR             string          `json:"qr,omitempty"`
	IsNewLogin     bool            `json:"isNewLogin,omitempty"`
	LastDisconnect *DisconnectInfo `json:"lastDisconnect,omitempty"`
}

// DisconnectInfo describes why the socket closed.
type DisconnectInfo struct {
	StatusCode int    `json:"statusCode,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// LoggedOut reports whether the close was a logout by the primary device.
func (d *DisconnectInfo) LoggedOut() bool {
	return d != nil && d.StatusCode == StatusLoggedOut
}

// DecodeEvent decodes a JSON payload into the typed value for name.
// Unknown names keep their raw JSON as payload.
func DecodeEvent(name string, raw json.RawMessage) (Event, error) {
	var (
		payload any
		err     error
	)

	switch name {
	case EventConnectionUpdate:
		var v ConnectionUpdate
		err = json.Unmarshal(raw, &v)
		payload = v
	case EventMessagesUpsert:
		var v MessagesUpsert
		err = json.Unmarshal(raw, &v)
		payload = v
	case EventMessagesUpdate:
		var v []MessageUpdate
		err = json.Unmarshal(raw, &v)
		payload = v
	case EventMessagesDelete:
		var v MessagesDelete
		err = json.Unmarshal(raw, &v)
		payload = v
	case EventReceiptUpdate:
		var v []ReceiptUpdate
		err = json.Unmarshal(raw, &v)
		payload = v
	case EventMessagesReaction:
		var v []Reaction
		err = json.Unmarshal(raw, &v)
		payload = v
	case EventMediaUpdate:
		var v []MediaUpdate
		err = json.Unmarshal(raw, &v)
		payload = v
	default:
		payload = raw
	}
	if err != nil {
		return Event{}, fmt.Errorf("wa: decode %s: %w", name, err)
	}
	return Event{Name: name, Payload: payload}, nil
}
