// Package v1 defines the protocol spoken between the host and an external
// protocol bridge process that owns the actual messaging socket.
//
// The host sends requests (open, send_text, react, download, pairing_code,
// close) and the bridge answers each with a result carrying the same id.
// Upstream notifications arrive as event envelopes without a request id.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version embedded into every envelope.
const Version = "v1"

// Subprotocol is the websocket subprotocol the bridge must accept.
const Subprotocol = "ezwa.bridge.v1"

// Type constants (wire-stable).
const (
	TypeOpen        = "open"
	TypeSendText    = "send_text"
	TypeReact       = "react"
	TypeDownload    = "download"
	TypePairingCode = "pairing_code"
	TypeClose       = "close"

	// TypeResult answers a request; ID matches the request id.
	TypeResult = "result"
	// TypeEvent carries one upstream notification.
	TypeEvent = "event"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	switch e.Type {
	case TypeOpen, TypeSendText, TypeReact, TypeDownload, TypePairingCode, TypeClose, TypeResult:
		if strings.TrimSpace(e.ID) == "" {
			return errors.New("missing field: id")
		}
		return nil
	case TypeEvent:
		return nil
	case "":
		return errors.New("missing field: type")
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// OpenPayload asks the bridge to start (or resume) the socket of one client.
type OpenPayload struct {
	ClientID     string         `json:"client_id"`
	SessionDir   string         `json:"session_dir"`
	Registered   bool           `json:"registered"`
	PhoneNumber  string         `json:"phone_number,omitempty"`
	PairingCode  string         `json:"pairing_code,omitempty"`
	SocketConfig map[string]any `json:"socket_config,omitempty"`
}

// OpenResult is the result payload of open.
type OpenResult struct {
	Self string `json:"self"`
}

// SendTextPayload sends one text message. Quoted is the raw message being
// replied to.
type SendTextPayload struct {
	JID       string          `json:"jid"`
	Text      string          `json:"text"`
	Quoted    json.RawMessage `json:"quoted,omitempty"`
	Mentions  []string        `json:"mentions,omitempty"`
	Ephemeral int             `json:"ephemeral,omitempty"`
	Extra     map[string]any  `json:"extra,omitempty"`
}

// ReactPayload reacts to the message identified by Key.
type ReactPayload struct {
	JID   string          `json:"jid"`
	Key   json.RawMessage `json:"key"`
	Emoji string          `json:"emoji"`
}

// MessageResult is the result payload of send_text and react.
type MessageResult struct {
	Message json.RawMessage `json:"message"`
}

// DownloadPayload asks for the decrypted media of Message.
type DownloadPayload struct {
	Message json.RawMessage `json:"message"`
}

// DownloadResult carries the media bytes (base64 on the wire).
type DownloadResult struct {
	Data []byte `json:"data"`
}

// PairingCodePayload requests a phone-number pairing code.
type PairingCodePayload struct {
	Phone  string `json:"phone"`
	Custom string `json:"custom,omitempty"`
}

// PairingCodeResult is the result payload of pairing_code.
type PairingCodeResult struct {
	Code string `json:"code"`
}

// EventPayload is one upstream notification (e.g. "messages.upsert").
type EventPayload struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// ErrorPayload reports a failed request.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
