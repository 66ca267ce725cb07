// Package v1 defines the ezwa event-stream protocol v1.
//
// It is shared between the host gateway and stream consumers, so it only
// depends on the standard library.
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

// Subprotocol is the websocket subprotocol negotiated by /ws.
const Subprotocol = "ezwa.stream.v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a stream session (consumer -> host).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session (host -> consumer).
	TypeHelloAck = "hello_ack"

	// TypeSubscribe replaces the event filter of the session (consumer -> host).
	TypeSubscribe = "subscribe"
	// TypeSubscribed echoes the effective filter (host -> consumer).
	TypeSubscribed = "subscribed"

	// TypeEvent carries one orchestrator event (host -> consumer).
	TypeEvent = "event"

	// TypeSendText asks a client to send a text message (consumer -> host).
	TypeSendText = "send_text"
	// TypeSendAck reports the sent message id (host -> consumer).
	TypeSendAck = "send_ack"

	// TypeHistoryFetch requests archived messages of one chat (consumer -> host).
	TypeHistoryFetch = "history_fetch"
	// TypeHistoryChunk returns a window of archived messages (host -> consumer).
	TypeHistoryChunk = "history_chunk"

	// TypeError is a generic error envelope (host -> consumer).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeSubscribe,
		TypeSubscribed,
		TypeEvent,
		TypeSendText,
		TypeSendAck,
		TypeHistoryFetch,
		TypeHistoryChunk,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}
