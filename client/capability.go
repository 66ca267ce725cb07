package client

import (
	"context"
	"log/slog"

	"github.com/zevanoo/baileys-ez/serialize"
	"github.com/zevanoo/baileys-ez/session"
	"github.com/zevanoo/baileys-ez/wa"
)

// Capability is a live protocol connection. Implementations own the wire
// protocol and encryption; a Handle only consumes them.
//
// Subscribe must deliver events for one capability serially, in arrival order.
type Capability interface {
	serialize.Actions

	// Subscribe registers fn for every upstream event and returns a function
	// that removes it.
	Subscribe(fn func(wa.Event)) (cancel func())

	// RequestPairingCode asks the server for a phone-number pairing code.
	// custom, when non-empty, is a caller-chosen code.
	RequestPairingCode(ctx context.Context, phone, custom string) (string, error)

	// Close ends the connection without touching stored credentials.
	Close(ctx context.Context) error
}

// OpenOptions describe the connection an Opener should establish.
type OpenOptions struct {
	ClientID    string
	SessionDir  string
	Status      session.Status
	PhoneNumber string
	PairingCode string
	// SocketConfig is the merged configuration: registry defaults overridden
	// by handle configuration, then by the phone number and pairing code.
	SocketConfig map[string]any
	Logger       *slog.Logger
}

// Opener creates capabilities.
type Opener interface {
	Open(ctx context.Context, opts OpenOptions) (Capability, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, opts OpenOptions) (Capability, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, opts OpenOptions) (Capability, error) {
	return f(ctx, opts)
}

// Observer receives handle-level counters. Implementations must be safe for
// concurrent use.
type Observer interface {
	ConnectFinished(clientID string, err error)
	StateChanged(clientID string, state State)
	MessageRouted(clientID, action string)
	NormalizationFailed(clientID string)
}

type nopObserver struct{}

func (nopObserver) ConnectFinished(string, error) {}
func (nopObserver) StateChanged(string, State) {}
func (nopObserver) MessageRouted(string, string) {}
func (nopObserver) NormalizationFailed(string) {}
