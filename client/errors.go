package client

import (
	"errors"
	"fmt"

	"github.com/zevanoo/baileys-ez/wa"
)

var (
	// ErrInvalidOptions marks a handle misconfiguration detected before any
	// network attempt.
	ErrInvalidOptions = errors.New("invalid client options")
	// ErrAlreadyConnected is returned by Connect on a connected handle.
	ErrAlreadyConnected = errors.New("client already connected")
	// ErrConnectInProgress is returned by Connect while another attempt runs.
	ErrConnectInProgress = errors.New("client connect in progress")
	// ErrNotConnected is returned by pass-through actions on an idle handle.
	ErrNotConnected = errors.New("client not connected")
	// ErrConnectionClosed marks a connection closed by the remote side
	// before it opened.
	ErrConnectionClosed = errors.New("connection closed")
)

// ConnectError is a network or authentication failure while connecting.
// It is both emitted as an "error" event and returned by Connect.
type ConnectError struct {
	ClientID   string
	StatusCode int
	Reason     string
	Err        error
}

func (e *ConnectError) Error() string {
	msg := fmt.Sprintf("client %s: connect", e.ClientID)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConnectError) Unwrap() error { return e.Err }

// LoggedOut reports whether the failure was a logout by the primary device.
func (e *ConnectError) LoggedOut() bool { return e.StatusCode == wa.StatusLoggedOut }

// IsConnectError reports whether err is (or wraps) a *ConnectError.
func IsConnectError(err error) bool {
	var ce *ConnectError
	return errors.As(err, &ce)
}
