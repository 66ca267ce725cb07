package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrNoURL is returned by Open when the Dialer has no bridge URL.
	ErrNoURL = errors.New("bridge: url not configured")
	// ErrClosed is returned by requests on a closed or lost connection.
	ErrClosed = errors.New("bridge: connection closed")
)

// RemoteError is a request rejected by the bridge.
type RemoteError struct {
	Op      string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("bridge: %s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("bridge: %s: %s: %s", e.Op, e.Code, e.Message)
}

// IsRemote reports whether err is (or wraps) a RemoteError.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
