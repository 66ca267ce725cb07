package serialize

import (
	"errors"
	"fmt"
)

// ErrNoMedia is returned by Download on a message without downloadable media.
var ErrNoMedia = errors.New("message has no media")

// NormalizationError reports one raw message that could not be normalized.
// The surrounding batch is unaffected.
type NormalizationError struct {
	ClientID  string
	MessageID string
	Err       error
}

func (e *NormalizationError) Error() string {
	id := e.MessageID
	if id == "" {
		id = "?"
	}
	if e.ClientID != "" {
		return fmt.Sprintf("serialize %s/%s: %v", e.ClientID, id, e.Err)
	}
	return fmt.Sprintf("serialize %s: %v", id, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

// IsNoMedia reports whether err represents ErrNoMedia.
func IsNoMedia(err error) bool { return errors.Is(err, ErrNoMedia) }
