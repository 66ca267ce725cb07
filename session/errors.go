package session

import (
	"errors"
	"fmt"
)

var (
	// ErrCorrupt marks credentials that cannot be read or parsed.
	ErrCorrupt = errors.New("corrupt credentials")
	// ErrInvalidID marks a session id that is not a single path element.
	ErrInvalidID = errors.New("invalid session id")
	// ErrNotFound marks a session directory that does not exist.
	ErrNotFound = errors.New("session not found")
)

// OpError is a typed operation error with a stable Op + Kind contract.
// Kind is one of the sentinel errors above when applicable.
type OpError struct {
	Op   string
	Path string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	switch {
	case e.Err != nil && e.Path != "":
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Path, e.Kind, e.Err)
	case e.Path != "":
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
}

// Unwrap exposes both the kind and the underlying cause to errors.Is/As.
func (e *OpError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// IsCorrupt reports whether err represents ErrCorrupt.
func IsCorrupt(err error) bool { return errors.Is(err, ErrCorrupt) }

// IsNotFound reports whether err represents ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
