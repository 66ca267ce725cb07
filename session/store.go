// Package session validates, discovers and prunes persisted credential
// directories: one sub-directory per session id under a base directory, each
// holding a creds.json record plus capability-managed auxiliary files.
//
// Session state is always re-derived from disk; nothing is cached.
package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultFolder is the base directory name used when none is configured.
const DefaultFolder = "sessions"

// Invalidity reasons reported in Status.Reason.
const (
	ReasonMissingCreds    = "missing credentials"
	ReasonNotDirectory    = "not a directory"
	ReasonCorrupt         = "corrupt credentials"
	ReasonUnreadable      = "unreadable credentials"
	ReasonNotRegistered   = "not registered"
	ReasonMissingKeys     = "missing keys"
	ReasonKeyPairMismatch = "key mismatch"
)

// Status describes one session directory.
// Valid implies Registered, which implies Exists.
type Status struct {
	Exists     bool     `json:"exists"`
	Registered bool     `json:"registered"`
	Valid      bool     `json:"valid"`
	Reason     string   `json:"reason,omitempty"`
	Missing    []string `json:"missing,omitempty"`
}

// Store inspects and cleans session directories under one base path.
// It holds no mutable state; concurrent use across different ids is safe.
type Store struct {
	base         string
	log          *slog.Logger
	keyPairCheck bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for best-effort cleanup reporting.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithKeyPairCheck additionally requires stored Curve25519 key pairs to be
// self-consistent for a session to be valid.
func WithKeyPairCheck() Option {
	return func(s *Store) { s.keyPairCheck = true }
}

// NewStore constructs a Store rooted at base. A relative base is resolved
// against the working directory; an empty base selects DefaultFolder.
func NewStore(base string, opts ...Option) *Store {
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultFolder
	}
	if abs, err := filepath.Abs(base); err == nil {
		base = abs
	}

	s := &Store{
		base: filepath.Clean(base),
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Base returns the absolute base directory.
func (s *Store) Base() string { return s.base }

// Path returns the session directory for id.
func (s *Store) Path(id string) string { return filepath.Join(s.base, id) }

// CheckStatus inspects dir and its credentials record. It never fails:
// every problem is reported through Status.Reason.
func (s *Store) CheckStatus(_ context.Context, dir string) Status {
	info, err := os.Stat(dir)
	if err != nil {
		return Status{Reason: ReasonMissingCreds}
	}
	if !info.IsDir() {
		return Status{Reason: ReasonNotDirectory}
	}

	c, err := readCreds(dir)
	if err != nil {
		var op *OpError
		switch {
		case IsNotFound(err):
			return Status{Reason: ReasonMissingCreds}
		case errors.As(err, &op) && op.Op == "session.readCreds":
			return Status{Exists: true, Reason: ReasonUnreadable}
		default:
			return Status{Exists: true, Reason: ReasonCorrupt}
		}
	}

	st := Status{Exists: true, Registered: c.registered()}
	if !st.Registered {
		st.Reason = ReasonNotRegistered
		return st
	}
	if missing := c.missingKeys(); len(missing) > 0 {
		st.Reason = ReasonMissingKeys
		st.Missing = missing
		return st
	}
	if s.keyPairCheck {
		if name, ok := c.verifyKeyPairs(); !ok {
			st.Reason = ReasonKeyPairMismatch
			st.Missing = []string{name}
			return st
		}
	}

	st.Valid = true
	return st
}

// ValidateAndClean checks dir and removes it when invalid. Removal is best
// effort: failures are logged and reported as removed=false.
func (s *Store) ValidateAndClean(ctx context.Context, dir string) (Status, bool) {
	st := s.CheckStatus(ctx, dir)
	if st.Valid {
		return st, false
	}
	// Only directories are removed; a stray file at dir is left alone.
	if info, err := os.Lstat(dir); err != nil || !info.IsDir() {
		return st, false
	}

	if err := os.RemoveAll(dir); err != nil {
		s.log.Warn("session.clean.fail", "path", dir, "reason", st.Reason, "err", err)
		return st, false
	}
	s.log.Info("session.clean.removed", "path", dir, "reason", st.Reason)
	return st, true
}

// CleanupCorrupt validates every session under the base path and removes the
// invalid ones. One failure never stops the scan. It returns the number removed.
func (s *Store) CleanupCorrupt(ctx context.Context) int {
	dirs, err := listSubdirs(s.base)
	if err != nil {
		s.log.Warn("session.scan.fail", "path", s.base, "err", err)
		return 0
	}

	removed := 0
	for _, d := range dirs {
		if ctx.Err() != nil {
			break
		}
		if _, ok := s.ValidateAndClean(ctx, d); ok {
			removed++
		}
	}
	return removed
}

// ListValid returns the sorted ids of valid sessions under the base path.
// A missing base directory yields no sessions and no error.
func (s *Store) ListValid(ctx context.Context) ([]string, error) {
	dirs, err := listSubdirs(s.base)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.CheckStatus(ctx, d).Valid {
			out = append(out, filepath.Base(d))
		}
	}
	return out, nil
}

// Remove deletes the session directory for id and reports whether it existed.
func (s *Store) Remove(_ context.Context, id string) bool {
	if !ValidID(id) {
		return false
	}
	dir := s.Path(id)
	if _, err := os.Lstat(dir); err != nil {
		return false
	}
	if err := os.RemoveAll(dir); err != nil {
		s.log.Warn("session.remove.fail", "session_id", id, "err", err)
		return false
	}
	s.log.Info("session.removed", "session_id", id)
	return true
}

// ValidID reports whether id is usable as a single directory name.
func ValidID(id string) bool {
	id = strings.TrimSpace(id)
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && filepath.Base(id) == id
}

// listSubdirs returns the sorted immediate sub-directories of dir.
func listSubdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
