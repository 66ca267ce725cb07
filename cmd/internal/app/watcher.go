package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/zevanoo/baileys-ez/events"
	"github.com/zevanoo/baileys-ez/session"
)

// SessionChangedEvent is the payload of events.SessionChanged.
type SessionChangedEvent struct {
	ID     string             `json:"id"`
	Path   string             `json:"path"`
	Kind   session.ChangeKind `json:"kind"`
	Status session.Status     `json:"status"`
}

type sessionSource interface {
	Watch(ctx context.Context, debounce time.Duration) (<-chan session.Change, error)
	CheckStatus(ctx context.Context, dir string) session.Status
	Events() *events.Bus
}

// watchSessions re-checks every changed session directory and republishes
// the result on the orchestrator bus until ctx is done.
func watchSessions(ctx context.Context, src sessionSource, debounce time.Duration, log *slog.Logger) error {
	changes, err := src.Watch(ctx, debounce)
	if err != nil {
		return err
	}
	log.Info("session.watch.start", "debounce_ms", debounce.Milliseconds())

	for c := range changes {
		st := src.CheckStatus(ctx, c.Path)
		log.Info("session.changed",
			"client_id", c.ID,
			"kind", string(c.Kind),
			"valid", st.Valid,
			"reason", st.Reason,
		)
		src.Events().Emit(c.ID, events.SessionChanged, SessionChangedEvent{
			ID:     c.ID,
			Path:   c.Path,
			Kind:   c.Kind,
			Status: st,
		})
	}
	log.Info("session.watch.stop")
	return nil
}
