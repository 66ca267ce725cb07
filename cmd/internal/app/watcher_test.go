package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/zevanoo/baileys-ez/events"
)

func TestWatchSessions_PublishesSessionChanged(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	orch, _ := NewOrchestrator(cfg, discardLogger())

	sub := orch.Events().Subscribe(16, func(e events.Event) bool { return e.Name == events.SessionChanged })
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watchSessions(ctx, orch, 20*time.Millisecond, discardLogger()) }()

	// The watcher registers asynchronously; rewrite until a valid status shows up.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	dir := filepath.Join(cfg.SessionDir, "acct1")
	writeCreds(t, dir, validCreds)

	for found := false; !found; {
		select {
		case e := <-sub.C:
			p, ok := e.Payload.(SessionChangedEvent)
			if !ok {
				t.Fatalf("payload type %T", e.Payload)
			}
			if e.ClientID != "acct1" || p.ID != "acct1" || p.Path != dir {
				t.Fatalf("unexpected event: %+v %+v", e, p)
			}
			found = p.Status.Valid
		case <-tick.C:
			writeCreds(t, dir, validCreds)
		case <-deadline:
			t.Fatalf("timed out waiting for session.changed")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watchSessions: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("watcher did not stop")
	}
}
