package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/zevanoo/baileys-ez/client"
	"github.com/zevanoo/baileys-ez/events"
	"github.com/zevanoo/baileys-ez/wa"
)

// stubCap opens as soon as it is subscribed.
type stubCap struct {
	mu   sync.Mutex
	subs []func(wa.Event)
}

func (s *stubCap) Self() string { return "628999@s.whatsapp.net" }

func (s *stubCap) SendText(context.Context, string, string, wa.SendOptions) (*wa.WebMessageInfo, error) {
	return &wa.WebMessageInfo{}, nil
}

func (s *stubCap) React(context.Context, string, wa.MessageKey, string) (*wa.WebMessageInfo, error) {
	return &wa.WebMessageInfo{}, nil
}

func (s *stubCap) Download(context.Context, *wa.WebMessageInfo) ([]byte, error) { return nil, nil }

func (s *stubCap) RequestPairingCode(context.Context, string, string) (string, error) {
	return "CODE", nil
}

func (s *stubCap) Close(context.Context) error { return nil }

func (s *stubCap) Subscribe(fn func(wa.Event)) func() {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
	go fn(wa.Event{Name: wa.EventConnectionUpdate, Payload: wa.ConnectionUpdate{Connection: wa.ConnOpen}})
	return func() {}
}

var errRefused = errors.New("connection refused")

// stubOpener fails for the ids in fail and opens stubCaps otherwise.
func stubOpener(fail ...string) client.Opener {
	bad := make(map[string]bool)
	for _, id := range fail {
		bad[id] = true
	}
	return client.OpenerFunc(func(_ context.Context, o client.OpenOptions) (client.Capability, error) {
		if bad[o.ClientID] {
			return nil, errRefused
		}
		return &stubCap{}, nil
	})
}

func writeCreds(t *testing.T, dir, body string) {
	t.Helper()

	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if body == "" {
		return
	}
	if err := os.WriteFile(filepath.Join(dir, "creds.json"), []byte(body), 0o600); err != nil {
		t.Fatalf("write creds: %v", err)
	}
}

const validCreds = `{"registered":true,"noiseKey":{"a":1},"signedIdentityKey":{"a":1},"signedPreKey":{"a":1},"registrationId":7,"advSecretKey":"x"}`

func TestRegistry_AddLookupRemove(t *testing.T) {
	t.Parallel()

	o := New(Config{Folder: t.TempDir()})
	ctx := context.Background()

	var added []string
	o.Events().On(events.ClientAdded, func(e events.Event) { added = append(added, e.ClientID) })

	for _, id := range []string{"b", "a"} {
		if _, err := o.AddClient(client.Options{ID: id}); err != nil {
			t.Fatalf("AddClient(%q): %v", id, err)
		}
	}
	if _, err := o.AddClient(client.Options{ID: "a"}); !errors.Is(err, ErrDuplicateClient) {
		t.Fatalf("duplicate AddClient err=%v", err)
	}
	if _, err := o.AddClient(client.Options{}); !errors.Is(err, client.ErrInvalidOptions) {
		t.Fatalf("empty AddClient err=%v", err)
	}

	hs := o.Clients()
	if len(hs) != 2 || hs[0].ID() != "a" || hs[1].ID() != "b" {
		t.Fatalf("Clients()=%v", hs)
	}
	if h, ok := o.Client("a"); !ok || h.SessionPath() != filepath.Join(o.Base(), "a") {
		t.Fatalf("Client(a)=%v,%v", h, ok)
	}
	if h, ok := o.Client("zzz"); ok || h != nil {
		t.Fatalf("Client(zzz)=%v,%v", h, ok)
	}

	if !o.RemoveClient(ctx, "a") {
		t.Fatalf("RemoveClient(a)=false")
	}
	if o.RemoveClient(ctx, "a") {
		t.Fatalf("second RemoveClient(a)=true")
	}
	if len(added) != 2 {
		t.Fatalf("client.added events=%v", added)
	}
}

func TestConnectAll_IndependentFailures(t *testing.T) {
	t.Parallel()

	o := New(Config{Folder: t.TempDir(), Opener: stubOpener("acct1")})
	ctx := context.Background()

	var errs []events.Event
	var mu sync.Mutex
	o.Events().On(events.Error, func(e events.Event) {
		mu.Lock()
		errs = append(errs, e)
		mu.Unlock()
	})

	for _, id := range []string{"acct1", "acct2"} {
		if _, err := o.AddClient(client.Options{ID: id}); err != nil {
			t.Fatalf("AddClient: %v", err)
		}
	}

	res := o.ConnectAll(ctx)
	if len(res) != 2 || res[0].ID != "acct1" || res[1].ID != "acct2" {
		t.Fatalf("results=%+v", res)
	}
	if !errors.Is(res[0].Err, errRefused) || !client.IsConnectError(res[0].Err) {
		t.Fatalf("acct1 err=%v", res[0].Err)
	}
	if res[1].Err != nil {
		t.Fatalf("acct2 err=%v", res[1].Err)
	}

	a1, _ := o.Client("acct1")
	a2, _ := o.Client("acct2")
	if a1.State() != client.Idle || a2.State() != client.Connected {
		t.Fatalf("states acct1=%v acct2=%v", a1.State(), a2.State())
	}

	mu.Lock()
	if len(errs) != 1 || errs[0].ClientID != "acct1" {
		t.Fatalf("error events=%v", errs)
	}
	mu.Unlock()

	for _, r := range o.DisconnectAll(ctx) {
		if r.Err != nil {
			t.Fatalf("DisconnectAll %s: %v", r.ID, r.Err)
		}
	}
	if a2.State() != client.Idle {
		t.Fatalf("acct2 state=%v after DisconnectAll", a2.State())
	}
}

func TestConnectAll_HangingClientDoesNotDelayOthers(t *testing.T) {
	t.Parallel()

	// acct1 blocks until its context ends; acct49 opens only once acct1 is
	// already in flight.
	entered := make(chan struct{})
	opener := client.OpenerFunc(func(ctx context.Context, o client.OpenOptions) (client.Capability, error) {
		if o.ClientID == "acct1" {
			close(entered)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		select {
		case <-entered:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &stubCap{}, nil
	})

	o := New(Config{Folder: t.TempDir(), Opener: opener})
	for _, id := range []string{"acct1", "acct49"} {
		if _, err := o.AddClient(client.Options{ID: id}); err != nil {
			t.Fatalf("AddClient: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	res := o.ConnectAll(ctx)
	if len(res) != 2 || res[0].ID != "acct1" || res[1].ID != "acct49" {
		t.Fatalf("results=%+v", res)
	}
	if !errors.Is(res[0].Err, context.DeadlineExceeded) {
		t.Fatalf("acct1 err=%v want deadline", res[0].Err)
	}
	if res[1].Err != nil {
		t.Fatalf("acct49 err=%v want nil", res[1].Err)
	}

	a49, _ := o.Client("acct49")
	if a49.State() != client.Connected {
		t.Fatalf("acct49 state=%v", a49.State())
	}

	// The failed client left an empty directory; the connected one is kept.
	if n := o.CleanClientSessions(context.Background()); n != 1 {
		t.Fatalf("cleaned=%d want=1", n)
	}

	for _, r := range o.DisconnectAll(context.Background()) {
		if r.Err != nil {
			t.Fatalf("DisconnectAll %s: %v", r.ID, r.Err)
		}
	}
}

func TestRemoveClient_WhileConnecting(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	opener := client.OpenerFunc(func(ctx context.Context, _ client.OpenOptions) (client.Capability, error) {
		close(entered)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	o := New(Config{Folder: t.TempDir(), Opener: opener})
	h, err := o.AddClient(client.Options{ID: "acct1"})
	if err != nil {
		t.Fatalf("AddClient: %v", err)
	}

	done := make(chan []Result, 1)
	go func() { done <- o.ConnectAll(context.Background()) }()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !o.RemoveClient(ctx, "acct1") {
		t.Fatalf("RemoveClient reported unknown id")
	}
	if h.State() != client.Idle {
		t.Fatalf("state=%v after RemoveClient", h.State())
	}
	res := <-done
	if len(res) != 1 || !errors.Is(res[0].Err, context.Canceled) {
		t.Fatalf("results=%+v", res)
	}
}

func TestEvents_RepublishedUntilRemoved(t *testing.T) {
	t.Parallel()

	o := New(Config{Folder: t.TempDir()})
	h, err := o.AddClient(client.Options{ID: "acct1"})
	if err != nil {
		t.Fatalf("AddClient: %v", err)
	}

	var got []events.Event
	o.Events().On("custom", func(e events.Event) { got = append(got, e) })

	h.Events().Publish(events.Event{ID: "E1", ClientID: "acct1", Name: "custom"})
	o.RemoveClient(context.Background(), "acct1")
	h.Events().Publish(events.Event{ID: "E2", ClientID: "acct1", Name: "custom"})

	if len(got) != 1 || got[0].ID != "E1" || got[0].ClientID != "acct1" {
		t.Fatalf("republished=%v", got)
	}
}

func TestClientSessions(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	extra := t.TempDir()
	o := New(Config{Folder: base, Opener: stubOpener()})
	ctx := context.Background()

	writeCreds(t, filepath.Join(base, "live"), `{"registered":false}`)
	writeCreds(t, filepath.Join(base, "idle"), "{")
	writeCreds(t, filepath.Join(base, "good"), validCreds)
	writeCreds(t, filepath.Join(base, "orphan"), "")
	writeCreds(t, filepath.Join(extra, "far"), "")

	for _, id := range []string{"live", "idle", "good"} {
		if _, err := o.AddClient(client.Options{ID: id}); err != nil {
			t.Fatalf("AddClient: %v", err)
		}
	}
	live, _ := o.Client("live")
	if err := live.Connect(ctx); err != nil {
		t.Fatalf("Connect(live): %v", err)
	}

	paths := o.ClientSessionPaths()
	if paths["idle"] != filepath.Join(o.Base(), "idle") || len(paths) != 3 {
		t.Fatalf("ClientSessionPaths=%v", paths)
	}

	st := o.CheckAllClientSessions(ctx)
	if st["live"].Valid || !st["good"].Valid || st["idle"].Reason == "" {
		t.Fatalf("CheckAllClientSessions=%+v", st)
	}

	list := o.ListAllSessionsWithClients(ctx, extra)
	byID := make(map[string]bool)
	seen := make(map[string]bool)
	for _, in := range list {
		if seen[in.Path] {
			t.Fatalf("duplicate path %s", in.Path)
		}
		seen[in.Path] = true
		byID[in.ID] = in.Valid
	}
	if len(list) != 5 || !byID["live"] || byID["idle"] || !byID["good"] || byID["orphan"] || byID["far"] {
		t.Fatalf("ListAllSessionsWithClients=%+v", list)
	}

	if n := o.CleanClientSessions(ctx); n != 1 {
		t.Fatalf("CleanClientSessions=%d want 1 (idle only)", n)
	}
	if _, err := os.Stat(live.SessionPath()); err != nil {
		t.Fatalf("live session removed: %v", err)
	}

	if n := o.CleanAllSessionsWithClients(ctx, extra); n != 2 {
		t.Fatalf("CleanAllSessionsWithClients=%d want 2 (orphan, far)", n)
	}
	for _, in := range o.ListAllSessionsWithClients(ctx, extra) {
		if !in.Valid {
			t.Fatalf("invalid session left behind: %+v", in)
		}
	}
}

func TestAddClient_AppliesDefaults(t *testing.T) {
	t.Parallel()

	var got client.OpenOptions
	opener := client.OpenerFunc(func(_ context.Context, o client.OpenOptions) (client.Capability, error) {
		got = o
		return &stubCap{}, nil
	})

	o := New(Config{
		Folder:       t.TempDir(),
		Opener:       opener,
		PairingCode:  "ZZZZ9999",
		SocketConfig: map[string]any{"browser": "ezwa"},
	})
	h, err := o.AddClient(client.Options{ID: "acct1", SocketConfig: map[string]any{"syncFullHistory": true}})
	if err != nil {
		t.Fatalf("AddClient: %v", err)
	}
	if err := h.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if got.PairingCode != "ZZZZ9999" || got.SocketConfig["browser"] != "ezwa" || got.SocketConfig["syncFullHistory"] != true {
		t.Fatalf("OpenOptions=%+v", got)
	}
}
