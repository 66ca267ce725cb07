package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zevanoo/baileys-ez/events"
	"github.com/zevanoo/baileys-ez/wa"
)

// fakeCap is an in-memory Capability driven by the test.
type fakeCap struct {
	mu   sync.Mutex
	subs map[int]func(wa.Event)
	next int

	self        string
	pairingCode string
	pairingErr  error
	onSubscribe func(f *fakeCap)

	closed atomic.Int32
	sent   []string
}

func newFakeCap() *fakeCap {
	return &fakeCap{subs: make(map[int]func(wa.Event)), self: "628999:1@s.whatsapp.net"}
}

func (f *fakeCap) Self() string { return f.self }

func (f *fakeCap) SendText(_ context.Context, jid, text string, _ wa.SendOptions) (*wa.WebMessageInfo, error) {
	f.mu.Lock()
	f.sent = append(f.sent, jid+"|"+text)
	f.mu.Unlock()
	return &wa.WebMessageInfo{Key: wa.MessageKey{RemoteJID: jid, FromMe: true, ID: "OUT"}}, nil
}

func (f *fakeCap) React(context.Context, string, wa.MessageKey, string) (*wa.WebMessageInfo, error) {
	return &wa.WebMessageInfo{}, nil
}

func (f *fakeCap) Download(context.Context, *wa.WebMessageInfo) ([]byte, error) {
	return []byte("media"), nil
}

func (f *fakeCap) Subscribe(fn func(wa.Event)) func() {
	f.mu.Lock()
	f.next++
	id := f.next
	f.subs[id] = fn
	hook := f.onSubscribe
	f.mu.Unlock()

	if hook != nil {
		go hook(f)
	}
	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *fakeCap) RequestPairingCode(context.Context, string, string) (string, error) {
	return f.pairingCode, f.pairingErr
}

func (f *fakeCap) Close(context.Context) error {
	f.closed.Add(1)
	return nil
}

// emit delivers ev to every subscriber on the calling goroutine.
func (f *fakeCap) emit(ev wa.Event) {
	f.mu.Lock()
	fns := make([]func(wa.Event), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (f *fakeCap) open() {
	f.emit(wa.Event{Name: wa.EventConnectionUpdate, Payload: wa.ConnectionUpdate{Connection: wa.ConnOpen}})
}

func (f *fakeCap) closeWith(status int) {
	f.emit(wa.Event{Name: wa.EventConnectionUpdate, Payload: wa.ConnectionUpdate{
		Connection:     wa.ConnClose,
		LastDisconnect: &wa.DisconnectInfo{StatusCode: status, Reason: "test"},
	}})
}

// fakeOpener hands out capabilities built by mk and records every call.
type fakeOpener struct {
	mu    sync.Mutex
	calls []OpenOptions
	caps  []*fakeCap
	mk    func(n int) (*fakeCap, error)
}

func (o *fakeOpener) Open(_ context.Context, opts OpenOptions) (Capability, error) {
	o.mu.Lock()
	o.calls = append(o.calls, opts)
	n := len(o.calls)
	o.mu.Unlock()

	c, err := o.mk(n)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.caps = append(o.caps, c)
	o.mu.Unlock()
	return c, nil
}

func (o *fakeOpener) last() *fakeCap {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.caps) == 0 {
		return nil
	}
	return o.caps[len(o.caps)-1]
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.calls)
}

// openingOpener returns capabilities that report open as soon as subscribed.
func openingOpener() *fakeOpener {
	return &fakeOpener{mk: func(int) (*fakeCap, error) {
		c := newFakeCap()
		c.onSubscribe = func(f *fakeCap) { f.open() }
		return c, nil
	}}
}

// recorder collects bus events.
type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func record(b *events.Bus) *recorder {
	r := &recorder{}
	b.OnAny(func(e events.Event) {
		r.mu.Lock()
		r.evs = append(r.evs, e)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) named(name string) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.evs {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func writeValidSession(t *testing.T, base, id string) {
	t.Helper()

	dir := filepath.Join(base, id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	creds := `{"registered":true,"noiseKey":{"a":1},"signedIdentityKey":{"a":1},"signedPreKey":{"a":1},"registrationId":7,"advSecretKey":"x"}`
	if err := os.WriteFile(filepath.Join(dir, "creds.json"), []byte(creds), 0o600); err != nil {
		t.Fatalf("write creds: %v", err)
	}
}

var errBoom = errors.New("boom")
