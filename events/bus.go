// Package events is the publish/subscribe primitive shared by client handles,
// the orchestrator and the host process.
//
// Each Bus owns its own subscribers. Components forward between buses by
// subscribing explicitly; nothing is inherited from an emitter base type.
package events

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/zevanoo/baileys-ez/internal/ids"
)

// Event is one published notification.
type Event struct {
	ID       string
	ClientID string
	Name     string
	Payload  any
	TS       time.Time
}

// Handler receives events synchronously on the publishing goroutine.
type Handler func(Event)

// Bus dispatches events to handlers registered per name or for every name.
//
// Concurrency guarantees:
//   - On/Off are safe under concurrent Emit.
//   - Handlers run outside the bus lock, in registration order.
//   - A panicking handler is logged and does not affect other handlers.
//   - Channel subscriptions never block Emit (drop under backpressure).
type Bus struct {
	log *slog.Logger

	mu     sync.RWMutex
	nextID uint64
	byName map[string][]handlerEntry
	all    []handlerEntry
	subs   map[uint64]*Subscription
}

type handlerEntry struct {
	id uint64
	fn Handler
}

// NewBus constructs a Bus. A nil logger discards output.
func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bus{
		log:    log,
		byName: make(map[string][]handlerEntry),
		subs:   make(map[uint64]*Subscription),
	}
}

// On registers fn for events named name and returns a function removing it.
func (b *Bus) On(name string, fn Handler) (off func()) {
	if b == nil || fn == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.byName[name] = append(b.byName[name], handlerEntry{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.byName[name] = removeEntry(b.byName[name], id)
			if len(b.byName[name]) == 0 {
				delete(b.byName, name)
			}
			b.mu.Unlock()
		})
	}
}

// OnAny registers fn for every event and returns a function removing it.
func (b *Bus) OnAny(fn Handler) (off func()) {
	if b == nil || fn == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, handlerEntry{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.all = removeEntry(b.all, id)
			b.mu.Unlock()
		})
	}
}

// Publish fills ID and TS when missing and dispatches e.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.TS.IsZero() {
		e.TS = time.Now().UTC()
	}
	if e.ID == "" {
		e.ID = ids.MustULID(e.TS)
	}

	b.mu.RLock()
	named := append([]handlerEntry(nil), b.byName[e.Name]...)
	all := append([]handlerEntry(nil), b.all...)
	subs := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for _, h := range named {
		b.call(h.fn, e)
	}
	for _, h := range all {
		b.call(h.fn, e)
	}
	for _, s := range subs {
		s.offer(e)
	}
}

// Emit is shorthand for Publish with a client id, name and payload.
func (b *Bus) Emit(clientID, name string, payload any) {
	b.Publish(Event{ClientID: clientID, Name: name, Payload: payload})
}

func (b *Bus) call(fn Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("events.handler.panic", "event", e.Name, "client_id", e.ClientID, "panic", r)
		}
	}()
	fn(e)
}

func removeEntry(in []handlerEntry, id uint64) []handlerEntry {
	out := in[:0:0]
	for _, h := range in {
		if h.id != id {
			out = append(out, h)
		}
	}
	return out
}
