package gateway

import (
	"strings"
	"sync"

	v1 "github.com/zevanoo/baileys-ez/contracts/stream/v1"
	"github.com/zevanoo/baileys-ez/events"
)

// Peer is one connected stream consumer.
//
// Send is never closed by the gateway so the fan-out loop cannot panic on a
// peer that is shutting down; done signals shutdown instead.
type Peer struct {
	SessionID string
	Send      chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once

	mu         sync.RWMutex
	subscribed bool
	clientIDs  map[string]struct{}
	names      map[string]struct{}
}

// NewPeer constructs a Peer with a bounded send queue.
func NewPeer(sessionID string, sendQueueSize int) *Peer {
	if sendQueueSize <= 0 {
		sendQueueSize = minSendQueueSize
	}
	return &Peer{
		SessionID: sessionID,
		Send:      make(chan v1.Envelope, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done is closed when the peer is shutting down.
func (p *Peer) Done() <-chan struct{} {
	if p == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.done
}

// Close signals the peer goroutines to stop (idempotent).
func (p *Peer) Close() {
	if p == nil {
		return
	}
	p.closeOnce.Do(func() { close(p.done) })
}

// Subscribe replaces the event filter and queues echo, atomically with
// respect to fan-out so no matching event is queued ahead of echo. Empty
// lists match everything. It reports false when echo could not be queued,
// in which case the filter is unchanged.
func (p *Peer) Subscribe(clientIDs, names map[string]struct{}, echo v1.Envelope) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.Send <- echo:
	default:
		return false
	}

	p.subscribed = true
	p.clientIDs = clientIDs
	p.names = names
	return true
}

// Matches reports whether e passes the peer's filter. A peer that never
// subscribed matches nothing.
func (p *Peer) Matches(e events.Event) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.matchesLocked(e)
}

// offer queues the envelope built by encode when e matches the filter.
// It never blocks; sent is false when the queue was full.
func (p *Peer) offer(e events.Event, encode func() v1.Envelope) (matched, sent bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.matchesLocked(e) {
		return false, false
	}
	select {
	case p.Send <- encode():
		return true, true
	default:
		return true, false
	}
}

func (p *Peer) matchesLocked(e events.Event) bool {
	if !p.subscribed {
		return false
	}
	if len(p.clientIDs) > 0 {
		if _, ok := p.clientIDs[e.ClientID]; !ok {
			return false
		}
	}
	if len(p.names) > 0 {
		if _, ok := p.names[e.Name]; !ok {
			return false
		}
	}
	return true
}

// filterSet normalizes a filter list into a set plus its de-duplicated
// ordered form.
func filterSet(in []string) (map[string]struct{}, []string) {
	list := make([]string, 0, len(in))
	if len(in) == 0 {
		return nil, list
	}
	set := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, dup := set[s]; dup {
			continue
		}
		set[s] = struct{}{}
		list = append(list, s)
	}
	if len(set) == 0 {
		return nil, list
	}
	return set, list
}
