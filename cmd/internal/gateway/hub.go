package gateway

import (
	"log/slog"
	"sync"

	v1 "github.com/zevanoo/baileys-ez/contracts/stream/v1"
	"github.com/zevanoo/baileys-ez/events"
)

// Hub tracks connected peers and fans orchestrator events out to them.
//
// Concurrency guarantees:
//   - Join/Leave are safe under concurrent Broadcast.
//   - Broadcast never blocks (drops under backpressure).
type Hub struct {
	log     *slog.Logger
	metrics Metrics

	mu    sync.RWMutex
	peers map[string]*Peer
}

// NewHub constructs an empty Hub.
func NewHub(log *slog.Logger, metrics Metrics) *Hub {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Hub{log: log, metrics: metrics, peers: make(map[string]*Peer)}
}

// Join registers p for fan-out.
func (h *Hub) Join(p *Peer) {
	if p == nil || p.SessionID == "" {
		return
	}
	h.mu.Lock()
	h.peers[p.SessionID] = p
	n := len(h.peers)
	h.mu.Unlock()

	h.log.Info("gateway.peer.join", "session_id", p.SessionID, "peers", n)
}

// Leave removes a peer and signals its shutdown.
func (h *Hub) Leave(sessionID string) {
	h.mu.Lock()
	p := h.peers[sessionID]
	delete(h.peers, sessionID)
	n := len(h.peers)
	h.mu.Unlock()

	// Removed from fan-out before its goroutines are told to stop.
	if p != nil {
		p.Close()
		h.log.Info("gateway.peer.leave", "session_id", sessionID, "peers", n)
	}
}

// Len returns the number of joined peers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// Broadcast delivers e to every matching peer and returns how many peers
// received it. The envelope is encoded at most once.
func (h *Hub) Broadcast(e events.Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var (
		env     v1.Envelope
		encoded bool
		sent    int
	)
	encode := func() v1.Envelope {
		if !encoded {
			env = eventEnvelope(e)
			encoded = true
		}
		return env
	}

	for _, p := range h.peers {
		select {
		case <-p.Done():
			continue
		default:
		}

		matched, ok := p.offer(e, encode)
		switch {
		case ok:
			sent++
		case matched:
			h.metrics.GatewayDropped()
			h.log.Debug("gateway.peer.drop", "session_id", p.SessionID, "event", e.Name)
		}
	}
	return sent
}
