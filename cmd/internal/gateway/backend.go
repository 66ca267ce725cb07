package gateway

import (
	"context"
	"errors"

	"github.com/zevanoo/baileys-ez/events"
	"github.com/zevanoo/baileys-ez/orchestrator"
	"github.com/zevanoo/baileys-ez/wa"
)

// ErrUnknownClient is returned for a send addressed to an unregistered client.
var ErrUnknownClient = errors.New("gateway: unknown client")

// Backend is what the gateway needs from the orchestrator.
type Backend interface {
	Events() *events.Bus
	SendText(ctx context.Context, clientID, jid, text string) (*wa.WebMessageInfo, error)
}

// Metrics receives gateway counters.
type Metrics interface {
	GatewayConnection(delta int)
	GatewayDropped()
}

type noopMetrics struct{}

func (noopMetrics) GatewayConnection(int) {}
func (noopMetrics) GatewayDropped()       {}

// OrchestratorBackend adapts an Orchestrator to Backend.
type OrchestratorBackend struct {
	*orchestrator.Orchestrator
}

// SendText routes a text message through the named client.
func (b OrchestratorBackend) SendText(ctx context.Context, clientID, jid, text string) (*wa.WebMessageInfo, error) {
	h, ok := b.Client(clientID)
	if !ok {
		return nil, ErrUnknownClient
	}
	return h.SendText(ctx, jid, text, wa.SendOptions{})
}
