// Package bridge implements client.Capability on top of an external protocol
// bridge reached over a websocket (see contracts/bridge/v1).
//
// One websocket carries exactly one client socket. Requests are correlated
// with results by envelope id; upstream events are decoded into wa.Event
// values and delivered serially to subscribers.
package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/zevanoo/baileys-ez/client"
	v1 "github.com/zevanoo/baileys-ez/contracts/bridge/v1"
)

const (
	defaultRequestTimeout   = 30 * time.Second
	defaultReadLimit        = 32 << 20 // media downloads travel inline
	defaultHeartbeatEvery   = 25 * time.Second
	defaultHeartbeatTimeout = 5 * time.Second

	maxPingFailures  = 3
	maxPendingEvents = 10_000
	closeGrace       = 2 * time.Second
)

// StatusConnectionLost is the status code of the close update synthesized
// when the link to the bridge drops.
const StatusConnectionLost = 428

// Dialer opens bridge-backed capabilities. The zero value is not usable; URL
// is required.
type Dialer struct {
	URL    string
	Header http.Header
	Logger *slog.Logger

	RequestTimeout   time.Duration
	ReadLimit        int64
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration
}

var _ client.Opener = (*Dialer)(nil)

// Open dials the bridge and asks it to start the socket described by opts.
// ctx bounds the dial and the open request only; the returned capability
// lives until Close or until the link drops.
func (d *Dialer) Open(ctx context.Context, opts client.OpenOptions) (client.Capability, error) {
	if d == nil || strings.TrimSpace(d.URL) == "" {
		return nil, ErrNoURL
	}

	log := opts.Logger
	if log == nil {
		log = d.Logger
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log = log.With("client_id", opts.ClientID)

	ws, resp, err := websocket.Dial(ctx, d.URL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   d.Header,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("bridge: dial: %w", err)
	}
	if sp := ws.Subprotocol(); sp != v1.Subprotocol {
		_ = ws.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("bridge: subprotocol mismatch: got=%q want=%q", sp, v1.Subprotocol)
	}
	ws.SetReadLimit(positive(d.ReadLimit, defaultReadLimit))

	c := newConn(ws, log, settings{
		requestTimeout:   positive(d.RequestTimeout, defaultRequestTimeout),
		heartbeatEvery:   positive(d.HeartbeatEvery, defaultHeartbeatEvery),
		heartbeatTimeout: positive(d.HeartbeatTimeout, defaultHeartbeatTimeout),
	})
	c.start()

	var res v1.OpenResult
	err = c.call(ctx, v1.TypeOpen, v1.OpenPayload{
		ClientID:     opts.ClientID,
		SessionDir:   opts.SessionDir,
		Registered:   opts.Status.Registered,
		PhoneNumber:  opts.PhoneNumber,
		PairingCode:  opts.PairingCode,
		SocketConfig: opts.SocketConfig,
	}, &res)
	if err != nil {
		c.shutdown(websocket.StatusNormalClosure, "open failed", false)
		return nil, err
	}

	c.setSelf(res.Self)
	log.Info("bridge.open", "self", res.Self)
	return c, nil
}

func positive[T int64 | time.Duration](v, def T) T {
	if v <= 0 {
		return def
	}
	return v
}
