// Package client owns the connection lifecycle of one messaging account: it
// binds a stored session to a Capability, routes upstream events through the
// serializer, and republishes everything on the handle's own bus.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/zevanoo/baileys-ez/events"
	"github.com/zevanoo/baileys-ez/serialize"
	"github.com/zevanoo/baileys-ez/session"
	"github.com/zevanoo/baileys-ez/wa"
)

// State is the connection state of a Handle.
type State int

const (
	Idle State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// DefaultReconnectDelay is used when Reconnect.Delay is zero.
const DefaultReconnectDelay = 3 * time.Second

// ReconnectPolicy controls automatic reconnection after an unexpected close.
type ReconnectPolicy struct {
	Enabled bool
	Delay   time.Duration
	// MaxAttempts bounds consecutive attempts; 0 means unlimited.
	MaxAttempts int
}

// Options configure a Handle. ID is required.
type Options struct {
	ID          string
	PhoneNumber string
	PairingCode string

	// SocketConfig is passed to the Opener on top of DefaultSocketConfig.
	SocketConfig        map[string]any
	DefaultSocketConfig map[string]any

	// Serializer overrides DefaultSerializer, which overrides serialize.Serialize.
	Serializer        serialize.Func
	DefaultSerializer serialize.Func
	SerializeOptions  serialize.Options

	// SessionDir is the base folder holding one directory per session.
	SessionDir   string
	KeyPairCheck bool

	Opener    Opener
	Logger    *slog.Logger
	Observer  Observer
	Reconnect ReconnectPolicy
}

// PairingCodeEvent is the payload of events.PairingCode.
type PairingCodeEvent struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// Handle owns one connection lifecycle. It is safe for concurrent use.
type Handle struct {
	opts  Options
	log   *slog.Logger
	obs   Observer
	bus   *events.Bus
	store *session.Store
	path  string

	mu            sync.Mutex
	state         State
	capab         Capability
	unsubscribe   func()
	gen           uint64
	cancelConnect context.CancelFunc
	connectDone   chan struct{}
	cancelRetry   context.CancelFunc
}

// New validates opts and constructs an idle Handle.
func New(opts Options) (*Handle, error) {
	opts.ID = strings.TrimSpace(opts.ID)
	if opts.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidOptions)
	}
	if !session.ValidID(opts.ID) {
		return nil, fmt.Errorf("%w: id %q is not a valid directory name", ErrInvalidOptions, opts.ID)
	}

	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	log = log.With("client_id", opts.ID)

	obs := opts.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	if opts.Reconnect.Delay <= 0 {
		opts.Reconnect.Delay = DefaultReconnectDelay
	}

	storeOpts := []session.Option{session.WithLogger(log)}
	if opts.KeyPairCheck {
		storeOpts = append(storeOpts, session.WithKeyPairCheck())
	}
	store := session.NewStore(opts.SessionDir, storeOpts...)

	return &Handle{
		opts:  opts,
		log:   log,
		obs:   obs,
		bus:   events.NewBus(log),
		store: store,
		path:  store.Path(opts.ID),
	}, nil
}

// ID returns the handle id.
func (h *Handle) ID() string { return h.opts.ID }

// Events returns the handle's bus.
func (h *Handle) Events() *events.Bus { return h.bus }

// SessionPath returns the absolute session directory of the handle.
func (h *Handle) SessionPath() string { return h.path }

// PhoneNumber returns the configured phone number, if any.
func (h *Handle) PhoneNumber() string { return h.opts.PhoneNumber }

// State returns the current connection state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Socket returns the live capability, or nil when not connected.
func (h *Handle) Socket() Capability {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Connected {
		return nil
	}
	return h.capab
}

// attempt tracks the first open/close outcome of one connect call.
type attempt struct {
	once sync.Once
	done chan outcome
}

type outcome struct {
	update wa.ConnectionUpdate
	err    error
}

func newAttempt() *attempt { return &attempt{done: make(chan outcome, 1)} }

// resolve records o if nothing was recorded yet and reports whether it did.
func (a *attempt) resolve(o outcome) bool {
	first := false
	a.once.Do(func() {
		first = true
		a.done <- o
	})
	return first
}

// Connect opens the capability and waits until the connection reports open
// or close. On failure the handle is idle again, an events.Error with the
// *ConnectError is published, and the same error is returned.
func (h *Handle) Connect(ctx context.Context) error {
	if h.opts.Opener == nil {
		return fmt.Errorf("%w: no opener configured", ErrInvalidOptions)
	}

	h.mu.Lock()
	switch h.state {
	case Connecting:
		h.mu.Unlock()
		return ErrConnectInProgress
	case Connected:
		h.mu.Unlock()
		return ErrAlreadyConnected
	}
	h.gen++
	gen := h.gen
	cctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	h.cancelConnect = cancel
	h.connectDone = done
	h.setStateLocked(Connecting)
	h.mu.Unlock()
	defer close(done)
	defer cancel()

	h.log.Info("client.connect.start", "path", h.path)

	if err := os.MkdirAll(h.path, 0o700); err != nil {
		return h.failConnect(gen, nil, nil, &ConnectError{ClientID: h.ID(), Err: err})
	}
	status := h.store.CheckStatus(cctx, h.path)
	pairing := !status.Valid && h.opts.PhoneNumber != ""

	capab, err := h.opts.Opener.Open(cctx, OpenOptions{
		ClientID:     h.ID(),
		SessionDir:   h.path,
		Status:       status,
		PhoneNumber:  h.opts.PhoneNumber,
		PairingCode:  h.opts.PairingCode,
		SocketConfig: h.socketConfig(),
		Logger:       h.log,
	})
	if err != nil {
		return h.failConnect(gen, nil, nil, &ConnectError{ClientID: h.ID(), Err: err})
	}

	at := newAttempt()
	r := &router{h: h, capab: capab}
	unsubscribe := capab.Subscribe(func(ev wa.Event) {
		h.dispatch(gen, at, r, pairing, ev)
	})

	h.mu.Lock()
	if err := cctx.Err(); err != nil {
		// Disconnected while opening.
		h.mu.Unlock()
		return h.failConnect(gen, capab, unsubscribe, &ConnectError{ClientID: h.ID(), Err: err})
	}
	h.capab = capab
	h.unsubscribe = unsubscribe
	h.mu.Unlock()

	if pairing {
		code, err := capab.RequestPairingCode(cctx, h.opts.PhoneNumber, h.opts.PairingCode)
		if err != nil {
			return h.failConnect(gen, capab, unsubscribe, &ConnectError{ClientID: h.ID(), Err: fmt.Errorf("pairing code: %w", err)})
		}
		h.log.Info("client.pairing.code", "phone", h.opts.PhoneNumber)
		h.bus.Emit(h.ID(), events.PairingCode, PairingCodeEvent{Phone: h.opts.PhoneNumber, Code: code})
	}

	var res outcome
	select {
	case res = <-at.done:
	case <-cctx.Done():
		at.resolve(outcome{err: cctx.Err()})
		res = <-at.done
	}
	h.mu.Lock()
	if res.err == nil && cctx.Err() != nil {
		res.err = cctx.Err()
	}
	if res.err != nil {
		h.mu.Unlock()
		ce, ok := res.err.(*ConnectError)
		if !ok {
			ce = &ConnectError{ClientID: h.ID(), Err: res.err}
		}
		return h.failConnect(gen, capab, unsubscribe, ce)
	}
	h.cancelConnect = nil
	h.setStateLocked(Connected)
	h.mu.Unlock()

	h.log.Info("client.connect.ok")
	h.obs.ConnectFinished(h.ID(), nil)
	h.bus.Emit(h.ID(), events.Connection, res.update)
	return nil
}

// failConnect tears down a failed attempt and reports ce.
func (h *Handle) failConnect(gen uint64, capab Capability, unsubscribe func(), ce *ConnectError) error {
	if unsubscribe != nil {
		unsubscribe()
	}
	if capab != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := capab.Close(closeCtx); err != nil {
			h.log.Debug("client.close.fail", "err", err)
		}
		cancel()
	}

	h.mu.Lock()
	if h.gen == gen {
		h.capab = nil
		h.unsubscribe = nil
		h.cancelConnect = nil
		h.setStateLocked(Idle)
	}
	h.mu.Unlock()

	if ce.LoggedOut() {
		h.removeSession()
	}

	h.log.Warn("client.connect.fail", "err", ce)
	h.obs.ConnectFinished(h.ID(), ce)
	h.bus.Emit(h.ID(), events.Error, ce)
	return ce
}

// Disconnect closes the capability and leaves the stored session untouched.
// A pending reconnect is cancelled. Disconnecting an idle handle is a no-op.
// An attempt in flight is cancelled and awaited, so the handle is idle when
// Disconnect returns nil.
func (h *Handle) Disconnect(ctx context.Context) error {
	h.mu.Lock()
	if h.cancelRetry != nil {
		h.cancelRetry()
		h.cancelRetry = nil
	}

	switch h.state {
	case Idle:
		h.mu.Unlock()
		return nil
	case Connecting:
		if h.cancelConnect != nil {
			h.cancelConnect()
		}
		done := h.connectDone
		h.mu.Unlock()
		if done == nil {
			return nil
		}
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("client %s: disconnect: %w", h.ID(), ctx.Err())
		}
	}

	capab, unsubscribe := h.capab, h.unsubscribe
	h.capab, h.unsubscribe = nil, nil
	h.gen++
	h.setStateLocked(Idle)
	h.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	err := capab.Close(ctx)

	h.log.Info("client.disconnect")
	h.bus.Emit(h.ID(), events.Connection, wa.ConnectionUpdate{Connection: wa.ConnClose})
	if err != nil {
		return fmt.Errorf("client %s: close: %w", h.ID(), err)
	}
	return nil
}

// SerializeMessage normalizes raw with the handle's serializer: the custom
// one, else the registry default, else serialize.Serialize.
func (h *Handle) SerializeMessage(ctx context.Context, raw *wa.WebMessageInfo) (*serialize.Message, error) {
	var a serialize.Actions
	if c := h.Socket(); c != nil {
		a = c
	}
	return h.serializer()(ctx, a, raw, h.opts.SerializeOptions)
}

func (h *Handle) serializer() serialize.Func {
	switch {
	case h.opts.Serializer != nil:
		return h.opts.Serializer
	case h.opts.DefaultSerializer != nil:
		return h.opts.DefaultSerializer
	default:
		return serialize.Serialize
	}
}

// SendText sends a text message through the live capability.
func (h *Handle) SendText(ctx context.Context, jid, text string, opts wa.SendOptions) (*wa.WebMessageInfo, error) {
	c := h.Socket()
	if c == nil {
		return nil, ErrNotConnected
	}
	return c.SendText(ctx, jid, text, opts)
}

// React sends an emoji reaction through the live capability.
func (h *Handle) React(ctx context.Context, jid string, key wa.MessageKey, emoji string) (*wa.WebMessageInfo, error) {
	c := h.Socket()
	if c == nil {
		return nil, ErrNotConnected
	}
	return c.React(ctx, jid, key, emoji)
}

// Download fetches the media of msg through the live capability.
func (h *Handle) Download(ctx context.Context, msg *wa.WebMessageInfo) ([]byte, error) {
	c := h.Socket()
	if c == nil {
		return nil, ErrNotConnected
	}
	return c.Download(ctx, msg)
}

// socketConfig merges defaults < handle config < phone number and pairing code.
func (h *Handle) socketConfig() map[string]any {
	cfg := make(map[string]any, len(h.opts.DefaultSocketConfig)+len(h.opts.SocketConfig)+2)
	maps.Copy(cfg, h.opts.DefaultSocketConfig)
	maps.Copy(cfg, h.opts.SocketConfig)
	if h.opts.PhoneNumber != "" {
		cfg["phoneNumber"] = h.opts.PhoneNumber
	}
	if h.opts.PairingCode != "" {
		cfg["pairingCode"] = h.opts.PairingCode
	}
	return cfg
}

// dispatch handles one upstream event of connection generation gen.
func (h *Handle) dispatch(gen uint64, at *attempt, r *router, pairing bool, ev wa.Event) {
	switch ev.Name {
	case wa.EventConnectionUpdate:
		u, ok := ev.Payload.(wa.ConnectionUpdate)
		if !ok {
			return
		}
		h.onConnectionUpdate(gen, at, pairing, u)

	case wa.EventCredsUpdate:
		h.bus.Emit(h.ID(), events.CredsUpdate, ev.Payload)

	default:
		r.route(ev)
	}
}

func (h *Handle) onConnectionUpdate(gen uint64, at *attempt, pairing bool, u wa.ConnectionUpdate) {
	if u.QR != "" && !pairing {
		h.bus.Emit(h.ID(), events.QR, u.QR)
	}

	switch u.Connection {
	case wa.ConnOpen:
		// Connect publishes the open update once the handle is Connected.
		if at.resolve(outcome{update: u}) {
			return
		}
	case wa.ConnClose:
		ce := &ConnectError{ClientID: h.ID(), Err: ErrConnectionClosed}
		if d := u.LastDisconnect; d != nil {
			ce.StatusCode, ce.Reason = d.StatusCode, d.Reason
		}
		if at.resolve(outcome{err: ce}) {
			return
		}
		h.onDrop(gen, u)
		return
	}

	if u.Connection != "" || u.IsNewLogin {
		h.bus.Emit(h.ID(), events.Connection, u)
	}
}

// onDrop handles a close of an established connection.
func (h *Handle) onDrop(gen uint64, u wa.ConnectionUpdate) {
	h.mu.Lock()
	if h.gen != gen || h.state != Connected {
		h.mu.Unlock()
		return
	}
	capab, unsubscribe := h.capab, h.unsubscribe
	h.capab, h.unsubscribe = nil, nil
	h.gen++
	h.setStateLocked(Idle)
	h.mu.Unlock()

	// The capability delivers this event from its own goroutine; tear down
	// asynchronously so Close cannot wait on the delivering goroutine.
	go func() {
		if unsubscribe != nil {
			unsubscribe()
		}
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := capab.Close(closeCtx); err != nil {
			h.log.Debug("client.close.fail", "err", err)
		}
	}()

	h.bus.Emit(h.ID(), events.Connection, u)

	if u.LastDisconnect.LoggedOut() {
		h.log.Warn("client.logged_out", "path", h.path)
		h.removeSession()
		return
	}

	status, reason := 0, ""
	if d := u.LastDisconnect; d != nil {
		status, reason = d.StatusCode, d.Reason
	}
	h.log.Warn("client.connection.lost", "status", status, "reason", reason)

	if h.opts.Reconnect.Enabled {
		h.scheduleReconnect()
	}
}

func (h *Handle) scheduleReconnect() {
	ctx, cancel := context.WithCancel(context.Background())

	h.mu.Lock()
	if h.cancelRetry != nil {
		h.cancelRetry()
	}
	h.cancelRetry = cancel
	h.mu.Unlock()

	go h.reconnectLoop(ctx)
}

func (h *Handle) reconnectLoop(ctx context.Context) {
	p := h.opts.Reconnect
	for n := 1; p.MaxAttempts == 0 || n <= p.MaxAttempts; n++ {
		h.log.Info("client.reconnect.scheduled", "attempt", n, "delay", p.Delay)

		t := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		err := h.Connect(ctx)
		if err == nil || errors.Is(err, ErrAlreadyConnected) || errors.Is(err, ErrConnectInProgress) {
			return
		}
		var ce *ConnectError
		if errors.As(err, &ce) && ce.LoggedOut() {
			return
		}
		if ctx.Err() != nil {
			return
		}
		h.log.Warn("client.reconnect.fail", "attempt", n, "err", err)
	}
	h.log.Error("client.reconnect.exhausted", "attempts", p.MaxAttempts)
}

func (h *Handle) removeSession() {
	if err := os.RemoveAll(h.path); err != nil {
		h.log.Warn("client.session.remove.fail", "path", h.path, "err", err)
		return
	}
	h.log.Info("client.session.removed", "path", h.path)
}

func (h *Handle) setStateLocked(s State) {
	if h.state == s {
		return
	}
	h.state = s
	h.obs.StateChanged(h.ID(), s)
}
