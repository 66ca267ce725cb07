package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/zevanoo/baileys-ez/contracts/bridge/v1"
	"github.com/zevanoo/baileys-ez/internal/ids"
	"github.com/zevanoo/baileys-ez/wa"
)

type settings struct {
	requestTimeout   time.Duration
	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration
}

type subscriber struct {
	id int
	fn func(wa.Event)
}

// Conn is a live bridge link. It implements client.Capability.
//
// Concurrency guarantees:
//   - Requests may be issued concurrently; each waits for its own result.
//   - Events are delivered on one goroutine, in arrival order. Events that
//     arrive before the first Subscribe are buffered.
//   - Shutdown is idempotent and fails every pending request with ErrClosed.
type Conn struct {
	ws  *websocket.Conn
	log *slog.Logger
	cfg settings

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	self    string
	pending map[string]chan v1.Envelope
	subs    []subscriber
	nextSub int
	queue   []wa.Event
	closed  bool
	closing atomic.Bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, log *slog.Logger, cfg settings) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		ws:      ws,
		log:     log,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		pending: make(map[string]chan v1.Envelope),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (c *Conn) start() {
	go c.readLoop()
	go c.deliverLoop()
	go c.heartbeatLoop()
}

// Self returns the account JID reported by the bridge on open.
func (c *Conn) Self() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Conn) setSelf(jid string) {
	c.mu.Lock()
	c.self = jid
	c.mu.Unlock()
}

// Subscribe registers fn for every upstream event.
func (c *Conn) Subscribe(fn func(wa.Event)) (cancel func()) {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.mu.Unlock()
	c.signal()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			out := c.subs[:0:0]
			for _, s := range c.subs {
				if s.id != id {
					out = append(out, s)
				}
			}
			c.subs = out
			c.mu.Unlock()
		})
	}
}

// SendText sends a text message and returns the created message.
func (c *Conn) SendText(ctx context.Context, jid, text string, opts wa.SendOptions) (*wa.WebMessageInfo, error) {
	p := v1.SendTextPayload{
		JID:       jid,
		Text:      text,
		Mentions:  opts.Mentions,
		Ephemeral: opts.Ephemeral,
		Extra:     opts.Extra,
	}
	if opts.Quoted != nil {
		b, err := json.Marshal(opts.Quoted)
		if err != nil {
			return nil, fmt.Errorf("bridge: encode quoted: %w", err)
		}
		p.Quoted = b
	}

	var res v1.MessageResult
	if err := c.call(ctx, v1.TypeSendText, p, &res); err != nil {
		return nil, err
	}
	return decodeMessage(v1.TypeSendText, res.Message)
}

// React sends a reaction to the message identified by key.
func (c *Conn) React(ctx context.Context, jid string, key wa.MessageKey, emoji string) (*wa.WebMessageInfo, error) {
	k, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("bridge: encode key: %w", err)
	}

	var res v1.MessageResult
	if err := c.call(ctx, v1.TypeReact, v1.ReactPayload{JID: jid, Key: k, Emoji: emoji}, &res); err != nil {
		return nil, err
	}
	return decodeMessage(v1.TypeReact, res.Message)
}

// Download returns the decrypted media of msg.
func (c *Conn) Download(ctx context.Context, msg *wa.WebMessageInfo) ([]byte, error) {
	m, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("bridge: encode message: %w", err)
	}

	var res v1.DownloadResult
	if err := c.call(ctx, v1.TypeDownload, v1.DownloadPayload{Message: m}, &res); err != nil {
		return nil, err
	}
	return res.Data, nil
}

// RequestPairingCode asks the bridge for a phone-number pairing code.
func (c *Conn) RequestPairingCode(ctx context.Context, phone, custom string) (string, error) {
	var res v1.PairingCodeResult
	if err := c.call(ctx, v1.TypePairingCode, v1.PairingCodePayload{Phone: phone, Custom: custom}, &res); err != nil {
		return "", err
	}
	return res.Code, nil
}

// Close asks the bridge to stop the socket, then closes the link. Stored
// credentials are left to the bridge.
func (c *Conn) Close(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	c.closing.Store(true)

	cctx, cancel := context.WithTimeout(ctx, closeGrace)
	err := c.call(cctx, v1.TypeClose, struct{}{}, nil)
	cancel()
	if err != nil {
		c.log.Debug("bridge.close.request.fail", "err", err)
	}

	c.shutdown(websocket.StatusNormalClosure, "bye", false)
	return nil
}

// ---- request/response ----

func (c *Conn) call(ctx context.Context, typ string, payload, out any) error {
	if _, ok := ctx.Deadline(); !ok && c.cfg.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.requestTimeout)
		defer cancel()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bridge: %s: encode: %w", typ, err)
	}

	now := time.Now().UTC()
	id := ids.MustULID(now)
	ch := make(chan v1.Envelope, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, v1.Envelope{V: v1.Version, Type: typ, ID: id, TS: now, Payload: body}); err != nil {
		return fmt.Errorf("bridge: %s: %w", typ, err)
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("bridge: %s: %w", typ, ctx.Err())
	case <-c.done:
		return ErrClosed
	case res := <-ch:
		if res.Error != nil {
			return &RemoteError{Op: typ, Code: res.Error.Code, Message: res.Error.Message}
		}
		if out == nil || len(res.Payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(res.Payload, out); err != nil {
			return fmt.Errorf("bridge: %s: decode result: %w", typ, err)
		}
		return nil
	}
}

func (c *Conn) write(ctx context.Context, env v1.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return c.ws.Write(ctx, websocket.MessageText, b)
}

func (c *Conn) resolve(env v1.Envelope) {
	c.mu.Lock()
	ch := c.pending[env.ID]
	c.mu.Unlock()

	if ch == nil {
		c.log.Debug("bridge.result.orphan", "id", env.ID)
		return
	}
	select {
	case ch <- env:
	default:
	}
}

func decodeMessage(op string, raw json.RawMessage) (*wa.WebMessageInfo, error) {
	out := &wa.WebMessageInfo{}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("bridge: %s: decode message: %w", op, err)
	}
	return out, nil
}

// ---- loops ----

func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			lost := c.ctx.Err() == nil && !c.closing.Load()
			if lost {
				c.log.Info("bridge.read.fail", "close_status", websocket.CloseStatus(err), "err", err)
			}
			c.shutdown(websocket.StatusAbnormalClosure, "read failed", lost)
			return
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Info("bridge.read.bad_json", "err", err)
			continue
		}
		if err := env.Validate(); err != nil {
			c.log.Info("bridge.read.bad_envelope", "err", err)
			continue
		}

		switch env.Type {
		case v1.TypeResult:
			c.resolve(env)
		case v1.TypeEvent:
			c.onEvent(env)
		default:
			c.log.Info("bridge.read.unexpected", "type", env.Type)
		}
	}
}

func (c *Conn) onEvent(env v1.Envelope) {
	var p v1.EventPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		c.log.Info("bridge.event.bad_payload", "err", err)
		return
	}
	ev, err := wa.DecodeEvent(p.Name, p.Data)
	if err != nil {
		c.log.Info("bridge.event.decode.fail", "event", p.Name, "err", err)
		return
	}
	c.push(ev)
}

func (c *Conn) push(ev wa.Event) {
	c.mu.Lock()
	if len(c.queue) >= maxPendingEvents {
		c.mu.Unlock()
		c.log.Warn("bridge.event.drop", "event", ev.Name, "queued", maxPendingEvents)
		return
	}
	c.queue = append(c.queue, ev)
	c.mu.Unlock()
	c.signal()
}

func (c *Conn) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Conn) deliverLoop() {
	for {
		select {
		case <-c.wake:
		case <-c.done:
		}

		for {
			c.mu.Lock()
			if len(c.subs) == 0 || len(c.queue) == 0 {
				finished := c.closed
				c.mu.Unlock()
				if finished {
					return
				}
				break
			}
			ev := c.queue[0]
			c.queue[0] = wa.Event{}
			c.queue = c.queue[1:]
			subs := append([]subscriber(nil), c.subs...)
			c.mu.Unlock()

			for _, s := range subs {
				c.deliver(s.fn, ev)
			}
		}
	}
}

func (c *Conn) deliver(fn func(wa.Event), ev wa.Event) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("bridge.subscriber.panic", "event", ev.Name, "panic", r)
		}
	}()
	fn(ev)
}

func (c *Conn) heartbeatLoop() {
	t := time.NewTicker(c.cfg.heartbeatEvery)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(c.ctx, c.cfg.heartbeatTimeout)
			err := c.ws.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				c.log.Info("bridge.ping.fail", "failures", failures, "err", err)
				if failures >= maxPingFailures {
					c.shutdown(websocket.StatusGoingAway, "heartbeat failed", true)
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// shutdown closes the link once. When lost is set, subscribers receive a
// close update so the owning handle can react to the drop.
func (c *Conn) shutdown(code websocket.StatusCode, reason string, lost bool) {
	c.closeOnce.Do(func() {
		if lost {
			c.log.Info("bridge.connection.lost", "reason", reason)
			c.push(wa.Event{Name: wa.EventConnectionUpdate, Payload: wa.ConnectionUpdate{
				Connection:     wa.ConnClose,
				LastDisconnect: &wa.DisconnectInfo{StatusCode: StatusConnectionLost, Reason: reason},
			}})
		}

		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)

		_ = c.ws.Close(code, reason)
		c.cancel()
	})
}
