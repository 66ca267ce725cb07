// Package gateway serves the ezwa event stream over websockets.
//
// Consumers say hello, choose which orchestrator events they want with
// subscribe, and may send text through a client or page through the message
// archive. Every connection has an origin check, a bounded outbound queue,
// heartbeats and a per-connection rate limit.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/zevanoo/baileys-ez/cmd/internal/archive"
	v1 "github.com/zevanoo/baileys-ez/contracts/stream/v1"
	"github.com/zevanoo/baileys-ez/events"
	"github.com/zevanoo/baileys-ez/internal/ids"
)

// Config tunes a Gateway. Zero values select defaults, except
// OriginRequired which DefaultConfig sets.
type Config struct {
	OriginRequired bool
	AllowedOrigins []string
	// InsecureSkipVerify disables the websocket library's origin check (dev only).
	InsecureSkipVerify bool

	// Token, when set, must be presented as a bearer header or in hello.
	Token string

	WriteTimeout     time.Duration
	ReadIdleTimeout  time.Duration
	SendTimeout      time.Duration
	SendQueueSize    int
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration
	RateEvents       int
	RateWindow       time.Duration
}

// DefaultConfig returns the secure defaults.
func DefaultConfig() Config {
	return Config{
		OriginRequired: DefaultOriginRequired,
		AllowedOrigins: strings.Split(DefaultAllowedOrigins, ","),
	}
}

func (c Config) withDefaults() Config {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = defaultReadIdle
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = defaultSendTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = defaultSendQueueSize
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.HeartbeatEvery <= 0 {
		c.HeartbeatEvery = defaultHeartbeatEvery
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = defaultRateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = defaultRateWindow
	}
	return c
}

// Gateway is the websocket entrypoint of the event stream.
type Gateway struct {
	log     *slog.Logger
	backend Backend
	store   archive.Store
	metrics Metrics
	hub     *Hub

	sub *events.Subscription

	cfg            Config
	token          []byte
	originPatterns []string
}

// New constructs a Gateway and subscribes to the backend bus immediately;
// events are fanned out once Run starts. store may be nil, which disables
// history_fetch. metrics may be nil.
func New(log *slog.Logger, backend Backend, store archive.Store, metrics Metrics, cfg Config) *Gateway {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	cfg = cfg.withDefaults()

	g := &Gateway{
		log:     log,
		backend: backend,
		store:   store,
		metrics: metrics,
		hub:     NewHub(log, metrics),
		cfg:     cfg,
		// websocket.Accept allows same-host origins on its own but needs
		// OriginPatterns for cross-origin ones.
		originPatterns: originPatterns(cfg.AllowedOrigins),
		sub:            backend.Events().Subscribe(hubQueueSize, nil),
	}
	if t := strings.TrimSpace(cfg.Token); t != "" {
		g.token = tokenDigest(t)
	}
	return g
}

// Hub exposes the peer registry.
func (g *Gateway) Hub() *Hub { return g.hub }

// Run forwards orchestrator events to subscribed peers until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	sub := g.sub
	defer func() {
		sub.Close()
		if n := sub.Dropped(); n > 0 {
			g.log.Warn("gateway.events.dropped", "events", n)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-sub.C:
			g.hub.Broadcast(e)
		}
	}
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and runs the stream session loop.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.InsecureSkipVerify,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	g.metrics.GatewayConnection(1)
	defer g.metrics.GatewayConnection(-1)

	peer := NewPeer(ids.MustULID(time.Now()), g.cfg.SendQueueSize)
	authed := tokenMatches(g.token, bearerToken(r))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The peer matches nothing until it subscribes.
	g.hub.Join(peer)

	var closeOnce sync.Once

	// shutdown is idempotent. peer.Send stays open; Leave removes the peer
	// from fan-out before closing it.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Leave(peer.SessionID)
			peer.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-peer.Done():
				return
			case env := <-peer.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", peer.SessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-peer.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", peer.SessionID, "failures", failures, "err", err)
					if failures >= maxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, peer, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", peer.SessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, peer, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, peer, "bad_envelope", err.Error())
			continue readLoop
		}

		if env.Type == v1.TypeHello {
			if err := g.onHello(ctx, peer, env, authed); err != nil {
				g.trySendError(ctx, peer, "hello_failed", err.Error())
				shutdown(websocket.StatusPolicyViolation, "hello failed")
				break readLoop
			}
			authed = true
			continue readLoop
		}

		if !authed {
			g.trySendError(ctx, peer, "unauthorized", "hello with a valid token first")
			shutdown(websocket.StatusPolicyViolation, "unauthorized")
			break readLoop
		}

		switch env.Type {
		case v1.TypeSubscribe:
			if err := g.onSubscribe(peer, env); err != nil {
				g.trySendError(ctx, peer, "subscribe_failed", err.Error())
				continue readLoop
			}

		case v1.TypeSendText:
			if err := g.onSendText(ctx, peer, env, now); err != nil {
				g.trySendError(ctx, peer, "send_failed", err.Error())
				continue readLoop
			}

		case v1.TypeHistoryFetch:
			if err := g.onHistoryFetch(ctx, peer, env); err != nil {
				g.trySendError(ctx, peer, "history_failed", err.Error())
				continue readLoop
			}

		default:
			g.trySendError(ctx, peer, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

// ---- handlers ----

func (g *Gateway) onHello(ctx context.Context, peer *Peer, env v1.Envelope, authed bool) error {
	var p v1.HelloPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
	}
	if !authed && !tokenMatches(g.token, p.Token) {
		return errors.New("invalid token")
	}

	ackPayload, _ := json.Marshal(v1.HelloAckPayload{SessionID: peer.SessionID})
	if !g.enqueue(ctx, peer, newEnvelope(v1.TypeHelloAck, ackPayload, time.Now().UTC())) {
		return errors.New("backpressure: hello_ack")
	}
	return nil
}

func (g *Gateway) onSubscribe(peer *Peer, env v1.Envelope) error {
	var p v1.SubscribePayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
	}

	clientSet, clientIDs := filterSet(p.ClientIDs)
	nameSet, names := filterSet(p.Events)

	echoPayload, _ := json.Marshal(v1.SubscribePayload{ClientIDs: clientIDs, Events: names})
	if !peer.Subscribe(clientSet, nameSet, newEnvelope(v1.TypeSubscribed, echoPayload, time.Now().UTC())) {
		g.metrics.GatewayDropped()
		return errors.New("backpressure: subscribed")
	}
	g.log.Info("gateway.subscribe", "session_id", peer.SessionID, "client_ids", clientIDs, "events", names)
	return nil
}

func (g *Gateway) onSendText(ctx context.Context, peer *Peer, env v1.Envelope, now time.Time) error {
	var p v1.SendTextPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	clientID := strings.TrimSpace(p.ClientID)
	jid := strings.TrimSpace(p.JID)
	if clientID == "" {
		return errors.New("missing client_id")
	}
	if jid == "" {
		return errors.New("missing jid")
	}
	if strings.TrimSpace(p.Text) == "" {
		return errors.New("empty text")
	}
	if len([]rune(p.Text)) > maxTextChars {
		return fmt.Errorf("text too long: max=%d chars", maxTextChars)
	}

	sendCtx, cancel := context.WithTimeout(ctx, g.cfg.SendTimeout)
	msg, err := g.backend.SendText(sendCtx, clientID, jid, p.Text)
	cancel()
	if err != nil {
		g.log.Info("gateway.send.fail", "session_id", peer.SessionID, "client_id", clientID, "err", err)
		return err
	}

	var messageID string
	if msg != nil {
		messageID = msg.Key.ID
	}
	ackPayload, _ := json.Marshal(v1.SendAckPayload{
		ClientID:    clientID,
		JID:         jid,
		ClientMsgID: p.ClientMsgID,
		MessageID:   messageID,
	})
	if !g.enqueue(ctx, peer, newEnvelope(v1.TypeSendAck, ackPayload, now)) {
		return errors.New("backpressure: send_ack")
	}
	return nil
}

func (g *Gateway) onHistoryFetch(ctx context.Context, peer *Peer, env v1.Envelope) error {
	if g.store == nil {
		return errors.New("archive disabled")
	}

	var p v1.HistoryFetchPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	clientID := strings.TrimSpace(p.ClientID)
	chat := strings.TrimSpace(p.Chat)
	if clientID == "" || chat == "" {
		return errors.New("missing client_id or chat")
	}

	out, err := g.store.History(ctx, archive.HistoryInput{
		ClientID: clientID,
		Chat:     chat,
		AfterSeq: p.AfterSeq,
		Limit:    archive.ClampLimit(p.Limit),
	})
	if err != nil {
		return err
	}

	msgs := make([]v1.ArchivedMessage, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, archivedMessage(m))
	}

	chunkPayload, _ := json.Marshal(v1.HistoryChunkPayload{
		ClientID: clientID,
		Chat:     chat,
		Messages: msgs,
		HasMore:  out.HasMore,
	})
	if !g.enqueue(ctx, peer, newEnvelope(v1.TypeHistoryChunk, chunkPayload, time.Now().UTC())) {
		return errors.New("backpressure: history_chunk")
	}
	return nil
}

// ---- send helpers ----

func (g *Gateway) trySendError(ctx context.Context, peer *Peer, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	_ = g.enqueue(ctx, peer, newEnvelope(v1.TypeError, p, time.Now().UTC()))
}

func (g *Gateway) enqueue(ctx context.Context, peer *Peer, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-peer.Done():
		return false
	case peer.Send <- env:
		return true
	default:
		g.metrics.GatewayDropped()
		return false
	}
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return readErrBadJSON
	}
	if strings.Contains(err.Error(), "unexpected end of JSON input") {
		return readErrBadJSON
	}
	return readErrUnknown
}
