// Package main provides a CI-friendly smoke test for the ezwa event stream.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack session establishment
//   - subscribe echo
//   - send_text -> send_ack (when -client and -jid are set)
//   - message.new event for the sent message
//   - history fetch containing the sent message (unless -no-history)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/zevanoo/baileys-ez/contracts/stream/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL     = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin    = flag.String("origin", "http://localhost", "Origin header to send")
		token     = flag.String("token", os.Getenv("EZWA_WS_TOKEN"), "stream token, sent in hello")
		clientID  = flag.String("client", "", "client id to send from; empty skips the send step")
		jid       = flag.String("jid", "", "recipient jid")
		text      = flag.String("text", "hello from ezwa smoke", "message text")
		noHistory = flag.Bool("no-history", false, "skip the history check (archive off)")
		timeout   = flag.Duration("timeout", 10*time.Second, "per-step timeout")
		verbose   = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if (*clientID == "") != (*jid == "") {
		fatalf("-client and -jid must be set together")
	}

	root := context.Background()

	c := mustConnect(root, *wsURL, *origin, *token, *timeout)
	defer func() { _ = c.conn.Close(websocket.StatusNormalClosure, "bye") }()

	if *verbose {
		fmt.Printf("connected: session=%s\n", c.sessionID)
	}

	var ids []string
	if *clientID != "" {
		ids = []string{*clientID}
	}
	c.mustSubscribe(root, ids, []string{"message.new", "connection"}, *timeout)

	if *clientID == "" {
		fmt.Printf("OK: session=%s (no send step)\n", c.sessionID)
		return
	}

	clientMsgID := fmt.Sprintf("cmsg-%d", time.Now().UnixNano())
	msgID := c.mustSendAndAssertAck(root, *clientID, *jid, *text, clientMsgID, *timeout)
	if *verbose {
		fmt.Printf("sent: message_id=%s\n", msgID)
	}

	c.mustReadEvent(root, *clientID, "message.new", *timeout)

	if !*noHistory {
		c.mustHistoryContains(root, *clientID, *jid, msgID, *timeout)
	}

	fmt.Printf("OK: session=%s client=%s message_id=%s\n", c.sessionID, *clientID, msgID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustConnect(parent context.Context, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	c.mustWrite(parent, v1.TypeHello, "hello", v1.HelloPayload{Token: token}, stepTimeout)

	var ack v1.HelloAckPayload
	decode(c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout), &ack)
	if strings.TrimSpace(ack.SessionID) == "" {
		fatalf("hello_ack missing session_id")
	}
	c.sessionID = ack.SessionID
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *smokeClient) mustSubscribe(parent context.Context, clientIDs, names []string, stepTimeout time.Duration) {
	c.mustWrite(parent, v1.TypeSubscribe, "subscribe", v1.SubscribePayload{ClientIDs: clientIDs, Events: names}, stepTimeout)

	var echo v1.SubscribePayload
	decode(c.mustReadUntilType(parent, v1.TypeSubscribed, stepTimeout), &echo)
	if len(echo.Events) != len(names) {
		fatalf("subscribed echo events mismatch: got=%q want=%q", echo.Events, names)
	}
}

func (c *smokeClient) mustSendAndAssertAck(parent context.Context, clientID, jid, text, clientMsgID string, stepTimeout time.Duration) string {
	c.mustWrite(parent, v1.TypeSendText, "send-"+clientMsgID, v1.SendTextPayload{
		ClientID:    clientID,
		JID:         jid,
		Text:        text,
		ClientMsgID: clientMsgID,
	}, stepTimeout)

	var ack v1.SendAckPayload
	decode(c.mustReadUntilType(parent, v1.TypeSendAck, stepTimeout), &ack)
	if ack.ClientID != clientID || ack.ClientMsgID != clientMsgID {
		fatalf("send_ack mismatch: %+v", ack)
	}
	if strings.TrimSpace(ack.MessageID) == "" {
		fatalf("send_ack missing message_id")
	}
	return ack.MessageID
}

func (c *smokeClient) mustReadEvent(parent context.Context, clientID, name string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		var p v1.EventPayload
		decode(c.mustReadUntilType(ctx, v1.TypeEvent, stepTimeout), &p)
		if p.ClientID == clientID && p.Name == name {
			return
		}
	}
}

func (c *smokeClient) mustHistoryContains(parent context.Context, clientID, chat, msgID string, stepTimeout time.Duration) {
	c.mustWrite(parent, v1.TypeHistoryFetch, "history", v1.HistoryFetchPayload{
		ClientID: clientID,
		Chat:     chat,
		Limit:    200,
	}, stepTimeout)

	var chunk v1.HistoryChunkPayload
	decode(c.mustReadUntilType(parent, v1.TypeHistoryChunk, stepTimeout), &chunk)
	for _, m := range chunk.Messages {
		if m.MessageID == msgID {
			if m.Seq <= 0 {
				fatalf("archived message has invalid seq: %d", m.Seq)
			}
			return
		}
	}
	fatalf("history_chunk missing message %s (%d messages)", msgID, len(chunk.Messages))
}

// mustReadUntilType skips pushed events while waiting for wantType.
func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", wantType, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q: %v", wantType, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q", wantType)
			}
			switch env.Type {
			case wantType:
				return env
			case v1.TypeError:
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
			case v1.TypeEvent:
				continue
			default:
				fatalf("unexpected envelope type: got=%q want=%q", env.Type, wantType)
			}
		}
	}
}

func (c *smokeClient) mustWrite(parent context.Context, typ, id string, payload any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	p, err := json.Marshal(payload)
	if err != nil {
		fatalf("marshal payload: %v", err)
	}
	b, err := json.Marshal(v1.Envelope{V: v1.Version, Type: typ, ID: id, TS: time.Now().UTC(), Payload: p})
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func decode(env v1.Envelope, v any) {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		fatalf("unmarshal %s payload: %v", env.Type, err)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
