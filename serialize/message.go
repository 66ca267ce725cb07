// Package serialize turns raw inbound messages into a stable, command-parsed
// representation with helpers bound to the owning client.
//
// Serialize is a pure transform apart from the helpers, which call back into
// the Actions they were built with.
package serialize

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/zevanoo/baileys-ez/wa"
)

// Quote depth limits.
const (
	DefaultMaxQuoteDepth = 1
	MaxQuoteDepthCap     = 4
)

// ErrUnbound is returned by helpers of a message built without Actions.
var ErrUnbound = errors.New("message is not bound to a client")

// Actions is the subset of a connected client the helpers call into.
type Actions interface {
	// Self returns the JID of the connected account, or "" when unknown.
	Self() string
	SendText(ctx context.Context, jid, text string, opts wa.SendOptions) (*wa.WebMessageInfo, error)
	React(ctx context.Context, jid string, key wa.MessageKey, emoji string) (*wa.WebMessageInfo, error)
	Download(ctx context.Context, msg *wa.WebMessageInfo) ([]byte, error)
}

// Func is the signature of a message serializer. Serialize is the default.
type Func func(ctx context.Context, a Actions, raw *wa.WebMessageInfo, opts Options) (*Message, error)

// Options tune normalization.
type Options struct {
	// Prefixes recognized in front of commands. Empty selects DefaultPrefixes.
	Prefixes []string
	// MaxQuoteDepth bounds quoted-message resolution. 0 selects
	// DefaultMaxQuoteDepth, a negative value disables resolution, and values
	// above MaxQuoteDepthCap are clamped.
	MaxQuoteDepth int
}

func (o Options) prefixes() []string {
	if len(o.Prefixes) == 0 {
		return DefaultPrefixes
	}
	return o.Prefixes
}

func (o Options) quoteDepth() int {
	switch {
	case o.MaxQuoteDepth < 0:
		return 0
	case o.MaxQuoteDepth == 0:
		return DefaultMaxQuoteDepth
	case o.MaxQuoteDepth > MaxQuoteDepthCap:
		return MaxQuoteDepthCap
	default:
		return o.MaxQuoteDepth
	}
}

// Message is the normalized form of one raw message. It is never mutated
// after Serialize returns it.
type Message struct {
	Raw     *wa.WebMessageInfo `json:"raw"`
	Message wa.Message         `json:"message"`
	Key     wa.MessageKey      `json:"key"`

	From        string `json:"from"`
	FromMe      bool   `json:"fromMe"`
	ID          string `json:"id"`
	Device      string `json:"device"`
	IsBaileys   bool   `json:"isBaileys"`
	IsGroup     bool   `json:"isGroup"`
	IsBroadcast bool   `json:"isBroadcast"`
	Participant string `json:"participant"`
	Sender      string `json:"sender"`
	PushName    string `json:"pushName"`

	Type    string          `json:"type"`
	Msg     json.RawMessage `json:"msg,omitempty"`
	Content wa.Content      `json:"content"`

	Mentions   []string   `json:"mentions"`
	Body       string     `json:"body"`
	Prefix     string     `json:"prefix,omitempty"`
	Prefixes   []string   `json:"prefixes"`
	Command    string     `json:"command,omitempty"`
	Args       []string   `json:"args"`
	Text       string     `json:"text"`
	ArgsParsed ParsedArgs `json:"argsParsed"`

	Expiration int   `json:"expiration"`
	Timestamp  int64 `json:"timestamp"`

	IsMedia    bool   `json:"isMedia"`
	Mimetype   string `json:"mimetype,omitempty"`
	Size       int64  `json:"size,omitempty"`
	Height     int    `json:"height,omitempty"`
	Width      int    `json:"width,omitempty"`
	IsAnimated bool   `json:"isAnimated,omitempty"`

	IsQuoted bool     `json:"isQuoted"`
	Quoted   *Message `json:"quoted"`

	actions Actions
}

// IsCommand reports whether the body started with a recognized prefix.
func (m *Message) IsCommand() bool { return m != nil && m.Command != "" }

// Reply sends text to the chat of m, quoting m unless opts names another
// message to quote.
func (m *Message) Reply(ctx context.Context, text string, opts ...wa.SendOptions) (*wa.WebMessageInfo, error) {
	if m.actions == nil {
		return nil, ErrUnbound
	}
	var o wa.SendOptions
	if len(opts) > 0 {
		o = opts[0]
	}
	if o.Quoted == nil {
		o.Quoted = m.Raw
	}
	return m.actions.SendText(ctx, m.From, text, o)
}

// React sends an emoji reaction to m. An empty emoji removes the reaction.
func (m *Message) React(ctx context.Context, emoji string) (*wa.WebMessageInfo, error) {
	if m.actions == nil {
		return nil, ErrUnbound
	}
	return m.actions.React(ctx, m.From, m.Key, emoji)
}

// Download fetches the media payload of m. Non-media messages fail with
// ErrNoMedia.
func (m *Message) Download(ctx context.Context) ([]byte, error) {
	if !m.IsMedia {
		return nil, ErrNoMedia
	}
	if m.actions == nil {
		return nil, ErrUnbound
	}
	return m.actions.Download(ctx, m.Raw)
}
