package wa

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// MessageKey identifies one message within a chat.
type MessageKey struct {
	RemoteJID   string `json:"remoteJid,omitempty"`
	FromMe      bool   `json:"fromMe,omitempty"`
	ID          string `json:"id,omitempty"`
	Participant string `json:"participant,omitempty"`
}

// WebMessageInfo is the raw inbound message envelope.
type WebMessageInfo struct {
	Key              MessageKey `json:"key"`
	Message          Message    `json:"message,omitempty"`
	MessageTimestamp Int64      `json:"messageTimestamp,omitempty"`
	PushName         string     `json:"pushName,omitempty"`
	Participant      string     `json:"participant,omitempty"`
	Broadcast        bool       `json:"broadcast,omitempty"`
	MessageStubType  Int64      `json:"messageStubType,omitempty"`
}

// Message is the polymorphic payload of a WebMessageInfo: exactly one content
// variant is normally populated ("conversation", "imageMessage", ...), possibly
// next to bookkeeping keys such as "messageContextInfo".
//
// It is kept as raw JSON per variant so unknown variants survive untouched.
type Message map[string]json.RawMessage

// Variant names with dedicated handling.
const (
	VariantConversation       = "conversation"
	VariantExtendedText       = "extendedTextMessage"
	VariantImage              = "imageMessage"
	VariantVideo              = "videoMessage"
	VariantAudio              = "audioMessage"
	VariantSticker            = "stickerMessage"
	VariantDocument           = "documentMessage"
	VariantPTV                = "ptvMessage"
	VariantButtonsResponse    = "buttonsResponseMessage"
	VariantListResponse       = "listResponseMessage"
	VariantTemplateReply      = "templateButtonReplyMessage"
	VariantInteractiveReply   = "interactiveResponseMessage"
	VariantReaction           = "reactionMessage"
	VariantPollCreation       = "pollCreationMessage"
	VariantPollCreationV3     = "pollCreationMessageV3"
	VariantProtocol           = "protocolMessage"
	VariantSenderKeyDist      = "senderKeyDistributionMessage"
	VariantMessageContextInfo = "messageContextInfo"
)

// wrapperVariants hold a nested {"message": {...}} payload.
var wrapperVariants = []string{
	"ephemeralMessage",
	"viewOnceMessage",
	"viewOnceMessageV2",
	"viewOnceMessageV2Extension",
	"documentWithCaptionMessage",
	"editedMessage",
}

// variantPriority breaks ties when several content keys are populated.
var variantPriority = []string{
	VariantConversation,
	VariantExtendedText,
	VariantImage,
	VariantVideo,
	VariantAudio,
	VariantSticker,
	VariantDocument,
	VariantPTV,
	VariantButtonsResponse,
	VariantListResponse,
	VariantTemplateReply,
	VariantInteractiveReply,
	VariantReaction,
	VariantPollCreation,
	VariantPollCreationV3,
	VariantProtocol,
}

var mediaVariants = map[string]bool{
	VariantImage:    true,
	VariantVideo:    true,
	VariantAudio:    true,
	VariantSticker:  true,
	VariantDocument: true,
	VariantPTV:      true,
}

// IsMediaVariant reports whether the variant carries downloadable media.
func IsMediaVariant(name string) bool { return mediaVariants[name] }

const maxUnwrapDepth = 4

// Unwrap strips envelope variants (ephemeral, view-once, edited, ...) and
// returns the innermost payload. The receiver is never modified.
func (m Message) Unwrap() Message {
	cur := m
	for range maxUnwrapDepth {
		inner, ok := cur.wrapped()
		if !ok {
			return cur
		}
		cur = inner
	}
	return cur
}

func (m Message) wrapped() (Message, bool) {
	for _, k := range wrapperVariants {
		raw, ok := m[k]
		if !ok || isNull(raw) {
			continue
		}
		var w struct {
			Message Message `json:"message"`
		}
		if err := json.Unmarshal(raw, &w); err != nil || len(w.Message) == 0 {
			continue
		}
		return w.Message, true
	}
	return nil, false
}

// ContentType returns the name of the populated content variant, or "" when
// the payload carries none.
func (m Message) ContentType() string {
	if len(m) == 0 {
		return ""
	}
	for _, k := range variantPriority {
		if raw, ok := m[k]; ok && !isNull(raw) {
			return k
		}
	}

	keys := make([]string, 0, len(m))
	for k, raw := range m {
		if k == VariantSenderKeyDist || k == VariantMessageContextInfo || isNull(raw) {
			continue
		}
		if k == VariantConversation || strings.Contains(k, "Message") {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	return keys[0]
}

// Content decodes the named variant into the common Content shape.
// The "conversation" variant (a bare string) is mapped to Content.Text.
func (m Message) Content(variant string) (Content, error) {
	raw, ok := m[variant]
	if !ok || isNull(raw) {
		return Content{}, nil
	}
	if variant == VariantConversation {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Content{}, err
		}
		return Content{Text: s}, nil
	}
	var c Content
	if err := json.Unmarshal(raw, &c); err != nil {
		return Content{}, err
	}
	return c, nil
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// Content is the union of the fields the normalizer reads from any variant.
// Unknown fields are ignored; absent fields stay zero.
type Content struct {
	Text    string `json:"text,omitempty"`
	Caption string `json:"caption,omitempty"`

	Mimetype   string `json:"mimetype,omitempty"`
	FileLength Int64  `json:"fileLength,omitempty"`
	FileName   string `json:"fileName,omitempty"`
	Height     Int64  `json:"height,omitempty"`
	Width      Int64  `json:"width,omitempty"`
	Seconds    Int64  `json:"seconds,omitempty"`
	IsAnimated bool   `json:"isAnimated,omitempty"`
	URL        string `json:"url,omitempty"`
	DirectPath string `json:"directPath,omitempty"`

	SelectedButtonID  string             `json:"selectedButtonId,omitempty"`
	SingleSelectReply *SingleSelectReply `json:"singleSelectReply,omitempty"`
	SelectedID        string             `json:"selectedId,omitempty"`
	NativeFlow        *NativeFlowReply   `json:"nativeFlowResponseMessage,omitempty"`

	Name string      `json:"name,omitempty"`
	Key  *MessageKey `json:"key,omitempty"`

	ContextInfo *ContextInfo `json:"contextInfo,omitempty"`
}

// SingleSelectReply is the selection of a list message.
type SingleSelectReply struct {
	SelectedRowID string `json:"selectedRowId,omitempty"`
}

// NativeFlowReply is the reply of an interactive (native flow) message.
type NativeFlowReply struct {
	Name       string `json:"name,omitempty"`
	ParamsJSON string `json:"paramsJson,omitempty"`
}

// SelectedID extracts the "id" field from the reply parameters, if any.
func (r *NativeFlowReply) SelectedID() string {
	if r == nil || r.ParamsJSON == "" {
		return ""
	}
	var p struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(r.ParamsJSON), &p); err != nil {
		return ""
	}
	return p.ID
}

// ContextInfo carries reply, mention and disappearing-message metadata.
type ContextInfo struct {
	StanzaID      string   `json:"stanzaId,omitempty"`
	Participant   string   `json:"participant,omitempty"`
	RemoteJID     string   `json:"remoteJid,omitempty"`
	QuotedMessage Message  `json:"quotedMessage,omitempty"`
	MentionedJID  []string `json:"mentionedJid,omitempty"`
	Expiration    Int64    `json:"expiration,omitempty"`
}
