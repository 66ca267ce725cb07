package serialize

import (
	"context"
	"fmt"

	"github.com/zevanoo/baileys-ez/wa"
)

var _ Func = Serialize

// Serialize normalizes raw. It returns (nil, nil) when raw carries no usable
// payload: no message, only bookkeeping variants, or a protocol message.
// A payload that cannot be decoded yields a *NormalizationError.
func Serialize(ctx context.Context, a Actions, raw *wa.WebMessageInfo, opts Options) (*Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}

	self := ""
	if a != nil {
		self = wa.DecodeJID(a.Self())
	}
	return normalize(a, self, raw, opts, opts.quoteDepth())
}

func normalize(a Actions, self string, raw *wa.WebMessageInfo, opts Options, quoteDepth int) (*Message, error) {
	inner := raw.Message.Unwrap()
	typ := inner.ContentType()
	if typ == "" || typ == wa.VariantProtocol {
		return nil, nil
	}

	content, err := inner.Content(typ)
	if err != nil {
		return nil, &NormalizationError{MessageID: raw.Key.ID, Err: fmt.Errorf("decode %s: %w", typ, err)}
	}

	m := &Message{
		Raw:       raw,
		Message:   raw.Message,
		Key:       raw.Key,
		ID:        raw.Key.ID,
		FromMe:    raw.Key.FromMe,
		From:      wa.DecodeJID(raw.Key.RemoteJID),
		PushName:  raw.PushName,
		Type:      typ,
		Msg:       inner[typ],
		Content:   content,
		Prefixes:  append([]string(nil), opts.prefixes()...),
		Timestamp: int64(raw.MessageTimestamp),
		actions:   a,
	}

	m.Device = GuessDevice(m.ID)
	m.IsBaileys = IsBaileysID(m.ID)
	m.IsGroup = wa.IsGroup(m.From)
	m.IsBroadcast = raw.Broadcast || wa.IsBroadcast(m.From)

	participant := firstNonEmpty(raw.Key.Participant, raw.Participant)
	switch {
	case m.FromMe && self != "":
		m.Sender = self
	case m.IsGroup || m.IsBroadcast:
		m.Sender = wa.DecodeJID(participant)
	default:
		m.Sender = m.From
	}
	if m.Sender == "" {
		m.Sender = m.From
	}
	m.Participant = wa.DecodeJID(participant)
	if m.Participant == "" {
		m.Participant = m.Sender
	}

	m.Body = bodyOf(typ, content)

	cmd := ParseCommand(m.Body, m.Prefixes)
	m.Prefix = cmd.Prefix
	m.Command = cmd.Name
	m.Args = cmd.Args
	m.Text = cmd.Text
	m.ArgsParsed = cmd.ArgsParsed

	ci := content.ContextInfo
	if ci != nil {
		m.Expiration = int(ci.Expiration)
	}
	if ci != nil && len(ci.MentionedJID) > 0 {
		m.Mentions = make([]string, 0, len(ci.MentionedJID))
		for _, j := range ci.MentionedJID {
			m.Mentions = append(m.Mentions, wa.DecodeJID(j))
		}
	} else {
		m.Mentions = ParseMentions(m.Body)
	}

	if wa.IsMediaVariant(typ) {
		m.IsMedia = true
		m.Mimetype = content.Mimetype
		m.Size = int64(content.FileLength)
		m.Height = content.Height.Int()
		m.Width = content.Width.Int()
		m.IsAnimated = content.IsAnimated
	}

	if ci != nil && len(ci.QuotedMessage) > 0 {
		m.IsQuoted = true
		if quoteDepth > 0 {
			// A quoted payload that fails to normalize leaves Quoted nil;
			// the outer message is still usable.
			m.Quoted, _ = normalize(a, self, quotedRaw(m, ci, self), opts, quoteDepth-1)
		}
	}

	return m, nil
}

// quotedRaw synthesizes the envelope of the message referenced by ci.
func quotedRaw(m *Message, ci *wa.ContextInfo, self string) *wa.WebMessageInfo {
	participant := wa.DecodeJID(ci.Participant)
	return &wa.WebMessageInfo{
		Key: wa.MessageKey{
			RemoteJID:   firstNonEmpty(ci.RemoteJID, m.From),
			FromMe:      participant != "" && participant == self,
			ID:          ci.StanzaID,
			Participant: participant,
		},
		Message:     ci.QuotedMessage,
		Participant: participant,
	}
}

func bodyOf(typ string, c wa.Content) string {
	switch typ {
	case wa.VariantConversation, wa.VariantExtendedText:
		return c.Text
	case wa.VariantImage, wa.VariantVideo, wa.VariantDocument, wa.VariantPTV:
		return c.Caption
	case wa.VariantButtonsResponse:
		return c.SelectedButtonID
	case wa.VariantListResponse:
		if c.SingleSelectReply != nil {
			return c.SingleSelectReply.SelectedRowID
		}
		return ""
	case wa.VariantTemplateReply:
		return c.SelectedID
	case wa.VariantInteractiveReply:
		return c.NativeFlow.SelectedID()
	case wa.VariantPollCreation, wa.VariantPollCreationV3:
		return c.Name
	}
	return firstNonEmpty(c.Text, c.Caption)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
