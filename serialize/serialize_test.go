package serialize

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/zevanoo/baileys-ez/wa"
)

type fakeActions struct {
	self     string
	sent     []string
	quoted   []*wa.WebMessageInfo
	reacted  []string
	download []byte
}

func (f *fakeActions) Self() string { return f.self }

func (f *fakeActions) SendText(_ context.Context, jid, text string, opts wa.SendOptions) (*wa.WebMessageInfo, error) {
	f.sent = append(f.sent, jid+"|"+text)
	f.quoted = append(f.quoted, opts.Quoted)
	return &wa.WebMessageInfo{Key: wa.MessageKey{RemoteJID: jid, FromMe: true, ID: "OUT1"}}, nil
}

func (f *fakeActions) React(_ context.Context, jid string, key wa.MessageKey, emoji string) (*wa.WebMessageInfo, error) {
	f.reacted = append(f.reacted, jid+"|"+key.ID+"|"+emoji)
	return &wa.WebMessageInfo{}, nil
}

func (f *fakeActions) Download(context.Context, *wa.WebMessageInfo) ([]byte, error) {
	return f.download, nil
}

func rawFromJSON(t *testing.T, s string) *wa.WebMessageInfo {
	t.Helper()

	var m wa.WebMessageInfo
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	return &m
}

func TestSerialize_PingCommand(t *testing.T) {
	t.Parallel()

	raw := rawFromJSON(t, `{
		"key": {"remoteJid": "628111:3@s.whatsapp.net", "fromMe": false, "id": "3EB0ABCDEF12"},
		"message": {"conversation": "!ping hello world"},
		"messageTimestamp": "1700000000",
		"pushName": "Ann"
	}`)

	m, err := Serialize(context.Background(), &fakeActions{self: "628999@s.whatsapp.net"}, raw, Options{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if m == nil {
		t.Fatalf("Serialize returned nil")
	}

	if m.Prefix != "!" || m.Command != "ping" || m.Text != "hello world" {
		t.Fatalf("prefix=%q command=%q text=%q", m.Prefix, m.Command, m.Text)
	}
	if !reflect.DeepEqual(m.Args, []string{"hello", "world"}) {
		t.Fatalf("args=%v", m.Args)
	}
	if m.From != "628111@s.whatsapp.net" || m.Sender != m.From || m.IsGroup {
		t.Fatalf("from=%q sender=%q group=%v", m.From, m.Sender, m.IsGroup)
	}
	if m.Timestamp != 1700000000 || m.PushName != "Ann" || m.Type != wa.VariantConversation {
		t.Fatalf("ts=%d push=%q type=%q", m.Timestamp, m.PushName, m.Type)
	}
	if !m.IsBaileys || m.Device != DeviceUnknown {
		t.Fatalf("isBaileys=%v device=%q", m.IsBaileys, m.Device)
	}
}

func TestSerialize_NoPrefix(t *testing.T) {
	t.Parallel()

	raw := rawFromJSON(t, `{
		"key": {"remoteJid": "628111@s.whatsapp.net", "id": "X"},
		"message": {"extendedTextMessage": {"text": "hello there"}}
	}`)

	m, err := Serialize(context.Background(), nil, raw, Options{})
	if err != nil || m == nil {
		t.Fatalf("Serialize: m=%v err=%v", m, err)
	}
	if m.Prefix != "" || m.Command != "" || m.Text != "hello there" || len(m.Args) != 0 {
		t.Fatalf("prefix=%q command=%q text=%q args=%v", m.Prefix, m.Command, m.Text, m.Args)
	}
}

func TestSerialize_NoPayload(t *testing.T) {
	t.Parallel()

	cases := []string{
		`{"key": {"id": "A"}}`,
		`{"key": {"id": "A"}, "message": {"senderKeyDistributionMessage": {"groupId": "g"}}}`,
		`{"key": {"id": "A"}, "message": {"protocolMessage": {"type": 0}}}`,
	}
	for _, c := range cases {
		m, err := Serialize(context.Background(), nil, rawFromJSON(t, c), Options{})
		if err != nil || m != nil {
			t.Fatalf("Serialize(%s)=%v,%v want nil,nil", c, m, err)
		}
	}

	if m, err := Serialize(context.Background(), nil, nil, Options{}); m != nil || err != nil {
		t.Fatalf("Serialize(nil)=%v,%v", m, err)
	}
}

func TestSerialize_MalformedPayload(t *testing.T) {
	t.Parallel()

	raw := rawFromJSON(t, `{"key": {"id": "BAD"}, "message": {"conversation": 12}}`)
	_, err := Serialize(context.Background(), nil, raw, Options{})

	var ne *NormalizationError
	if !errors.As(err, &ne) || ne.MessageID != "BAD" {
		t.Fatalf("err=%v want NormalizationError for BAD", err)
	}
}

func TestSerialize_Deterministic(t *testing.T) {
	t.Parallel()

	const fixture = `{
		"key": {"remoteJid": "123-456@g.us", "id": "BAE5ABCDEF012345", "participant": "628222:7@s.whatsapp.net"},
		"message": {"ephemeralMessage": {"message": {"imageMessage": {
			"caption": ".Sticker --size=big @628333444",
			"mimetype": "image/jpeg", "fileLength": {"low": 2048, "high": 0},
			"height": 10, "width": 20,
			"contextInfo": {"expiration": 86400, "stanzaId": "Q1", "participant": "628444@s.whatsapp.net",
				"quotedMessage": {"conversation": "/help"}}
		}}}}
	}`

	a := &fakeActions{self: "628999@s.whatsapp.net"}
	first, err := Serialize(context.Background(), a, rawFromJSON(t, fixture), Options{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	second, err := Serialize(context.Background(), a, rawFromJSON(t, fixture), Options{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	b1, _ := json.Marshal(first)
	b2, _ := json.Marshal(second)
	if string(b1) != string(b2) {
		t.Fatalf("not deterministic:\n%s\n%s", b1, b2)
	}

	m := first
	if !m.IsGroup || m.Sender != "628222@s.whatsapp.net" || m.Participant != "628222@s.whatsapp.net" {
		t.Fatalf("group=%v sender=%q participant=%q", m.IsGroup, m.Sender, m.Participant)
	}
	if !m.IsBaileys || m.Device != DeviceUnknown {
		t.Fatalf("isBaileys=%v device=%q", m.IsBaileys, m.Device)
	}
	if m.Type != wa.VariantImage || !m.IsMedia || m.Mimetype != "image/jpeg" || m.Size != 2048 || m.Width != 20 || m.Height != 10 {
		t.Fatalf("media: %+v", m)
	}
	if m.Command != "sticker" || m.Expiration != 86400 {
		t.Fatalf("command=%q expiration=%d", m.Command, m.Expiration)
	}
	if v, ok := m.ArgsParsed.Value("size"); !ok || v != "big" {
		t.Fatalf("argsParsed=%v", m.ArgsParsed)
	}
	if !reflect.DeepEqual(m.Mentions, []string{"628333444@s.whatsapp.net"}) {
		t.Fatalf("mentions=%v", m.Mentions)
	}

	if !m.IsQuoted || m.Quoted == nil {
		t.Fatalf("quoted missing")
	}
	q := m.Quoted
	if q.ID != "Q1" || q.From != "123-456@g.us" || q.Sender != "628444@s.whatsapp.net" || q.Command != "help" || q.FromMe {
		t.Fatalf("quoted: id=%q from=%q sender=%q command=%q fromMe=%v", q.ID, q.From, q.Sender, q.Command, q.FromMe)
	}
	if q.Quoted != nil {
		t.Fatalf("quoted resolved beyond one hop")
	}
}

func TestSerialize_QuoteDepth(t *testing.T) {
	t.Parallel()

	const fixture = `{
		"key": {"remoteJid": "628111@s.whatsapp.net", "id": "A"},
		"message": {"extendedTextMessage": {"text": "l0", "contextInfo": {"stanzaId": "B",
			"quotedMessage": {"extendedTextMessage": {"text": "l1", "contextInfo": {"stanzaId": "C",
				"quotedMessage": {"extendedTextMessage": {"text": "l2", "contextInfo": {"stanzaId": "D",
					"quotedMessage": {"conversation": "l3"}}}}}}}}}}
	}`

	depth := func(m *Message) int {
		n := 0
		for m.Quoted != nil {
			m = m.Quoted
			n++
		}
		return n
	}

	cases := []struct {
		max  int
		want int
	}{
		{max: -1, want: 0},
		{max: 0, want: 1},
		{max: 2, want: 2},
		{max: 99, want: 3},
	}
	for _, tc := range cases {
		m, err := Serialize(context.Background(), nil, rawFromJSON(t, fixture), Options{MaxQuoteDepth: tc.max})
		if err != nil {
			t.Fatalf("Serialize: %v", err)
		}
		if got := depth(m); got != tc.want {
			t.Fatalf("depth(max=%d)=%d want=%d", tc.max, got, tc.want)
		}
		if !m.IsQuoted {
			t.Fatalf("IsQuoted=false for max=%d", tc.max)
		}
	}
}

func TestSerialize_FromMeAndMentionList(t *testing.T) {
	t.Parallel()

	raw := rawFromJSON(t, `{
		"key": {"remoteJid": "123@g.us", "fromMe": true, "id": "3A0123456789ABCDEF01"},
		"message": {"extendedTextMessage": {"text": "hi @1", "contextInfo": {"mentionedJid": ["628555:2@s.whatsapp.net"]}}}
	}`)

	m, err := Serialize(context.Background(), &fakeActions{self: "628999:4@s.whatsapp.net"}, raw, Options{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if m.Sender != "628999@s.whatsapp.net" || m.Device != DeviceIOS {
		t.Fatalf("sender=%q device=%q", m.Sender, m.Device)
	}
	if !reflect.DeepEqual(m.Mentions, []string{"628555@s.whatsapp.net"}) {
		t.Fatalf("mentions=%v", m.Mentions)
	}
}

func TestSerialize_BodyVariants(t *testing.T) {
	t.Parallel()

	cases := []struct {
		msg  string
		want string
	}{
		{msg: `{"buttonsResponseMessage": {"selectedButtonId": "#menu"}}`, want: "#menu"},
		{msg: `{"listResponseMessage": {"singleSelectReply": {"selectedRowId": ".list 2"}}}`, want: ".list 2"},
		{msg: `{"templateButtonReplyMessage": {"selectedId": "tpl"}}`, want: "tpl"},
		{msg: `{"interactiveResponseMessage": {"nativeFlowResponseMessage": {"paramsJson": "{\"id\":\"!flow\"}"}}}`, want: "!flow"},
		{msg: `{"pollCreationMessageV3": {"name": "Lunch?"}}`, want: "Lunch?"},
		{msg: `{"viewOnceMessageV2": {"message": {"videoMessage": {"caption": "v"}}}}`, want: "v"},
		{msg: `{"stickerMessage": {"isAnimated": true}, "messageContextInfo": {}}`, want: ""},
	}
	for _, tc := range cases {
		raw := rawFromJSON(t, `{"key": {"remoteJid": "1@s.whatsapp.net", "id": "Z"}, "message": `+tc.msg+`}`)
		m, err := Serialize(context.Background(), nil, raw, Options{})
		if err != nil || m == nil {
			t.Fatalf("Serialize(%s)=%v,%v", tc.msg, m, err)
		}
		if m.Body != tc.want {
			t.Fatalf("body(%s)=%q want=%q", tc.msg, m.Body, tc.want)
		}
	}
}

func TestHelpers(t *testing.T) {
	t.Parallel()

	a := &fakeActions{download: []byte("img")}
	ctx := context.Background()

	text, err := Serialize(ctx, a, rawFromJSON(t, `{"key": {"remoteJid": "1@s.whatsapp.net", "id": "T"}, "message": {"conversation": "x"}}`), Options{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	if _, err := text.Reply(ctx, "pong"); err != nil {
		t.Fatalf("Reply: %v", err)
	}
	if a.sent[0] != "1@s.whatsapp.net|pong" || a.quoted[0] != text.Raw {
		t.Fatalf("reply sent=%v quoted=%v", a.sent, a.quoted)
	}
	if _, err := text.React(ctx, "👍"); err != nil || a.reacted[0] != "1@s.whatsapp.net|T|👍" {
		t.Fatalf("React: %v %v", err, a.reacted)
	}
	if _, err := text.Download(ctx); !IsNoMedia(err) {
		t.Fatalf("Download(text) err=%v want ErrNoMedia", err)
	}

	img, err := Serialize(ctx, a, rawFromJSON(t, `{"key": {"remoteJid": "1@s.whatsapp.net", "id": "I"}, "message": {"imageMessage": {"mimetype": "image/png"}}}`), Options{})
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	b, err := img.Download(ctx)
	if err != nil || string(b) != "img" {
		t.Fatalf("Download=%q,%v", b, err)
	}

	unbound, _ := Serialize(ctx, nil, rawFromJSON(t, `{"key": {"id": "U"}, "message": {"conversation": "x"}}`), Options{})
	if _, err := unbound.Reply(ctx, "x"); !errors.Is(err, ErrUnbound) {
		t.Fatalf("unbound Reply err=%v", err)
	}
}
