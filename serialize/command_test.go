package serialize

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		body     string
		prefixes []string
		prefix   string
		name     string
		args     []string
		text     string
	}{
		{body: "!ping hello world", prefix: "!", name: "ping", args: []string{"hello", "world"}, text: "hello world"},
		{body: ".MENU", prefix: ".", name: "menu", args: []string{}, text: ""},
		{body: "/ help  me ", prefix: "/", name: "help", args: []string{"me"}, text: "me"},
		{body: "hello", name: "", args: []string{}, text: "hello"},
		{body: "!", name: "", args: []string{}, text: "!"},
		{body: "", name: "", args: []string{}, text: ""},
		{body: "!!x y", prefixes: []string{"!", "!!"}, prefix: "!!", name: "x", args: []string{"y"}, text: "y"},
		{body: "#tag", prefixes: []string{"!"}, name: "", args: []string{}, text: "#tag"},
	}

	for _, tc := range cases {
		got := ParseCommand(tc.body, tc.prefixes)
		if got.Prefix != tc.prefix || got.Name != tc.name || got.Text != tc.text || !reflect.DeepEqual(got.Args, tc.args) {
			t.Fatalf("ParseCommand(%q)=%+v want prefix=%q name=%q args=%v text=%q",
				tc.body, got, tc.prefix, tc.name, tc.args, tc.text)
		}
	}
}

func TestParseArgs(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want ParsedArgs
	}{
		{in: "", want: ParsedArgs{}},
		{in: "--force", want: ParsedArgs{"force": {IsFlag: true}}},
		{in: "--size=big", want: ParsedArgs{"size": {Value: "big"}}},
		{in: `--title="two words"`, want: ParsedArgs{"title": {Value: "two words"}}},
		{in: `--title "two words" --x`, want: ParsedArgs{"title": {Value: "two words"}, "x": {IsFlag: true}}},
		{in: `--mode fast`, want: ParsedArgs{"mode": {IsFlag: true}}},
		{in: `it's --q='a b'`, want: ParsedArgs{"q": {Value: "a b"}}},
		{in: `"--quoted" -- --=x`, want: ParsedArgs{}},
		{in: `--n=1 --n=2`, want: ParsedArgs{"n": {Value: "2"}}},
	}

	for _, tc := range cases {
		got := ParseArgs(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("ParseArgs(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestParsedArgs_JSON(t *testing.T) {
	t.Parallel()

	p := ParsedArgs{"force": {IsFlag: true}, "size": {Value: "big"}}
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"force":true,"size":"big"}` {
		t.Fatalf("Marshal=%s", b)
	}

	if !p.Flag("force") || p.Flag("nope") {
		t.Fatalf("Flag mismatch")
	}
	if _, ok := p.Value("force"); ok {
		t.Fatalf("Value(force) ok for bare flag")
	}
}

func TestGuessDevice(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"3A0123456789ABCDEF01":             DeviceIOS,
		"3E0123456789ABCDEF0123":           DeviceWeb,
		"ABCDEF0123456789ABCDE":            DeviceAndroid,
		"0123456789ABCDEF0123456789ABCDEF": DeviceAndroid,
		"3F01":                             DeviceDesktop,
		"0123456789ABCDEF01":               DeviceDesktop,
		"":                                 DeviceUnknown,
		"short":                            DeviceUnknown,
	}
	for id, want := range cases {
		if got := GuessDevice(id); got != want {
			t.Fatalf("GuessDevice(%q)=%q want=%q", id, got, want)
		}
	}
}

func TestIsBaileysID(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"BAE5ABCDEF012345":       true,
		"BAE5ABC":                false,
		"3EB0ABCDEF12":           true,
		"3EB0ABCDEF0123456789":   true,
		"3EB0ABCDEF0123456789AB": true,
		"3EB0ABCDEF0123":         false,
		"ABCDEF":                 false,
	}
	for id, want := range cases {
		if got := IsBaileysID(id); got != want {
			t.Fatalf("IsBaileysID(%q)=%v want=%v", id, got, want)
		}
	}
}

func TestParseMentions(t *testing.T) {
	t.Parallel()

	got := ParseMentions("hi @628111222 and @0, again @628111222, not @12 or email a@b")
	want := []string{"628111222@s.whatsapp.net", "0@s.whatsapp.net"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ParseMentions=%v want=%v", got, want)
	}
}
