package serialize

import (
	"encoding/json"
	"sort"
	"strings"
)

// DefaultPrefixes are the command prefixes recognized when none are configured.
var DefaultPrefixes = []string{"!", ".", "/", "#"}

// Command is the result of scanning a body for a prefixed command.
type Command struct {
	Prefix     string
	Name       string
	Args       []string
	Text       string
	ArgsParsed ParsedArgs
}

// ParseCommand scans body for one of prefixes. The longest matching prefix
// wins. Without a match (or with a bare prefix) Prefix and Name stay empty and
// Text equals body.
func ParseCommand(body string, prefixes []string) Command {
	if len(prefixes) == 0 {
		prefixes = DefaultPrefixes
	}

	ordered := append([]string(nil), prefixes...)
	sort.SliceStable(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })

	for _, p := range ordered {
		if p == "" || !strings.HasPrefix(body, p) {
			continue
		}
		fields := strings.Fields(body[len(p):])
		if len(fields) == 0 {
			break
		}
		text := strings.Join(fields[1:], " ")
		return Command{
			Prefix:     p,
			Name:       strings.ToLower(fields[0]),
			Args:       fields[1:],
			Text:       text,
			ArgsParsed: ParseArgs(text),
		}
	}

	return Command{Args: []string{}, Text: body, ArgsParsed: ParseArgs(body)}
}

// ArgValue is one parsed flag-style argument: either a bare flag or a value.
type ArgValue struct {
	Value  string
	IsFlag bool
}

// MarshalJSON encodes a bare flag as true and a value as a string.
func (v ArgValue) MarshalJSON() ([]byte, error) {
	if v.IsFlag {
		return []byte("true"), nil
	}
	return json.Marshal(v.Value)
}

// UnmarshalJSON accepts true (flag) or a string (value).
func (v *ArgValue) UnmarshalJSON(b []byte) error {
	var flag bool
	if err := json.Unmarshal(b, &flag); err == nil {
		*v = ArgValue{IsFlag: flag}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*v = ArgValue{Value: s}
	return nil
}

// ParsedArgs maps argument names (without the leading dashes) to values.
type ParsedArgs map[string]ArgValue

// Flag reports whether name was given, with or without a value.
func (p ParsedArgs) Flag(name string) bool {
	_, ok := p[name]
	return ok
}

// Value returns the value given for name; bare flags report ok=false.
func (p ParsedArgs) Value(name string) (string, bool) {
	v, ok := p[name]
	if !ok || v.IsFlag {
		return "", false
	}
	return v.Value, true
}

// ParseArgs extracts flag-style arguments from input:
//
//	--flag              -> flag
//	--key=value         -> value
//	--key="two words"   -> value
//	--key "two words"   -> value (the next token must be quoted)
//
// Tokens that are not flags are ignored. A later occurrence of a name wins.
func ParseArgs(input string) ParsedArgs {
	out := ParsedArgs{}
	toks := tokenize(input)

	for i := 0; i < len(toks); i++ {
		t := toks[i]
		if t.quoted || !strings.HasPrefix(t.text, "--") || len(t.text) <= 2 {
			continue
		}
		name := t.text[2:]

		if eq := strings.IndexByte(name, '='); eq >= 0 {
			if key := name[:eq]; key != "" {
				out[key] = ArgValue{Value: name[eq+1:]}
			}
			continue
		}

		if i+1 < len(toks) && toks[i+1].quoted {
			out[name] = ArgValue{Value: toks[i+1].text}
			i++
			continue
		}
		out[name] = ArgValue{IsFlag: true}
	}
	return out
}

type token struct {
	text   string
	quoted bool
}

// tokenize splits on whitespace, keeping single- or double-quoted runs
// together. A quote only opens at the start of a token or right after '=',
// so apostrophes inside words are literal. quoted marks tokens that start
// with a quote.
func tokenize(s string) []token {
	var (
		out   []token
		cur   strings.Builder
		quote rune
		prev  rune
		in    bool
		start bool
	)

	flush := func() {
		if in {
			out = append(out, token{text: cur.String(), quoted: start})
		}
		cur.Reset()
		in, start = false, false
	}

	for _, r := range s {
		last := prev
		prev = r

		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)

		case (r == '"' || r == '\'') && (!in || last == '='):
			if !in {
				start = true
			}
			in = true
			quote = r

		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			flush()

		default:
			in = true
			cur.WriteRune(r)
		}
	}
	flush()
	return out
}
