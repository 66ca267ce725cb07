package serialize

import (
	"regexp"
	"strings"

	"github.com/zevanoo/baileys-ez/wa"
)

// Device guesses reported in Message.Device.
const (
	DeviceAndroid = "android"
	DeviceIOS     = "ios"
	DeviceWeb     = "web"
	DeviceDesktop = "desktop"
	DeviceUnknown = "unknown"
)

// GuessDevice infers the sending platform from the shape of a message id.
// Ids follow per-platform generators, so this is a heuristic only.
func GuessDevice(id string) string {
	n := len(id)
	switch {
	case n == 0:
		return DeviceUnknown
	case n == 20 && strings.HasPrefix(id, "3A"):
		return DeviceIOS
	case n == 22 && strings.HasPrefix(id, "3E"):
		return DeviceWeb
	case n == 21 || n == 32:
		return DeviceAndroid
	case strings.HasPrefix(id, "3F") || n == 18:
		return DeviceDesktop
	default:
		return DeviceUnknown
	}
}

// IsBaileysID reports whether id was generated by a library client rather
// than an official app.
func IsBaileysID(id string) bool {
	switch {
	case strings.HasPrefix(id, "BAE5"):
		return len(id) == 16
	case strings.HasPrefix(id, "3EB0"):
		return len(id) == 12 || len(id) == 20 || len(id) == 22
	}
	return false
}

var mentionRe = regexp.MustCompile(`@(\d{5,16}|0)`)

// ParseMentions maps every @<digits> token in text to a user JID, in order of
// first appearance.
func ParseMentions(text string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		jid := m[1] + "@" + wa.ServerUser
		if seen[jid] {
			continue
		}
		seen[jid] = true
		out = append(out, jid)
	}
	return out
}
