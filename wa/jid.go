package wa

import "strings"

// Well-known JID servers.
const (
	ServerUser      = "s.whatsapp.net"
	ServerGroup     = "g.us"
	ServerBroadcast = "broadcast"
	ServerLID       = "lid"

	StatusBroadcast = "status@broadcast"
)

// DecodeJID canonicalizes a JID by removing the colon-delimited device segment
// that participant notifications attach to the user part
// ("628123:12@s.whatsapp.net" -> "628123@s.whatsapp.net").
// Values without a server part are returned unchanged.
func DecodeJID(jid string) string {
	jid = strings.TrimSpace(jid)
	at := strings.LastIndexByte(jid, '@')
	if at <= 0 {
		return jid
	}
	user, server := jid[:at], jid[at+1:]
	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	return user + "@" + server
}

// User returns the user part of a JID (before '@', without device segment).
func User(jid string) string {
	d := DecodeJID(jid)
	if at := strings.LastIndexByte(d, '@'); at >= 0 {
		return d[:at]
	}
	return d
}

// Server returns the server part of a JID, or "" when absent.
func Server(jid string) string {
	if at := strings.LastIndexByte(jid, '@'); at >= 0 {
		return jid[at+1:]
	}
	return ""
}

// IsGroup reports whether jid addresses a group chat.
func IsGroup(jid string) bool { return Server(jid) == ServerGroup }

// IsBroadcast reports whether jid addresses a broadcast list or the status feed.
func IsBroadcast(jid string) bool { return Server(jid) == ServerBroadcast }

// JIDFromNumber builds a user JID from a phone number, dropping every non-digit.
func JIDFromNumber(number string) string {
	var b strings.Builder
	for _, r := range number {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return b.String() + "@" + ServerUser
}
