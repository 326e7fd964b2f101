package model

import "strings"

// JID servers as they appear on the wire.
const (
	GroupSuffix      = "@g.us"
	IndividualSuffix = "@s.whatsapp.net"
)

// IsGroupJID reports whether the JID addresses a group chat.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, GroupSuffix)
}

// Digits strips everything but ASCII digits from s.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeJID turns a user-supplied destination into a JID. Anything
// already containing "@" is passed through; otherwise the stripped digits
// get the individual-chat server appended.
func NormalizeJID(to string) string {
	if strings.Contains(to, "@") {
		return to
	}
	return Digits(to) + IndividualSuffix
}

// JIDToE164 derives the E.164 form of a JID's user part ("+" plus the
// digits before "@"). Used by the webhook exclusion filter.
func JIDToE164(jid string) string {
	user := jid
	if i := strings.Index(jid, "@"); i >= 0 {
		user = jid[:i]
	}
	d := Digits(user)
	if d == "" {
		return ""
	}
	return "+" + d
}
