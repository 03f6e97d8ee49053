// ABOUTME: Phone number and chat handle normalization
// ABOUTME: Shared by the quota engine, inbox filtering, and HTTP recipient parsing

package phone

import (
	"strings"
)

const (
	// UserSuffix is appended to bare digits to form a direct-chat handle.
	UserSuffix = "@s.whatsapp.net"
	// GroupSuffix marks group chat handles.
	GroupSuffix = "@g.us"
	// BroadcastSuffix marks broadcast lists and status updates.
	BroadcastSuffix = "@broadcast"
	// StatusBroadcast is the handle carrying status updates.
	StatusBroadcast = "status@broadcast"
)

// Digits returns only the ASCII digits of s.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= '0' && c <= '9' {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Normalize turns a free-form number or chat handle into international
// digits. The user part before '@' is taken and a ":device" suffix dropped.
// Local numbers (leading 0) and bare subscriber numbers (leading 8) are
// rewritten to the 62 country prefix. Returns "" when no digits remain.
func Normalize(s string) string {
	if i := strings.IndexByte(s, '@'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}

	d := Digits(s)
	switch {
	case d == "":
		return ""
	case strings.HasPrefix(d, "0"):
		return "62" + d[1:]
	case strings.HasPrefix(d, "62"):
		return d
	case strings.HasPrefix(d, "8"):
		return "62" + d
	}
	return d
}

// CounterKey reduces a recipient to the digits used as the quota counter
// key. Everything from '@' on is discarded, no country rewriting happens.
func CounterKey(recipient string) string {
	if i := strings.IndexByte(recipient, '@'); i >= 0 {
		recipient = recipient[:i]
	}
	return Digits(recipient)
}

// ToJID converts a user-supplied number into a direct-chat handle.
func ToJID(number string) string {
	return Digits(number) + UserSuffix
}

// IsGroup reports whether jid addresses a group chat.
func IsGroup(jid string) bool {
	return strings.HasSuffix(jid, GroupSuffix)
}

// IsBroadcast reports whether jid is a status update or broadcast list.
func IsBroadcast(jid string) bool {
	return jid == StatusBroadcast || strings.HasSuffix(jid, BroadcastSuffix)
}

// SameNumber compares two handles by their digits only.
func SameNumber(a, b string) bool {
	da := Digits(a)
	return da != "" && da == Digits(b)
}
