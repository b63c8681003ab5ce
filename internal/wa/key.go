package wa

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

// NormalizeKey turns user input into the canonical phone key used throughout
// the store: a bare number becomes "<digits>@s.whatsapp.net", an existing
// JID is parsed and stripped of device/agent suffixes.
func NormalizeKey(number string) (string, error) {
	if strings.ContainsRune(number, '@') {
		jid, err := types.ParseJID(number)
		if err != nil {
			return "", fmt.Errorf("parse JID %q: %w", number, err)
		}
		return jid.ToNonAD().String(), nil
	}

	digits := digitsOf(number)
	if digits == "" {
		return "", fmt.Errorf("no digits in %q", number)
	}
	return types.NewJID(digits, types.DefaultUserServer).String(), nil
}

// digitsOf strips everything but decimal digits.
func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isGroupJID reports whether the JID addresses a group chat.
func isGroupJID(jid types.JID) bool {
	return jid.Server == types.GroupServer
}
