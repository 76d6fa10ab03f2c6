// Package identity normalizes user-identity strings so that keys imported
// under differently typed identities still match on exact-form searches.
package identity

import (
	"net/mail"
	"strings"
)

// ExtractEmail returns the validated email address contained in an identity
// string, when the string reduces to exactly one valid address. Both bare
// addresses ("alice@example.com") and display-name forms
// ("Alice <alice@example.com>") are accepted. The second return value is
// false when no single valid address can be extracted.
func ExtractEmail(identity string) (string, bool) {
	addr, err := mail.ParseAddress(strings.TrimSpace(identity))
	if err != nil {
		return "", false
	}
	if !validEmail(addr.Address) {
		return "", false
	}
	return addr.Address, true
}

// Canonicalize rewrites an identity that consists of exactly one bare email
// address into the bracketed canonical form "<email>". Anything else is
// returned unchanged, which makes the function idempotent: a bracketed form
// no longer equals its extracted address, so a second pass is a no-op.
func Canonicalize(identity string) string {
	email, ok := ExtractEmail(identity)
	if ok && email == identity {
		return "<" + email + ">"
	}
	return identity
}

// validEmail applies the checks net/mail leaves to the caller: a single
// local@domain pair whose domain contains at least one dot.
func validEmail(addr string) bool {
	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return false
	}
	domain := addr[at+1:]
	if !strings.Contains(domain, ".") {
		return false
	}
	if strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return false
	}
	return true
}
