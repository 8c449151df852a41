package shared

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Identity is the canonical authenticated actor. It is resolved once per request and never persisted here.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// NormalizedEmail returns the comparison form of the identity email.
func (i Identity) NormalizedEmail() string {
	return NormalizeEmail(i.Email)
}

// NormalizeEmail trims and lowercases an email for storage and comparison.
func NormalizeEmail(email string) string {
	// Casers carry state and are not safe to share.
	return cases.Lower(language.Und).String(strings.TrimSpace(email))
}
