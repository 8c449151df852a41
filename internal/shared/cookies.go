package shared

import (
	"crypto/sha256"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"
)

// CookieSettings groups the cookie policy for CSRF and session-state cookies.
type CookieSettings struct {
	Secure             bool
	Domain             string
	CSRFCookieName     string
	CSRFReadableName   string
	CSRFTTL            time.Duration
	SessionCookieName  string
	SessionIdleTimeout time.Duration
}

// DefaultCookieSettings returns the production cookie policy.
func DefaultCookieSettings() CookieSettings {
	return CookieSettings{
		Secure:             true,
		CSRFCookieName:     "csrf_token",
		CSRFReadableName:   "csrf_token_readable",
		CSRFTTL:            24 * time.Hour,
		SessionCookieName:  "session_state",
		SessionIdleTimeout: time.Hour,
	}
}

func (s CookieSettings) withDefaults() CookieSettings {
	def := DefaultCookieSettings()
	if s.CSRFCookieName == "" {
		s.CSRFCookieName = def.CSRFCookieName
	}
	if s.CSRFReadableName == "" {
		s.CSRFReadableName = def.CSRFReadableName
	}
	if s.CSRFTTL <= 0 {
		s.CSRFTTL = def.CSRFTTL
	}
	if s.SessionCookieName == "" {
		s.SessionCookieName = def.SessionCookieName
	}
	if s.SessionIdleTimeout <= 0 {
		s.SessionIdleTimeout = def.SessionIdleTimeout
	}
	return s
}

// DeriveKey expands a master secret into a purpose-bound 32 byte key.
func DeriveKey(secret, purpose string) []byte {
	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte("sentinel:"+purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		// hkdf only fails after 255*hash-size bytes.
		panic(err)
	}
	return key
}
