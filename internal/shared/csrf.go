package shared

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"net/http"
	"strings"
	"time"
)

// CSRFHeader is the request header carrying the echoed token.
const CSRFHeader = "X-CSRF-Token"

// CSRFManager issues and verifies double-submit CSRF cookies.
type CSRFManager struct {
	secret   []byte
	settings CookieSettings
	now      func() time.Time
}

// NewCSRFManager returns a CSRFManager using the provided key.
func NewCSRFManager(key []byte, settings CookieSettings) *CSRFManager {
	return &CSRFManager{secret: key, settings: settings.withDefaults(), now: time.Now}
}

// GenerateToken mints a fresh unguessable token.
func (m *CSRFManager) GenerateToken() (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", Server("csrf generate", err)
	}
	mac := hmac.New(sha256.New, m.secret)
	_, _ = mac.Write(nonce)
	_, _ = mac.Write([]byte{'|'})
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(m.now().UnixNano()))
	_, _ = mac.Write(buf)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Issue writes the script-inaccessible cookie and its readable twin, both carrying token.
func (m *CSRFManager) Issue(w http.ResponseWriter, token string) ([]*http.Cookie, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrCSRFTokenMissing
	}
	expires := m.now().Add(m.settings.CSRFTTL)
	maxAge := int(m.settings.CSRFTTL / time.Second)
	cookies := []*http.Cookie{
		{
			Name:     m.settings.CSRFCookieName,
			Value:    token,
			Path:     "/",
			Domain:   m.settings.Domain,
			Expires:  expires,
			MaxAge:   maxAge,
			HttpOnly: true,
			Secure:   m.settings.Secure,
			SameSite: http.SameSiteStrictMode,
		},
		{
			Name:     m.settings.CSRFReadableName,
			Value:    token,
			Path:     "/",
			Domain:   m.settings.Domain,
			Expires:  expires,
			MaxAge:   maxAge,
			HttpOnly: false,
			Secure:   m.settings.Secure,
			SameSite: http.SameSiteStrictMode,
		},
	}
	if w != nil {
		for _, c := range cookies {
			http.SetCookie(w, c)
		}
	}
	return cookies, nil
}

// Validate compares the echoed header value with the HttpOnly cookie only.
func (m *CSRFManager) Validate(headerValue string, cookies []*http.Cookie) bool {
	if headerValue == "" {
		return false
	}
	for _, c := range cookies {
		if c == nil || c.Name != m.settings.CSRFCookieName {
			continue
		}
		if c.Value == "" {
			return false
		}
		return hmac.Equal([]byte(c.Value), []byte(headerValue))
	}
	return false
}

// VerifyRequest validates the request header against the request cookies.
func (m *CSRFManager) VerifyRequest(r *http.Request) error {
	header := r.Header.Get(CSRFHeader)
	if header == "" {
		return ErrCSRFTokenMissing
	}
	if !m.Validate(header, r.Cookies()) {
		return ErrCSRFTokenMismatch
	}
	return nil
}
