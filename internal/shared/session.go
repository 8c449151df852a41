package shared

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionState is the opaque payload carried by the session-state cookie.
type SessionState struct {
	SessionID  string `json:"sid"`
	IdentityID string `json:"uid"`
	LastActive int64  `json:"last_active"`
}

// LastActiveAt returns the last activity timestamp.
func (s SessionState) LastActiveAt() time.Time {
	return time.Unix(s.LastActive, 0).UTC()
}

// ActivityStore tracks live sessions so they can be revoked server-side.
type ActivityStore interface {
	Touch(ctx context.Context, sessionID, identityID string, ttl time.Duration) error
	Active(ctx context.Context, sessionID string) (bool, error)
	Revoke(ctx context.Context, sessionID string) error
}

// SessionManager issues signed session-state cookies with an inactivity window.
type SessionManager struct {
	key      []byte
	settings CookieSettings
	activity ActivityStore
	now      func() time.Time
}

// NewSessionManager constructs a SessionManager. activity may be nil, in which case only
// the signature and idle window are checked.
func NewSessionManager(key []byte, settings CookieSettings, activity ActivityStore) *SessionManager {
	return &SessionManager{key: key, settings: settings.withDefaults(), activity: activity, now: time.Now}
}

// IdleTimeout exposes the configured inactivity window.
func (sm *SessionManager) IdleTimeout() time.Duration {
	return sm.settings.SessionIdleTimeout
}

// CookieName returns the cookie identifier used for session state.
func (sm *SessionManager) CookieName() string {
	return sm.settings.SessionCookieName
}

// Issue writes a fresh session-state cookie for identity.
func (sm *SessionManager) Issue(ctx context.Context, w http.ResponseWriter, identity Identity) (*http.Cookie, SessionState, error) {
	if strings.TrimSpace(identity.ID) == "" {
		return nil, SessionState{}, Validation("identity id required")
	}
	state := SessionState{
		SessionID:  uuid.NewString(),
		IdentityID: identity.ID,
		LastActive: sm.now().Unix(),
	}
	cookie, err := sm.write(ctx, w, state)
	if err != nil {
		return nil, SessionState{}, err
	}
	return cookie, state, nil
}

// Refresh bumps last activity on a valid session and rewrites the cookie.
func (sm *SessionManager) Refresh(ctx context.Context, w http.ResponseWriter, r *http.Request) (SessionState, error) {
	state, err := sm.Validate(ctx, r)
	if err != nil {
		return SessionState{}, err
	}
	state.LastActive = sm.now().Unix()
	if _, err := sm.write(ctx, w, state); err != nil {
		return SessionState{}, err
	}
	return state, nil
}

// Validate verifies the cookie signature, the idle window and, when tracked, server-side presence.
func (sm *SessionManager) Validate(ctx context.Context, r *http.Request) (SessionState, error) {
	cookie, err := r.Cookie(sm.settings.SessionCookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return SessionState{}, ErrSessionInvalid
		}
		return SessionState{}, err
	}
	state, err := sm.decode(cookie.Value)
	if err != nil {
		return SessionState{}, err
	}
	if sm.now().Sub(state.LastActiveAt()) > sm.settings.SessionIdleTimeout {
		return SessionState{}, ErrSessionInvalid
	}
	if sm.activity != nil {
		active, err := sm.activity.Active(ctx, state.SessionID)
		if err != nil {
			return SessionState{}, Server("session activity", err)
		}
		if !active {
			return SessionState{}, ErrSessionInvalid
		}
	}
	return state, nil
}

// Revoke drops the server-side record and clears the cookie.
func (sm *SessionManager) Revoke(ctx context.Context, w http.ResponseWriter, sessionID string) error {
	if sm.activity != nil && sessionID != "" {
		if err := sm.activity.Revoke(ctx, sessionID); err != nil {
			return Server("session revoke", err)
		}
	}
	if w != nil {
		http.SetCookie(w, &http.Cookie{
			Name:     sm.settings.SessionCookieName,
			Value:    "",
			Path:     "/",
			Domain:   sm.settings.Domain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   sm.settings.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return nil
}

func (sm *SessionManager) write(ctx context.Context, w http.ResponseWriter, state SessionState) (*http.Cookie, error) {
	value, err := sm.encode(state)
	if err != nil {
		return nil, err
	}
	if sm.activity != nil {
		if err := sm.activity.Touch(ctx, state.SessionID, state.IdentityID, sm.settings.SessionIdleTimeout); err != nil {
			return nil, Server("session touch", err)
		}
	}
	cookie := &http.Cookie{
		Name:     sm.settings.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   sm.settings.Domain,
		Expires:  sm.now().Add(sm.settings.SessionIdleTimeout),
		MaxAge:   int(sm.settings.SessionIdleTimeout / time.Second),
		HttpOnly: true,
		Secure:   sm.settings.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if w != nil {
		http.SetCookie(w, cookie)
	}
	return cookie, nil
}

func (sm *SessionManager) encode(state SessionState) (string, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + base64.RawURLEncoding.EncodeToString(sm.sign(body)), nil
}

func (sm *SessionManager) decode(value string) (SessionState, error) {
	body, sig, ok := strings.Cut(value, ".")
	if !ok {
		return SessionState{}, ErrSessionInvalid
	}
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(got, sm.sign(body)) {
		return SessionState{}, ErrSessionInvalid
	}
	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return SessionState{}, ErrSessionInvalid
	}
	var state SessionState
	if err := json.Unmarshal(payload, &state); err != nil {
		return SessionState{}, ErrSessionInvalid
	}
	if state.SessionID == "" || state.IdentityID == "" {
		return SessionState{}, ErrSessionInvalid
	}
	return state, nil
}

func (sm *SessionManager) sign(body string) []byte {
	mac := hmac.New(sha256.New, sm.key)
	_, _ = mac.Write([]byte(body))
	return mac.Sum(nil)
}

// RedisActivityStore keeps session activity in Redis with the idle timeout as TTL.
type RedisActivityStore struct {
	client *redis.Client
}

// NewRedisActivityStore constructs the store.
func NewRedisActivityStore(client *redis.Client) *RedisActivityStore {
	return &RedisActivityStore{client: client}
}

// Touch records activity for the session.
func (s *RedisActivityStore) Touch(ctx context.Context, sessionID, identityID string, ttl time.Duration) error {
	return s.client.Set(ctx, s.key(sessionID), identityID, ttl).Err()
}

// Active reports whether the session is still tracked.
func (s *RedisActivityStore) Active(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Revoke forgets the session.
func (s *RedisActivityStore) Revoke(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func (s *RedisActivityStore) key(id string) string {
	return "session:state:" + id
}

var _ ActivityStore = (*RedisActivityStore)(nil)
