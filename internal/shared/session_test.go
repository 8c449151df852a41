package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sm := NewSessionManager(DeriveKey("secret", "session"), DefaultCookieSettings(), NewRedisActivityStore(client))
	return sm, mr
}

func requestWith(c *http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if c != nil {
		req.AddCookie(c)
	}
	return req
}

func TestSessionIssueAndValidate(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()
	rr := httptest.NewRecorder()

	cookie, state, err := sm.Issue(ctx, rr, Identity{ID: "u-1", Email: "a@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "u-1", state.IdentityID)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, 3600, cookie.MaxAge)
	assert.True(t, mr.Exists("session:state:"+state.SessionID))

	got, err := sm.Validate(ctx, requestWith(cookie))
	require.NoError(t, err)
	assert.Equal(t, state, got)
}

func TestSessionRejectsTamperedCookie(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	cookie, _, err := sm.Issue(context.Background(), nil, Identity{ID: "u-1"})
	require.NoError(t, err)

	body, sig, _ := strings.Cut(cookie.Value, ".")
	forged := &http.Cookie{Name: cookie.Name, Value: body + "x." + sig}
	_, err = sm.Validate(context.Background(), requestWith(forged))
	require.ErrorIs(t, err, ErrSessionInvalid)
}

func TestSessionExpiresAfterIdleWindow(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return base }
	cookie, _, err := sm.Issue(context.Background(), nil, Identity{ID: "u-1"})
	require.NoError(t, err)

	sm.now = func() time.Time { return base.Add(61 * time.Minute) }
	_, err = sm.Validate(context.Background(), requestWith(cookie))
	require.ErrorIs(t, err, ErrSessionInvalid)
}

func TestSessionRevoke(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	ctx := context.Background()
	cookie, state, err := sm.Issue(ctx, nil, Identity{ID: "u-1"})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	require.NoError(t, sm.Revoke(ctx, rr, state.SessionID))
	_, err = sm.Validate(ctx, requestWith(cookie))
	require.ErrorIs(t, err, ErrSessionInvalid)
	require.Len(t, rr.Result().Cookies(), 1)
	assert.Equal(t, -1, rr.Result().Cookies()[0].MaxAge)
}

func TestSessionIssueRequiresIdentity(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	_, _, err := sm.Issue(context.Background(), nil, Identity{})
	require.ErrorIs(t, err, ErrValidation)
}

func TestSessionMissingCookie(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	_, err := sm.Validate(context.Background(), requestWith(nil))
	require.ErrorIs(t, err, ErrSessionInvalid)
}
