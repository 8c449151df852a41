package settings

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/sentinel/internal/platform/cache"
	"github.com/odyssey-erp/sentinel/internal/shared"
)

type memRepo struct {
	admins    map[string]ProtectedAdmin
	values    map[string][]byte
	listCalls int
}

func newMemRepo() *memRepo {
	return &memRepo{admins: map[string]ProtectedAdmin{}, values: map[string][]byte{}}
}

func (m *memRepo) ListAdminEmails(ctx context.Context) ([]ProtectedAdmin, error) {
	m.listCalls++
	out := make([]ProtectedAdmin, 0, len(m.admins))
	for _, a := range m.admins {
		out = append(out, a)
	}
	return out, nil
}

func (m *memRepo) AddAdminEmail(ctx context.Context, email, addedBy string) error {
	m.admins[email] = ProtectedAdmin{Email: email, AddedBy: addedBy}
	return nil
}

func (m *memRepo) RemoveAdminEmail(ctx context.Context, email string) (bool, error) {
	_, ok := m.admins[email]
	delete(m.admins, email)
	return ok, nil
}

func (m *memRepo) GetJSON(ctx context.Context, key string, dest any) error {
	raw, ok := m.values[key]
	if !ok {
		return ErrNoValue
	}
	return json.Unmarshal(raw, dest)
}

func (m *memRepo) PutJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.values[key] = raw
	return nil
}

func TestAdminEmailsWriteInvalidatesCache(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, cache.NewConfigCache(cache.Config{}))
	ctx := context.Background()

	emails, err := svc.AdminEmails(ctx)
	require.NoError(t, err)
	assert.Empty(t, emails)

	require.NoError(t, svc.AddAdminEmail(ctx, "New@X.com", "root"))
	emails, err = svc.AdminEmails(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"new@x.com"}, emails)
	assert.Equal(t, 2, repo.listCalls)

	removed, err := svc.RemoveAdminEmail(ctx, "new@x.com")
	require.NoError(t, err)
	assert.True(t, removed)
	emails, err = svc.AdminEmails(ctx)
	require.NoError(t, err)
	assert.Empty(t, emails)
}

func TestAllowedIPs(t *testing.T) {
	repo := newMemRepo()
	svc := NewService(repo, cache.NewConfigCache(cache.Config{}))
	ctx := context.Background()

	prefixes, err := svc.AllowedIPs(ctx)
	require.NoError(t, err)
	assert.True(t, Allowed(prefixes, "203.0.113.9"))

	require.NoError(t, svc.SetAllowedIPs(ctx, []string{"10.0.0.0/8", "192.168.1.5"}))
	prefixes, err = svc.AllowedIPs(ctx)
	require.NoError(t, err)
	assert.True(t, Allowed(prefixes, "10.20.30.40"))
	assert.True(t, Allowed(prefixes, "192.168.1.5"))
	assert.True(t, Allowed(prefixes, "::ffff:10.0.0.1"))
	assert.False(t, Allowed(prefixes, "192.168.1.6"))
	assert.False(t, Allowed(prefixes, "not-an-ip"))
}

func TestSetAllowedIPsRejectsGarbage(t *testing.T) {
	svc := NewService(newMemRepo(), nil)
	err := svc.SetAllowedIPs(context.Background(), []string{"10.0.0.0/99"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestMFAPolicyDefault(t *testing.T) {
	svc := NewService(newMemRepo(), cache.NewConfigCache(cache.Config{}))
	ctx := context.Background()
	p, err := svc.MFAPolicy(ctx)
	require.NoError(t, err)
	assert.True(t, p.EnforceForStaff)

	require.NoError(t, svc.SetMFAPolicy(ctx, MFAPolicy{EnforceForStaff: false}))
	p, err = svc.MFAPolicy(ctx)
	require.NoError(t, err)
	assert.False(t, p.EnforceForStaff)
}
