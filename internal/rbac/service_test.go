package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/sentinel/internal/audit"
	"github.com/odyssey-erp/sentinel/internal/platform/cache"
	"github.com/odyssey-erp/sentinel/internal/roles"
	"github.com/odyssey-erp/sentinel/internal/settings"
	"github.com/odyssey-erp/sentinel/internal/shared"
)

const builtinEmail = "owner@sentinel.test"

type stubRoleRepo struct {
	records map[string]roles.Record
	err     error
	reads   int
}

func (s *stubRoleRepo) GetRecord(_ context.Context, userID string) (roles.Record, error) {
	s.reads++
	if s.err != nil {
		return roles.Record{}, s.err
	}
	rec, ok := s.records[userID]
	if !ok {
		return roles.Record{}, shared.ErrIdentityNotFound
	}
	return rec, nil
}

func (s *stubRoleRepo) SetRole(_ context.Context, userID string, role roles.Role) (roles.Record, error) {
	rec, ok := s.records[userID]
	if !ok {
		return roles.Record{}, shared.ErrIdentityNotFound
	}
	rec.Role = role
	rec.UpdatedAt = time.Now()
	s.records[userID] = rec
	return rec, nil
}

type stubEdges struct {
	edges []roles.Edge
}

func (s stubEdges) ListEdges(context.Context) ([]roles.Edge, error) {
	return s.edges, nil
}

type stubPolicy struct {
	perms    []Permission
	bindings map[roles.Role][]string
}

func (s *stubPolicy) ListPermissions(context.Context) ([]Permission, error) {
	return s.perms, nil
}

func (s *stubPolicy) RolePermissions(_ context.Context, role roles.Role) ([]string, error) {
	return s.bindings[role], nil
}

type stubSettingsRepo struct {
	admins map[string]settings.ProtectedAdmin
	values map[string][]byte
}

func (m *stubSettingsRepo) ListAdminEmails(context.Context) ([]settings.ProtectedAdmin, error) {
	out := make([]settings.ProtectedAdmin, 0, len(m.admins))
	for _, a := range m.admins {
		out = append(out, a)
	}
	return out, nil
}

func (m *stubSettingsRepo) AddAdminEmail(_ context.Context, email, addedBy string) error {
	m.admins[email] = settings.ProtectedAdmin{Email: email, AddedBy: addedBy}
	return nil
}

func (m *stubSettingsRepo) RemoveAdminEmail(_ context.Context, email string) (bool, error) {
	_, ok := m.admins[email]
	delete(m.admins, email)
	return ok, nil
}

func (m *stubSettingsRepo) GetJSON(_ context.Context, key string, dest any) error {
	raw, ok := m.values[key]
	if !ok {
		return settings.ErrNoValue
	}
	return json.Unmarshal(raw, dest)
}

func (m *stubSettingsRepo) PutJSON(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.values[key] = raw
	return nil
}

type recordingAudit struct {
	events []audit.Event
	gaps   []audit.Event
	err    error
}

func (r *recordingAudit) Log(_ context.Context, ev audit.Event) (audit.Result, error) {
	if r.err != nil {
		return audit.Result{}, r.err
	}
	r.events = append(r.events, ev)
	return audit.Result{Event: &ev}, nil
}

func (r *recordingAudit) ReportGap(_ context.Context, ev audit.Event, _ error) {
	r.gaps = append(r.gaps, ev)
}

func (r *recordingAudit) ofType(t audit.EventType) []audit.Event {
	var out []audit.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	svc      *Service
	roleRepo *stubRoleRepo
	settings *settings.Service
	audit    *recordingAudit
	cache    *cache.ConfigCache
	policy   *stubPolicy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := cache.NewConfigCache(cache.Config{})
	roleRepo := &stubRoleRepo{records: map[string]roles.Record{
		"alice": {UserID: "alice", Email: "alice@x.com", Role: roles.Player},
		"owner": {UserID: "owner", Email: builtinEmail, Role: roles.Player},
		"root":  {UserID: "root", Email: "root@x.com", Role: roles.SuperAdmin},
		"adm":   {UserID: "adm", Email: "adm@x.com", Role: roles.Admin},
		"adm2":  {UserID: "adm2", Email: "adm2@x.com", Role: roles.Admin},
		"cm":    {UserID: "cm", Email: "cm@x.com", Role: roles.CategoryManager},
		"bob":   {UserID: "bob", Email: "bob@x.com", Role: roles.Player},
		"vip":   {UserID: "vip", Email: "vip@x.com", Role: roles.Player},
	}}
	settingsRepo := &stubSettingsRepo{
		admins: map[string]settings.ProtectedAdmin{"vip@x.com": {Email: "vip@x.com"}},
		values: map[string][]byte{},
	}
	settingsSvc := settings.NewService(settingsRepo, c)
	policy := &stubPolicy{
		perms: []Permission{
			{Name: shared.PermUsersManage},
			{Name: shared.PermRolesAssign},
			{Name: shared.PermRolesView},
			{Name: "content.publish"},
		},
		bindings: map[roles.Role][]string{
			roles.Admin:           {shared.PermUsersManage, shared.PermRolesAssign, shared.PermRolesView},
			roles.CategoryManager: {"content.publish"},
		},
	}
	rec := &recordingAudit{}
	svc := NewService(Deps{
		Roles:     roles.NewStore(roleRepo),
		Hierarchy: roles.NewHierarchy(stubEdges{edges: roles.DefaultEdges()}, c, nil),
		Policy:    policy,
		Protector: NewProtector(builtinEmail, settingsSvc),
		Admins:    settingsSvc,
		IPs:       settingsSvc,
		Cache:     c,
		Audit:     rec,
	})
	return &fixture{svc: svc, roleRepo: roleRepo, settings: settingsSvc, audit: rec, cache: c, policy: policy}
}

func ident(id, email string) shared.Identity {
	return shared.Identity{ID: id, Email: email}
}

func TestPlayerLacksManageUsers(t *testing.T) {
	f := newFixture(t)
	ok, err := f.svc.HasPermission(context.Background(), ident("alice", "alice@x.com"), "manage_users")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBuiltinIdentityBypassesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := ident("owner", "Owner@Sentinel.TEST")

	ok, err := f.svc.HasPermission(ctx, owner, "anything_at_all")
	require.NoError(t, err)
	assert.True(t, ok)

	role, err := f.svc.GetRole(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, roles.SuperAdmin, role)

	access, err := f.svc.VerifyAdminAccess(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, AdminAccess{IsAdmin: true, Role: roles.SuperAdmin, IsSpecialAdmin: true}, access)

	require.NoError(t, f.settings.SetAllowedIPs(ctx, []string{"10.0.0.0/8"}))
	assert.True(t, f.svc.ValidateIP(ctx, owner, "203.0.113.9"))
}

func TestBuiltinMatchIsExact(t *testing.T) {
	p := NewProtector(builtinEmail, nil)
	for _, email := range []string{"x" + builtinEmail, builtinEmail + ".evil", "owner@sentinel", ""} {
		ok, err := p.IsProtected(context.Background(), email)
		require.NoError(t, err)
		assert.False(t, ok, email)
	}
}

func TestProtectedBypassIgnoresRoleStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.roleRepo.err = errors.New("role store down")

	ok, err := f.svc.HasPermission(context.Background(), ident("vip", "VIP@x.com"), shared.PermRolesAssign)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, f.roleRepo.reads)
}

func TestRoleStoreFailureFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.roleRepo.err = errors.New("role store down")

	ok, err := f.svc.HasPermission(context.Background(), ident("adm", "adm@x.com"), shared.PermUsersManage)
	assert.False(t, ok)
	assert.ErrorIs(t, err, shared.ErrServer)

	granted, err := f.svc.Authorize(context.Background(), ident("adm", "adm@x.com"), shared.PermUsersManage)
	assert.False(t, granted)
	assert.Error(t, err)
	require.Len(t, f.audit.ofType(audit.EventAccessDenied), 1)
	assert.Equal(t, audit.SeverityWarning, f.audit.ofType(audit.EventAccessDenied)[0].Severity)
}

func TestUnknownPermissionIsNotFound(t *testing.T) {
	f := newFixture(t)
	ok, err := f.svc.HasPermission(context.Background(), ident("alice", "alice@x.com"), "no.such.permission")
	assert.False(t, ok)
	assert.ErrorIs(t, err, shared.ErrPermissionNotFound)

	ok, err = f.svc.HasPermission(context.Background(), ident("root", "root@x.com"), "no.such.permission")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEmptyPermissionIsValidationError(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.HasPermission(context.Background(), ident("alice", "alice@x.com"), "  ")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

// Admin inherits category_manager in the hierarchy, yet does not receive its
// bindings: permissions are looked up for the literal role only.
func TestPermissionsDoNotFollowHierarchy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inherits, err := roles.NewHierarchy(stubEdges{edges: roles.DefaultEdges()}, nil, nil).InheritsFrom(ctx, roles.CategoryManager, roles.Admin)
	require.NoError(t, err)
	require.True(t, inherits)

	ok, err := f.svc.HasPermission(ctx, ident("adm", "adm@x.com"), "content.publish")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.svc.HasPermission(ctx, ident("cm", "cm@x.com"), "content.publish")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAdminRoleCeiling(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := ident("adm", "adm@x.com")

	_, err := f.svc.UpdateRole(ctx, admin, "bob", "super_admin")
	assert.ErrorIs(t, err, shared.ErrPermissionDenied)
	assert.ErrorIs(t, err, shared.ErrForbidden)
	assert.Equal(t, roles.Player, f.roleRepo.records["bob"].Role)

	rec, err := f.svc.UpdateRole(ctx, admin, "bob", "category_manager")
	require.NoError(t, err)
	assert.Equal(t, roles.CategoryManager, rec.Role)

	changes := f.audit.ofType(audit.EventRoleChange)
	require.Len(t, changes, 1)
	assert.Equal(t, audit.SeverityWarning, changes[0].Severity)
	assert.Equal(t, "category_manager", changes[0].Details["to"])
	assert.Len(t, f.audit.ofType(audit.EventRoleChangeDenied), 1)
}

func TestAdminCannotAssignOwnLevel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := ident("adm", "adm@x.com")

	_, err := f.svc.UpdateRole(ctx, admin, "bob", "admin")
	assert.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, err = f.svc.UpdateRole(ctx, admin, "adm2", "player")
	assert.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, err = f.svc.UpdateRole(ctx, ident("cm", "cm@x.com"), "bob", "player")
	assert.ErrorIs(t, err, shared.ErrPermissionDenied)
}

func TestHighestRoleAssignsAnything(t *testing.T) {
	f := newFixture(t)
	rec, err := f.svc.UpdateRole(context.Background(), ident("root", "root@x.com"), "adm", "super_admin")
	require.NoError(t, err)
	assert.Equal(t, roles.SuperAdmin, rec.Role)
}

func TestInvalidRoleIsRejectedAndAudited(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.UpdateRole(context.Background(), ident("root", "root@x.com"), "bob", "emperor")
	assert.ErrorIs(t, err, shared.ErrInvalidRole)
	assert.Len(t, f.audit.ofType(audit.EventRoleChangeDenied), 1)
}

func TestProtectedTargetRequiresHighest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.UpdateRole(ctx, ident("adm", "adm@x.com"), "vip", "category_manager")
	assert.ErrorIs(t, err, shared.ErrProtectedTarget)

	_, err = f.svc.UpdateRole(ctx, ident("root", "root@x.com"), "vip", "category_manager")
	require.NoError(t, err)

	_, err = f.svc.UpdateRole(ctx, ident("owner", builtinEmail), "vip", "cfo")
	require.NoError(t, err)
}

func TestRoleChangeAuditGapDoesNotBlockMutation(t *testing.T) {
	f := newFixture(t)
	f.audit.err = shared.Server("audit.write", audit.ErrAuditWriteFailed)

	rec, err := f.svc.UpdateRole(context.Background(), ident("adm", "adm@x.com"), "bob", "cfo")
	require.NoError(t, err)
	assert.Equal(t, roles.CFO, rec.Role)
	require.Len(t, f.audit.gaps, 1)
	assert.Equal(t, audit.EventRoleChange, f.audit.gaps[0].Type)
}

type memAuditStore struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *memAuditStore) Insert(_ context.Context, ev audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memAuditStore) InsertBatch(_ context.Context, evs []audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evs...)
	return nil
}

func (m *memAuditStore) count(t audit.EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func TestRepeatedRoleChangesAreAllPersisted(t *testing.T) {
	f := newFixture(t)
	store := &memAuditStore{}
	logger := audit.NewLogger(store, audit.Config{FlushInterval: time.Hour}, nil)
	t.Cleanup(func() { _ = logger.Close(context.Background()) })
	f.svc.audit = logger

	ctx := context.Background()
	adm := ident("adm", "adm@x.com")
	for _, role := range []string{"category_manager", "player", "category_manager"} {
		rec, err := f.svc.UpdateRole(ctx, adm, "bob", role)
		require.NoError(t, err)
		assert.Equal(t, roles.Role(role), rec.Role)
	}
	assert.Equal(t, 3, store.count(audit.EventRoleChange))
}

type skippingAudit struct {
	recordingAudit
}

func (s *skippingAudit) Log(context.Context, audit.Event) (audit.Result, error) {
	return audit.Result{Skipped: true}, nil
}

func TestSkippedRoleChangeIsReportedAsGap(t *testing.T) {
	f := newFixture(t)
	sink := &skippingAudit{}
	f.svc.audit = sink

	_, err := f.svc.UpdateRole(context.Background(), ident("adm", "adm@x.com"), "bob", "cfo")
	require.NoError(t, err)
	require.Len(t, sink.gaps, 1)
	assert.Equal(t, audit.EventRoleChange, sink.gaps[0].Type)
}

func TestRoleUpdateInvalidatesCachedRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bob := ident("bob", "bob@x.com")

	role, err := f.svc.GetRole(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, roles.Player, role)

	_, err = f.svc.UpdateRole(ctx, ident("adm", "adm@x.com"), "bob", "partner_manager")
	require.NoError(t, err)

	role, err = f.svc.GetRole(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, roles.PartnerManager, role)
}

func TestAddProtectedAdminIsVisibleImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ok, err := f.svc.IsProtected(ctx, ident("", "new@x.com"))
	require.NoError(t, err)
	require.False(t, ok)

	list, err := f.svc.AddProtectedAdmin(ctx, ident("root", "root@x.com"), "New@X.com")
	require.NoError(t, err)
	assert.Contains(t, list, "new@x.com")
	assert.Equal(t, builtinEmail, list[0])

	ok, err = f.svc.IsProtected(ctx, ident("", "new@x.com"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Len(t, f.audit.ofType(audit.EventProtectedAdminAdded), 1)
}

func TestProtectedAdminMutationRequiresHighest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddProtectedAdmin(ctx, ident("adm", "adm@x.com"), "new@x.com")
	assert.ErrorIs(t, err, shared.ErrPermissionDenied)

	_, err = f.svc.RemoveProtectedAdmin(ctx, ident("adm", "adm@x.com"), "vip@x.com")
	assert.ErrorIs(t, err, shared.ErrPermissionDenied)

	list, err := f.svc.RemoveProtectedAdmin(ctx, ident("vip", "vip@x.com"), "vip@x.com")
	require.NoError(t, err)
	assert.NotContains(t, list, "vip@x.com")

	_, err = f.svc.AddProtectedAdmin(ctx, ident("root", "root@x.com"), "not-an-email")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestBuiltinEntryCannotBeRemoved(t *testing.T) {
	f := newFixture(t)
	for _, caller := range []shared.Identity{
		ident("root", "root@x.com"),
		ident("owner", builtinEmail),
		ident("alice", "alice@x.com"),
	} {
		_, err := f.svc.RemoveProtectedAdmin(context.Background(), caller, "OWNER@sentinel.test")
		assert.ErrorIs(t, err, shared.ErrForbiddenOperation)
	}
	ok, err := f.svc.IsProtected(context.Background(), ident("", builtinEmail))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestValidateIP(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := ident("alice", "alice@x.com")

	assert.True(t, f.svc.ValidateIP(ctx, alice, "192.168.1.1"))
	assert.False(t, f.svc.ValidateIP(ctx, alice, "garbage"))

	require.NoError(t, f.settings.SetAllowedIPs(ctx, []string{"10.0.0.0/8", "2001:db8::1"}))
	assert.True(t, f.svc.ValidateIP(ctx, alice, "10.1.2.3"))
	assert.True(t, f.svc.ValidateIP(ctx, alice, "2001:db8::1"))
	assert.False(t, f.svc.ValidateIP(ctx, alice, "192.168.1.1"))
	assert.NotEmpty(t, f.audit.ofType(audit.EventIPBlocked))
}

func TestVerifyAdminAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	access, err := f.svc.VerifyAdminAccess(ctx, ident("alice", "alice@x.com"))
	require.NoError(t, err)
	assert.False(t, access.IsAdmin)
	assert.Equal(t, roles.Player, access.Role)

	access, err = f.svc.VerifyAdminAccess(ctx, ident("cm", "cm@x.com"))
	require.NoError(t, err)
	assert.True(t, access.IsAdmin)
	assert.False(t, access.IsSpecialAdmin)

	_, err = f.svc.VerifyAdminAccess(ctx, ident("ghost", "ghost@x.com"))
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListPermissions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	perms, err := f.svc.ListPermissions(ctx, ident("cm", "cm@x.com"))
	require.NoError(t, err)
	assert.Equal(t, []Permission{{Name: "content.publish"}}, perms)

	perms, err = f.svc.ListPermissions(ctx, ident("root", "root@x.com"))
	require.NoError(t, err)
	assert.Len(t, perms, 4)
}

func TestClearCacheRequiresHighest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.GetRole(ctx, ident("alice", "alice@x.com"))
	require.NoError(t, err)
	require.NotZero(t, f.cache.Len())

	assert.ErrorIs(t, f.svc.ClearCache(ctx, ident("adm", "adm@x.com")), shared.ErrPermissionDenied)
	require.NoError(t, f.svc.ClearCache(ctx, ident("root", "root@x.com")))
	assert.Zero(t, f.cache.Len())
}

func TestProtectorListOrdersBuiltinFirst(t *testing.T) {
	p := NewProtector(builtinEmail, staticList{"b@x.com", "a@x.com", builtinEmail})
	list, err := p.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{builtinEmail, "a@x.com", "b@x.com"}, list)
}

type staticList []string

func (s staticList) AdminEmails(context.Context) ([]string, error) {
	return s, nil
}

func TestRefreshReloadsBindings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cm := ident("cm", "cm@x.com")
	require.NoError(t, f.svc.Warmup(ctx))

	ok, err := f.svc.HasPermission(ctx, cm, shared.PermRolesView)
	require.NoError(t, err)
	require.False(t, ok)

	f.policy.bindings[roles.CategoryManager] = []string{"content.publish", shared.PermRolesView}
	ok, err = f.svc.HasPermission(ctx, cm, shared.PermRolesView)
	require.NoError(t, err)
	require.False(t, ok, "bindings are served from cache until refreshed")

	require.NoError(t, f.svc.Refresh(ctx))
	ok, err = f.svc.HasPermission(ctx, cm, shared.PermRolesView)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInvalidatePolicyDropsHierarchy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.svc.Warmup(ctx))

	f.svc.InvalidatePolicy()
	loaded := false
	_, err := f.cache.Get(ctx, roles.HierarchyCacheKey, func(context.Context) (any, error) {
		loaded = true
		return roles.DefaultEdges(), nil
	})
	require.NoError(t, err)
	assert.True(t, loaded)
}
