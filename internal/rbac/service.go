package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/sentinel/internal/audit"
	"github.com/odyssey-erp/sentinel/internal/platform/cache"
	"github.com/odyssey-erp/sentinel/internal/roles"
	"github.com/odyssey-erp/sentinel/internal/settings"
	"github.com/odyssey-erp/sentinel/internal/shared"
)

// RoleStore reads and writes the stored role of an identity.
type RoleStore interface {
	Lookup(ctx context.Context, userID string) (roles.Record, error)
	RoleOf(ctx context.Context, userID string) (roles.Role, error)
	Assign(ctx context.Context, userID string, role roles.Role) (roles.Record, error)
}

// HierarchyResolver answers role containment queries.
type HierarchyResolver interface {
	InheritsFrom(ctx context.Context, role, ancestor roles.Role) (bool, error)
	Adjacency(ctx context.Context) (map[roles.Role][]roles.Role, error)
}

// PolicySource loads the permission catalog and role bindings.
type PolicySource interface {
	ListPermissions(ctx context.Context) ([]Permission, error)
	RolePermissions(ctx context.Context, role roles.Role) ([]string, error)
}

// ProtectedAdminStore mutates the dynamic protected admin list.
type ProtectedAdminStore interface {
	AddAdminEmail(ctx context.Context, email, addedBy string) error
	RemoveAdminEmail(ctx context.Context, email string) (bool, error)
}

// IPPolicy supplies the IP allow-list.
type IPPolicy interface {
	AllowedIPs(ctx context.Context) ([]netip.Prefix, error)
}

// AuditLogger records security events.
type AuditLogger interface {
	Log(ctx context.Context, event audit.Event) (audit.Result, error)
	ReportGap(ctx context.Context, event audit.Event, cause error)
}

// Observer receives decision outcomes for metrics.
type Observer interface {
	Decision(op, outcome string)
}

// Deps collects Service collaborators.
type Deps struct {
	Roles     RoleStore
	Hierarchy HierarchyResolver
	Policy    PolicySource
	Protector *Protector
	Admins    ProtectedAdminStore
	IPs       IPPolicy
	Cache     *cache.ConfigCache
	Audit     AuditLogger
	Logger    *slog.Logger
	Observer  Observer
}

// Service evaluates permissions and performs privileged mutations.
type Service struct {
	roles     RoleStore
	hierarchy HierarchyResolver
	policy    PolicySource
	protector *Protector
	admins    ProtectedAdminStore
	ips       IPPolicy
	cache     *cache.ConfigCache
	audit     AuditLogger
	logger    *slog.Logger
	observer  Observer
}

var validate = validator.New()

// NewService builds a Service.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Protector == nil {
		d.Protector = NewProtector("", nil)
	}
	return &Service{
		roles:     d.Roles,
		hierarchy: d.Hierarchy,
		policy:    d.Policy,
		protector: d.Protector,
		admins:    d.Admins,
		ips:       d.IPs,
		cache:     d.Cache,
		audit:     d.Audit,
		logger:    d.Logger,
		observer:  d.Observer,
	}
}

// IsProtected reports whether id is a protected identity.
func (s *Service) IsProtected(ctx context.Context, id shared.Identity) (bool, error) {
	return s.protector.IsProtected(ctx, id.Email)
}

// EffectiveRole resolves the role used for every decision about id. Protected
// identities resolve to the highest role before the role store is consulted.
func (s *Service) EffectiveRole(ctx context.Context, id shared.Identity) (roles.Role, bool, error) {
	protected, err := s.protector.IsProtected(ctx, id.Email)
	if err != nil {
		return "", false, err
	}
	if protected {
		return roles.Highest, true, nil
	}
	if id.ID == "" {
		return "", false, shared.Validation("identity id required")
	}
	role, err := cache.Fetch(ctx, s.cache, userRoleCacheKey(id.ID), func(ctx context.Context) (roles.Role, error) {
		return s.roles.RoleOf(ctx, id.ID)
	})
	if err != nil {
		return "", false, err
	}
	return role, false, nil
}

// GetRole returns the effective role of id.
func (s *Service) GetRole(ctx context.Context, id shared.Identity) (roles.Role, error) {
	role, _, err := s.EffectiveRole(ctx, id)
	return role, err
}

// HasPermission reports whether id holds permission. Any failure to resolve
// the role yields false together with the error. Permissions are read from the
// bindings of the literal role only; the hierarchy is not consulted.
func (s *Service) HasPermission(ctx context.Context, id shared.Identity, permission string) (bool, error) {
	name := NormalizePermission(permission)
	if name == "" {
		return false, shared.Validation("permission name required")
	}
	role, _, err := s.EffectiveRole(ctx, id)
	if err != nil {
		s.observe("check", "error")
		return false, err
	}
	if role.IsHighest() {
		s.observe("check", "granted")
		return true, nil
	}
	bound, err := s.rolePermissions(ctx, role)
	if err != nil {
		s.observe("check", "error")
		return false, err
	}
	for _, p := range bound {
		if p == name {
			s.observe("check", "granted")
			return true, nil
		}
	}
	known, err := s.permissionExists(ctx, name)
	if err != nil {
		s.observe("check", "error")
		return false, err
	}
	if !known {
		s.observe("check", "unknown")
		return false, shared.ErrPermissionNotFound
	}
	s.observe("check", "denied")
	return false, nil
}

// Authorize is HasPermission for request gating: the verdict is recorded as
// an audit event and every error resolves to a denial.
func (s *Service) Authorize(ctx context.Context, id shared.Identity, permission string) (bool, error) {
	ok, err := s.HasPermission(ctx, id, permission)
	details := map[string]any{"permission": NormalizePermission(permission)}
	if ok {
		ev := audit.NewEvent(ctx, audit.EventAccessGranted, audit.SeverityInfo, id, details)
		ev.Scope = NormalizePermission(permission)
		s.record(ctx, ev)
		return true, nil
	}
	if err != nil {
		details["reason"] = reasonOf(err)
	}
	ev := audit.NewEvent(ctx, audit.EventAccessDenied, audit.SeverityWarning, id, details)
	ev.Scope = NormalizePermission(permission)
	s.record(ctx, ev)
	return false, err
}

// ListPermissions returns the permissions id holds. The highest role and
// protected identities receive the full catalog.
func (s *Service) ListPermissions(ctx context.Context, id shared.Identity) ([]Permission, error) {
	role, _, err := s.EffectiveRole(ctx, id)
	if err != nil {
		return nil, err
	}
	catalog, err := s.catalog(ctx)
	if err != nil {
		return nil, err
	}
	if role.IsHighest() {
		return catalog, nil
	}
	bound, err := s.rolePermissions(ctx, role)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(bound))
	for _, p := range bound {
		set[p] = struct{}{}
	}
	out := make([]Permission, 0, len(bound))
	for _, p := range catalog {
		if _, ok := set[NormalizePermission(p.Name)]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// VerifyAdminAccess reports whether id is staff. Protected identities are
// always admin; anyone else must have a stored profile.
func (s *Service) VerifyAdminAccess(ctx context.Context, id shared.Identity) (AdminAccess, error) {
	protected, err := s.protector.IsProtected(ctx, id.Email)
	if err != nil {
		return AdminAccess{}, err
	}
	if protected {
		return AdminAccess{IsAdmin: true, Role: roles.Highest, IsSpecialAdmin: true}, nil
	}
	rec, err := s.roles.Lookup(ctx, id.ID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.record(ctx, audit.NewEvent(ctx, audit.EventAdminAccessDenied, audit.SeverityWarning, id, map[string]any{"reason": "identity not found"}))
		}
		return AdminAccess{}, err
	}
	access := AdminAccess{IsAdmin: rec.Role.IsStaff(), Role: rec.Role}
	if !access.IsAdmin {
		s.record(ctx, audit.NewEvent(ctx, audit.EventAdminAccessDenied, audit.SeverityWarning, id, map[string]any{"role": string(rec.Role)}))
	}
	return access, nil
}

// ValidateIP reports whether ip may reach the admin surface. It always
// resolves: a load failure is logged and treated as blocked.
func (s *Service) ValidateIP(ctx context.Context, id shared.Identity, ip string) bool {
	if protected, err := s.protector.IsProtected(ctx, id.Email); err == nil && protected {
		return true
	}
	if s.ips == nil {
		return settings.Allowed(nil, ip)
	}
	prefixes, err := s.ips.AllowedIPs(ctx)
	if err != nil {
		s.logger.Error("load ip allow-list", slog.Any("error", err))
		s.record(ctx, audit.NewEvent(ctx, audit.EventIPBlocked, audit.SeverityError, id, map[string]any{"ip": ip, "reason": "allow-list unavailable"}))
		return false
	}
	if settings.Allowed(prefixes, ip) {
		return true
	}
	s.record(ctx, audit.NewEvent(ctx, audit.EventIPBlocked, audit.SeverityWarning, id, map[string]any{"ip": ip}))
	return false
}

// RoleHierarchy returns role → direct child roles.
func (s *Service) RoleHierarchy(ctx context.Context) (map[roles.Role][]roles.Role, error) {
	return s.hierarchy.Adjacency(ctx)
}

// ProtectedAdmins returns the effective protected list.
func (s *Service) ProtectedAdmins(ctx context.Context) ([]string, error) {
	return s.protector.List(ctx)
}

// AddProtectedAdmin adds email to the dynamic list. Only the highest role may do this.
func (s *Service) AddProtectedAdmin(ctx context.Context, caller shared.Identity, email string) ([]string, error) {
	normalized := shared.NormalizeEmail(email)
	if err := validate.Var(normalized, "required,email"); err != nil {
		return nil, shared.Validation("a valid email is required")
	}
	if err := s.requireHighest(ctx, caller, "add", normalized); err != nil {
		return nil, err
	}
	if !s.protector.IsBuiltin(normalized) {
		if err := s.admins.AddAdminEmail(ctx, normalized, caller.NormalizedEmail()); err != nil {
			return nil, err
		}
	}
	s.record(ctx, audit.NewEvent(ctx, audit.EventProtectedAdminAdded, audit.SeverityWarning, caller, map[string]any{"email": normalized}))
	return s.protector.List(ctx)
}

// RemoveProtectedAdmin removes email from the dynamic list. The build-time
// entry can never be removed.
func (s *Service) RemoveProtectedAdmin(ctx context.Context, caller shared.Identity, email string) ([]string, error) {
	normalized := shared.NormalizeEmail(email)
	if normalized == "" {
		return nil, shared.Validation("email is required")
	}
	if s.protector.IsBuiltin(normalized) {
		s.record(ctx, audit.NewEvent(ctx, audit.EventProtectedAdminDenied, audit.SeverityWarning, caller, map[string]any{"email": normalized, "op": "remove", "reason": "built-in entry"}))
		return nil, shared.ErrForbiddenOperation
	}
	if err := s.requireHighest(ctx, caller, "remove", normalized); err != nil {
		return nil, err
	}
	removed, err := s.admins.RemoveAdminEmail(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, shared.ErrIdentityNotFound
	}
	s.record(ctx, audit.NewEvent(ctx, audit.EventProtectedAdminRemoved, audit.SeverityWarning, caller, map[string]any{"email": normalized}))
	return s.protector.List(ctx)
}

// ClearCache drops every cached configuration entry. Only the highest role may do this.
func (s *Service) ClearCache(ctx context.Context, caller shared.Identity) error {
	if err := s.requireHighest(ctx, caller, "clear_cache", ""); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Clear()
	}
	s.record(ctx, audit.NewEvent(ctx, audit.EventCacheCleared, audit.SeverityWarning, caller, nil))
	return nil
}

// InvalidatePolicy drops the cached hierarchy, permissions and bindings.
func (s *Service) InvalidatePolicy() {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(roles.HierarchyCacheKey)
	s.cache.Invalidate(PermissionsCacheKey)
	s.cache.InvalidatePrefix(rolePermissionsKeyPrefix)
}

// Refresh drops the cached policy and loads it again from the stores.
func (s *Service) Refresh(ctx context.Context) error {
	s.InvalidatePolicy()
	return s.Warmup(ctx)
}

// Warmup loads the hierarchy, the catalog and every role's bindings into the cache.
func (s *Service) Warmup(ctx context.Context) error {
	if _, err := s.hierarchy.Adjacency(ctx); err != nil {
		return err
	}
	if _, err := s.catalog(ctx); err != nil {
		return err
	}
	for _, role := range roles.All() {
		if _, err := s.rolePermissions(ctx, role); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) requireHighest(ctx context.Context, caller shared.Identity, op, email string) error {
	role, _, err := s.EffectiveRole(ctx, caller)
	if err != nil {
		return err
	}
	if role.IsHighest() {
		return nil
	}
	details := map[string]any{"op": op, "role": string(role)}
	if email != "" {
		details["email"] = email
	}
	s.record(ctx, audit.NewEvent(ctx, audit.EventProtectedAdminDenied, audit.SeverityWarning, caller, details))
	return shared.ErrPermissionDenied
}

func (s *Service) catalog(ctx context.Context) ([]Permission, error) {
	perms, err := cache.Fetch(ctx, s.cache, PermissionsCacheKey, s.policy.ListPermissions)
	if err != nil {
		return nil, shared.Server("permission catalog load", err)
	}
	return perms, nil
}

func (s *Service) permissionExists(ctx context.Context, name string) (bool, error) {
	perms, err := s.catalog(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range perms {
		if NormalizePermission(p.Name) == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) rolePermissions(ctx context.Context, role roles.Role) ([]string, error) {
	names, err := cache.Fetch(ctx, s.cache, RolePermissionsCacheKey(role), func(ctx context.Context) ([]string, error) {
		raw, err := s.policy.RolePermissions(ctx, role)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(raw))
		for _, name := range raw {
			out = append(out, NormalizePermission(name))
		}
		return out, nil
	})
	if err != nil {
		return nil, shared.Server("role permissions load", err)
	}
	return names, nil
}

func (s *Service) record(ctx context.Context, ev audit.Event) {
	if s.audit == nil {
		return
	}
	if _, err := s.audit.Log(ctx, ev); err != nil {
		s.logger.Warn("security event not recorded", slog.String("event_type", string(ev.Type)), slog.Any("error", err))
	}
}

func (s *Service) observe(op, outcome string) {
	if s.observer != nil {
		s.observer.Decision(op, outcome)
	}
}

func reasonOf(err error) string {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrValidation):
		return "invalid_request"
	default:
		return "indeterminate"
	}
}
