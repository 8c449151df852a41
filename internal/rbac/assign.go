package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/odyssey-erp/sentinel/internal/audit"
	"github.com/odyssey-erp/sentinel/internal/roles"
	"github.com/odyssey-erp/sentinel/internal/shared"
)

// UpdateRole assigns role to targetID on behalf of caller.
//
// Only admin-level callers may assign, and only roles strictly below their
// own in the hierarchy, to targets whose current role is also strictly
// below. The highest role may assign anything. A protected target can only
// be changed by a caller resolving to the highest role.
//
// Every outcome is recorded synchronously as a warning event before
// returning. If the success event cannot be written the change still
// stands and the gap is reported.
func (s *Service) UpdateRole(ctx context.Context, caller shared.Identity, targetID, role string) (roles.Record, error) {
	targetID = strings.TrimSpace(targetID)
	details := map[string]any{"target_id": targetID, "requested_role": role}
	deny := func(err error) (roles.Record, error) {
		details["reason"] = err.Error()
		ev := audit.NewEvent(ctx, audit.EventRoleChangeDenied, audit.SeverityWarning, caller, details)
		ev.Scope = targetID + "|" + role
		s.record(ctx, ev)
		s.observe("assign", "denied")
		return roles.Record{}, err
	}

	if targetID == "" {
		return deny(shared.Validation("target identity id required"))
	}
	next, err := roles.Parse(role)
	if err != nil {
		return deny(err)
	}
	callerRole, _, err := s.EffectiveRole(ctx, caller)
	if err != nil {
		return deny(err)
	}
	current, err := s.roles.Lookup(ctx, targetID)
	if err != nil {
		return deny(err)
	}
	targetProtected, err := s.protector.IsProtected(ctx, current.Email)
	if err != nil {
		return deny(err)
	}
	details["caller_role"] = string(callerRole)
	details["from"] = string(current.Role)
	if err := s.canAssign(ctx, callerRole, current.Role, next, targetProtected); err != nil {
		return deny(err)
	}

	updated, err := s.roles.Assign(ctx, targetID, next)
	if err != nil {
		return deny(err)
	}
	if s.cache != nil {
		s.cache.Invalidate(userRoleCacheKey(targetID))
	}
	s.observe("assign", "granted")

	details["to"] = string(next)
	ev := audit.NewEvent(ctx, audit.EventRoleChange, audit.SeverityWarning, caller, details)
	ev.Scope = targetID + "|" + string(next)
	ev.Mandatory = true
	if s.audit != nil {
		res, err := s.audit.Log(ctx, ev)
		switch {
		case err != nil:
			s.audit.ReportGap(ctx, ev, err)
		case res.Skipped:
			s.audit.ReportGap(ctx, ev, audit.ErrAuditWriteFailed)
		}
	}
	return updated, nil
}

// canAssign applies the assignment ceiling. Hierarchy failures deny.
func (s *Service) canAssign(ctx context.Context, caller, current, next roles.Role, targetProtected bool) error {
	if targetProtected && !caller.IsHighest() {
		return shared.ErrProtectedTarget
	}
	if caller.IsHighest() {
		return nil
	}
	if next.IsHighest() {
		return shared.ErrPermissionDenied
	}
	adminLevel, err := s.hierarchy.InheritsFrom(ctx, roles.Admin, caller)
	if err != nil {
		return hierarchyDenial(err)
	}
	if !adminLevel {
		return shared.ErrPermissionDenied
	}
	for _, r := range []roles.Role{next, current} {
		below, err := s.strictlyBelow(ctx, r, caller)
		if err != nil {
			return hierarchyDenial(err)
		}
		if !below {
			return shared.ErrPermissionDenied
		}
	}
	return nil
}

func (s *Service) strictlyBelow(ctx context.Context, role, ceiling roles.Role) (bool, error) {
	if role == ceiling {
		return false, nil
	}
	return s.hierarchy.InheritsFrom(ctx, role, ceiling)
}

func hierarchyDenial(err error) error {
	if errors.Is(err, shared.ErrServer) {
		return err
	}
	return shared.ErrPermissionDenied
}
