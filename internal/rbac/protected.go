package rbac

import (
	"context"
	"sort"

	"github.com/odyssey-erp/sentinel/internal/shared"
)

// AdminList supplies the mutable protected admin emails, already normalized.
type AdminList interface {
	AdminEmails(ctx context.Context) ([]string, error)
}

// Protector decides whether an email belongs to a protected identity.
// Protected identities resolve to the highest role for every check.
type Protector struct {
	builtin string
	list    AdminList
}

// NewProtector builds a Protector. builtin is fixed at build time and may be empty.
func NewProtector(builtin string, list AdminList) *Protector {
	return &Protector{builtin: shared.NormalizeEmail(builtin), list: list}
}

// IsBuiltin reports whether email is the build-time entry. The match is a
// case-insensitive exact comparison; no prefix or suffix forms are accepted.
func (p *Protector) IsBuiltin(email string) bool {
	return p.builtin != "" && shared.NormalizeEmail(email) == p.builtin
}

// IsProtected reports whether email is the build-time entry or on the mutable list.
func (p *Protector) IsProtected(ctx context.Context, email string) (bool, error) {
	normalized := shared.NormalizeEmail(email)
	if normalized == "" {
		return false, nil
	}
	if normalized == p.builtin {
		return true, nil
	}
	if p.list == nil {
		return false, nil
	}
	emails, err := p.list.AdminEmails(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range emails {
		if e == normalized {
			return true, nil
		}
	}
	return false, nil
}

// List returns the effective list: the build-time entry first, then the
// mutable entries sorted.
func (p *Protector) List(ctx context.Context) ([]string, error) {
	var dynamic []string
	if p.list != nil {
		emails, err := p.list.AdminEmails(ctx)
		if err != nil {
			return nil, err
		}
		dynamic = append(dynamic, emails...)
	}
	sort.Strings(dynamic)
	out := make([]string, 0, len(dynamic)+1)
	if p.builtin != "" {
		out = append(out, p.builtin)
	}
	for _, e := range dynamic {
		if e != p.builtin && (len(out) == 0 || out[len(out)-1] != e) {
			out = append(out, e)
		}
	}
	return out, nil
}
