package settings

import (
	"context"
	"errors"
	"net/netip"
	"strings"

	"github.com/odyssey-erp/sentinel/internal/platform/cache"
	"github.com/odyssey-erp/sentinel/internal/shared"
)

// RepositoryPort defines configuration storage.
type RepositoryPort interface {
	ListAdminEmails(ctx context.Context) ([]ProtectedAdmin, error)
	AddAdminEmail(ctx context.Context, email, addedBy string) error
	RemoveAdminEmail(ctx context.Context, email string) (bool, error)
	GetJSON(ctx context.Context, key string, dest any) error
	PutJSON(ctx context.Context, key string, value any) error
}

// Service reads security configuration through the config cache and invalidates on write.
type Service struct {
	repo  RepositoryPort
	cache *cache.ConfigCache
}

// NewService builds a Service.
func NewService(repo RepositoryPort, c *cache.ConfigCache) *Service {
	return &Service{repo: repo, cache: c}
}

// AdminEmails returns the normalized dynamic protected admin emails.
func (s *Service) AdminEmails(ctx context.Context) ([]string, error) {
	emails, err := cache.Fetch(ctx, s.cache, AdminEmailsKey, func(ctx context.Context) ([]string, error) {
		admins, err := s.repo.ListAdminEmails(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(admins))
		for _, a := range admins {
			out = append(out, shared.NormalizeEmail(a.Email))
		}
		return out, nil
	})
	if err != nil {
		return nil, shared.Server("admin emails load", err)
	}
	return emails, nil
}

// AddAdminEmail stores email and drops the cached list before returning.
func (s *Service) AddAdminEmail(ctx context.Context, email, addedBy string) error {
	if err := s.repo.AddAdminEmail(ctx, shared.NormalizeEmail(email), addedBy); err != nil {
		return shared.Server("admin emails write", err)
	}
	s.invalidate(AdminEmailsKey)
	return nil
}

// RemoveAdminEmail deletes email and drops the cached list before returning.
func (s *Service) RemoveAdminEmail(ctx context.Context, email string) (bool, error) {
	removed, err := s.repo.RemoveAdminEmail(ctx, shared.NormalizeEmail(email))
	if err != nil {
		return false, shared.Server("admin emails write", err)
	}
	s.invalidate(AdminEmailsKey)
	return removed, nil
}

// AllowedIPs returns the parsed IP allow-list. An empty list allows every address.
func (s *Service) AllowedIPs(ctx context.Context) ([]netip.Prefix, error) {
	prefixes, err := cache.Fetch(ctx, s.cache, KeyAllowedIPs, func(ctx context.Context) ([]netip.Prefix, error) {
		var raw []string
		if err := s.repo.GetJSON(ctx, KeyAllowedIPs, &raw); err != nil {
			if errors.Is(err, ErrNoValue) {
				return []netip.Prefix{}, nil
			}
			return nil, err
		}
		return ParseAllowList(raw)
	})
	if err != nil {
		return nil, shared.Server("allowed ips load", err)
	}
	return prefixes, nil
}

// SetAllowedIPs validates and stores the allow-list.
func (s *Service) SetAllowedIPs(ctx context.Context, entries []string) error {
	if _, err := ParseAllowList(entries); err != nil {
		return err
	}
	if err := s.repo.PutJSON(ctx, KeyAllowedIPs, entries); err != nil {
		return shared.Server("allowed ips write", err)
	}
	s.invalidate(KeyAllowedIPs)
	return nil
}

// MFAPolicy returns the stored policy or the default.
func (s *Service) MFAPolicy(ctx context.Context) (MFAPolicy, error) {
	policy, err := cache.Fetch(ctx, s.cache, KeyMFAPolicy, func(ctx context.Context) (MFAPolicy, error) {
		p := DefaultMFAPolicy()
		if err := s.repo.GetJSON(ctx, KeyMFAPolicy, &p); err != nil && !errors.Is(err, ErrNoValue) {
			return MFAPolicy{}, err
		}
		return p, nil
	})
	if err != nil {
		return MFAPolicy{}, shared.Server("mfa policy load", err)
	}
	return policy, nil
}

// SetMFAPolicy stores the policy.
func (s *Service) SetMFAPolicy(ctx context.Context, p MFAPolicy) error {
	if err := s.repo.PutJSON(ctx, KeyMFAPolicy, p); err != nil {
		return shared.Server("mfa policy write", err)
	}
	s.invalidate(KeyMFAPolicy)
	return nil
}

func (s *Service) invalidate(key string) {
	if s.cache != nil {
		s.cache.Invalidate(key)
	}
}

// ParseAllowList accepts bare addresses and CIDR prefixes.
func ParseAllowList(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, raw := range entries {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, shared.Validation("invalid cidr %q", raw)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, shared.Validation("invalid ip %q", raw)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// Allowed reports whether ip falls inside the allow-list. Unparsable input is never allowed.
func Allowed(prefixes []netip.Prefix, ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	if len(prefixes) == 0 {
		return true
	}
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
