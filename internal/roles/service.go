package roles

import (
	"context"
	"errors"
	"strings"

	"github.com/odyssey-erp/sentinel/internal/shared"
)

// RepositoryPort defines data access methods for stored roles.
type RepositoryPort interface {
	GetRecord(ctx context.Context, userID string) (Record, error)
	SetRole(ctx context.Context, userID string, role Role) (Record, error)
}

// Store adapts the external role store. It owns the player fallback so no caller
// has to repeat it.
type Store struct {
	repo RepositoryPort
}

// NewStore builds a Store.
func NewStore(repo RepositoryPort) *Store {
	return &Store{repo: repo}
}

// Lookup returns the full record. A missing profile is shared.ErrIdentityNotFound.
// A stored value outside the catalog is a server error so callers deny.
func (s *Store) Lookup(ctx context.Context, userID string) (Record, error) {
	if strings.TrimSpace(userID) == "" {
		return Record{}, shared.Validation("identity id required")
	}
	rec, err := s.repo.GetRecord(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Record{}, err
		}
		return Record{}, shared.Server("role store read", err)
	}
	if rec.Role == "" {
		rec.Role = DefaultRole
	}
	if !rec.Role.Valid() {
		return Record{}, shared.Server("role store read", errors.New("stored role outside catalog: "+string(rec.Role)))
	}
	return rec, nil
}

// RoleOf returns the stored role for userID, DefaultRole when nothing is recorded.
func (s *Store) RoleOf(ctx context.Context, userID string) (Role, error) {
	rec, err := s.Lookup(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrIdentityNotFound) {
			return DefaultRole, nil
		}
		return "", err
	}
	return rec.Role, nil
}

// Assign persists role for userID.
func (s *Store) Assign(ctx context.Context, userID string, role Role) (Record, error) {
	if !role.Valid() {
		return Record{}, shared.ErrInvalidRole
	}
	rec, err := s.repo.SetRole(ctx, userID, role)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return Record{}, err
		}
		return Record{}, shared.Server("role store write", err)
	}
	return rec, nil
}
