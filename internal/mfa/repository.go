package mfa

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/sentinel/internal/shared"
)

// Factor is an enrolled TOTP secret.
type Factor struct {
	IdentityID  string
	Secret      []byte
	Enabled     bool
	LastCounter int64
	CreatedAt   time.Time
}

// Repository stores factors in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get returns the factor for identityID or shared.ErrNotFound.
func (r *Repository) Get(ctx context.Context, identityID string) (Factor, error) {
	var f Factor
	err := r.pool.QueryRow(ctx,
		`SELECT identity_id, secret, enabled, last_counter, created_at FROM mfa_factors WHERE identity_id = $1`,
		identityID,
	).Scan(&f.IdentityID, &f.Secret, &f.Enabled, &f.LastCounter, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Factor{}, shared.ErrNotFound
		}
		return Factor{}, err
	}
	return f, nil
}

// Enroll stores a new disabled secret, replacing an unconfirmed one.
func (r *Repository) Enroll(ctx context.Context, identityID string, secret []byte) error {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO mfa_factors (identity_id, secret, enabled, last_counter, created_at)
		 VALUES ($1, $2, FALSE, 0, $3)
		 ON CONFLICT (identity_id) DO UPDATE SET secret = EXCLUDED.secret, last_counter = 0, created_at = EXCLUDED.created_at
		 WHERE mfa_factors.enabled = FALSE`,
		identityID, secret, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.Validation("mfa already enabled")
	}
	return nil
}

// Consume records counter as used and optionally enables the factor. It
// reports false when counter is not newer than the last used one.
func (r *Repository) Consume(ctx context.Context, identityID string, counter int64, enable bool) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE mfa_factors SET last_counter = $2, enabled = enabled OR $3
		 WHERE identity_id = $1 AND last_counter < $2`,
		identityID, counter, enable,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

var _ FactorStore = (*Repository)(nil)
