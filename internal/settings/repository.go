package settings

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoValue is returned by GetJSON when the key has never been written.
var ErrNoValue = errors.New("settings: no value")

// Repository stores security configuration in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListAdminEmails returns the dynamic protected admin list.
func (r *Repository) ListAdminEmails(ctx context.Context) ([]ProtectedAdmin, error) {
	rows, err := r.pool.Query(ctx, `SELECT email, added_by, created_at FROM protected_admins ORDER BY email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProtectedAdmin
	for rows.Next() {
		var a ProtectedAdmin
		if err := rows.Scan(&a.Email, &a.AddedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AddAdminEmail inserts email; re-adding an existing entry is a no-op.
func (r *Repository) AddAdminEmail(ctx context.Context, email, addedBy string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO protected_admins (email, added_by, created_at) VALUES ($1, $2, $3) ON CONFLICT (email) DO NOTHING`,
		email, addedBy, time.Now().UTC(),
	)
	return err
}

// RemoveAdminEmail deletes email and reports whether a row existed.
func (r *Repository) RemoveAdminEmail(ctx context.Context, email string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM protected_admins WHERE email = $1`, email)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetJSON decodes the stored value for key into dest.
func (r *Repository) GetJSON(ctx context.Context, key string, dest any) error {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT value FROM security_settings WHERE key = $1`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoValue
		}
		return err
	}
	return json.Unmarshal(raw, dest)
}

// PutJSON upserts value under key.
func (r *Repository) PutJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO security_settings (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, raw, time.Now().UTC(),
	)
	return err
}

var _ RepositoryPort = (*Repository)(nil)
