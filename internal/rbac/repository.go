package rbac

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/sentinel/internal/platform/db"
	"github.com/odyssey-erp/sentinel/internal/roles"
)

// Repository provides PostgreSQL backed permission storage.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListPermissions returns all permissions ordered by name.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, description FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.Name, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// RolePermissions returns the permission names bound directly to role.
func (r *Repository) RolePermissions(ctx context.Context, role roles.Role) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT permission_name FROM role_permissions WHERE role = $1 ORDER BY permission_name`,
		string(role),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UpsertPolicy stores permissions and bindings in one transaction. Existing
// descriptions are refreshed; bindings are only ever added.
func (r *Repository) UpsertPolicy(ctx context.Context, perms []Permission, bindings []Binding) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, p := range perms {
			batch.Queue(`INSERT INTO permissions (name, description) VALUES ($1, $2)
				ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description`,
				NormalizePermission(p.Name), p.Description)
		}
		for _, b := range bindings {
			batch.Queue(`INSERT INTO role_permissions (role, permission_name) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				string(b.Role), NormalizePermission(b.Permission))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

var _ PolicySource = (*Repository)(nil)
