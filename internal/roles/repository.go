package roles

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/sentinel/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetRecord fetches the stored role for userID. A missing profile yields shared.ErrIdentityNotFound.
func (r *Repository) GetRecord(ctx context.Context, userID string) (Record, error) {
	var (
		rec  Record
		role string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, email, COALESCE(role, ''), updated_at FROM user_roles WHERE user_id = $1`,
		userID,
	).Scan(&rec.UserID, &rec.Email, &role, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, shared.ErrIdentityNotFound
		}
		return Record{}, err
	}
	rec.Role = Role(role)
	return rec, nil
}

// SetRole updates the role for an existing profile.
func (r *Repository) SetRole(ctx context.Context, userID string, role Role) (Record, error) {
	var (
		rec    Record
		stored string
	)
	err := r.pool.QueryRow(ctx,
		`UPDATE user_roles SET role = $2, updated_at = $3 WHERE user_id = $1
		 RETURNING user_id, email, role, updated_at`,
		userID, string(role), time.Now().UTC(),
	).Scan(&rec.UserID, &rec.Email, &stored, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, shared.ErrIdentityNotFound
		}
		return Record{}, err
	}
	rec.Role = Role(stored)
	return rec, nil
}

// ListEdges returns every hierarchy edge.
func (r *Repository) ListEdges(ctx context.Context) ([]Edge, error) {
	rows, err := r.pool.Query(ctx, `SELECT parent_role, child_role FROM role_hierarchy ORDER BY parent_role, child_role`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var edges []Edge
	for rows.Next() {
		var parent, child string
		if err := rows.Scan(&parent, &child); err != nil {
			return nil, err
		}
		edges = append(edges, Edge{Parent: Role(parent), Child: Role(child)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return edges, nil
}

// UpsertEdges inserts edges that do not exist yet.
func (r *Repository) UpsertEdges(ctx context.Context, edges []Edge) error {
	batch := &pgx.Batch{}
	for _, e := range edges {
		batch.Queue(`INSERT INTO role_hierarchy (parent_role, child_role) VALUES ($1, $2) ON CONFLICT DO NOTHING`, string(e.Parent), string(e.Child))
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

var _ RepositoryPort = (*Repository)(nil)
var _ EdgeSource = (*Repository)(nil)
