package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Membership fetches the organization membership of a user.
func (r *PGRepository) Membership(ctx context.Context, userID string) (Membership, error) {
	var (
		m    Membership
		role string
	)
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, COALESCE(organization_id::text, ''), role FROM organization_members WHERE user_id = $1`,
		userID,
	).Scan(&m.UserID, &m.OrganizationID, &role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Membership{}, ErrNotFound
		}
		return Membership{}, err
	}
	m.Role = Role(role)
	return m, nil
}

// Store fetches a store with its owning organization.
func (r *PGRepository) Store(ctx context.Context, storeID string) (Store, error) {
	var s Store
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, organization_id::text FROM stores WHERE id = $1`,
		storeID,
	).Scan(&s.ID, &s.Name, &s.OrganizationID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Store{}, ErrNotFound
		}
		return Store{}, err
	}
	return s, nil
}

// UpsertStoreGrant inserts or replaces the grant of a user at a store.
func (r *PGRepository) UpsertStoreGrant(ctx context.Context, userID string, grant StoreGrant) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO store_grants (user_id, store_id, role, permissions, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, store_id)
		DO UPDATE SET role = EXCLUDED.role, permissions = EXCLUDED.permissions, is_active = EXCLUDED.is_active, updated_at = NOW()`,
		userID, grant.StoreID, string(grant.Role), grant.Permissions, grant.IsActive,
	)
	if err != nil {
		return fmt.Errorf("rbac: upsert grant: %w", err)
	}
	return nil
}

// SetStoreGrantActive toggles a grant and returns its new state.
func (r *PGRepository) SetStoreGrantActive(ctx context.Context, userID, storeID string, active bool) (StoreGrant, error) {
	var (
		g    StoreGrant
		role string
	)
	err := r.pool.QueryRow(ctx, `
		UPDATE store_grants g SET is_active = $3, updated_at = NOW()
		FROM stores s
		WHERE g.user_id = $1 AND g.store_id = $2 AND s.id = g.store_id
		RETURNING g.store_id, s.name, g.role, g.permissions, g.is_active`,
		userID, storeID, active,
	).Scan(&g.StoreID, &g.StoreName, &role, &g.Permissions, &g.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StoreGrant{}, ErrNotFound
		}
		return StoreGrant{}, err
	}
	g.Role = Role(role)
	return g, nil
}

// SetMemberRole replaces the organization role of a user.
func (r *PGRepository) SetMemberRole(ctx context.Context, userID string, role Role) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE organization_members SET role = $2, updated_at = NOW() WHERE user_id = $1`,
		userID, string(role),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
