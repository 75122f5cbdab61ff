package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/retail-console/internal/rbac"
	"github.com/odyssey-erp/retail-console/internal/shared"
)

// UserRepository backs the local password provider.
type UserRepository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// SessionRecorder keeps a server-side trail of issued sessions.
type SessionRecorder interface {
	CreateSession(ctx context.Context, id, userID string, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
}

// ProfileStore loads the authorization profile of an identity.
type ProfileStore interface {
	// LoadProfile returns ErrProfileNotFound when the identity has no profile.
	// Any other error is treated as transient.
	LoadProfile(ctx context.Context, identityID string) (Profile, error)
	TouchLastLogin(ctx context.Context, identityID string) error
}

// PGRepository implements the auth persistence contracts using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// FindByEmail fetches a user by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, email, password_hash, is_active, COALESCE(role_hint, ''), COALESCE(org_hint, ''), created_at, updated_at
		FROM users WHERE lower(email) = lower($1)`,
		email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.RoleHint, &u.OrgHint, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateSession persists a new login session in the database for auditing.
func (r *PGRepository) CreateSession(ctx context.Context, id, userID string, expiresAt time.Time, ip, ua string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_sessions (id, user_id, created_at, expires_at, ip, user_agent)
		VALUES ($1, $2, NOW(), $3, NULLIF($4, ''), NULLIF($5, ''))`,
		id, userID, expiresAt.UTC(), ip, ua,
	)
	return err
}

// DeleteSession removes a session record from the database.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM user_sessions WHERE id = $1`, id)
	return err
}

// LoadProfile reads membership, global permissions and store grants in one snapshot.
func (r *PGRepository) LoadProfile(ctx context.Context, identityID string) (Profile, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return Profile{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		p        Profile
		role     string
		rawPerms []byte
	)
	err = tx.QueryRow(ctx, `
		SELECT m.user_id::text, u.email, m.role, COALESCE(m.organization_id::text, ''),
		       m.global_permissions, COALESCE(m.default_store_id::text, ''), m.is_active AND u.is_active
		FROM organization_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.user_id = $1`,
		identityID,
	).Scan(&p.IdentityID, &p.Email, &role, &p.OrganizationID, &rawPerms, &p.DefaultStoreID, &p.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrProfileNotFound
		}
		return Profile{}, err
	}
	p.Role = rbac.Role(role)
	if len(rawPerms) > 0 {
		if err := json.Unmarshal(rawPerms, &p.GlobalPermissions); err != nil {
			return Profile{}, fmt.Errorf("decode global permissions: %w", err)
		}
	}

	rows, err := tx.Query(ctx, `
		SELECT g.store_id::text, s.name, g.role, g.permissions, g.is_active
		FROM store_grants g
		JOIN stores s ON s.id = g.store_id
		WHERE g.user_id = $1
		ORDER BY g.created_at, g.store_id`,
		identityID,
	)
	if err != nil {
		return Profile{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			g         rbac.StoreGrant
			grantRole string
		)
		if err := rows.Scan(&g.StoreID, &g.StoreName, &grantRole, &g.Permissions, &g.IsActive); err != nil {
			return Profile{}, err
		}
		g.Role = rbac.Role(grantRole)
		p.StoreAccess = append(p.StoreAccess, g)
	}
	if err := rows.Err(); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// TouchLastLogin stamps the last successful login of an identity.
func (r *PGRepository) TouchLastLogin(ctx context.Context, identityID string) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = $1`, identityID)
	return err
}

var (
	_ UserRepository  = (*PGRepository)(nil)
	_ SessionRecorder = (*PGRepository)(nil)
	_ ProfileStore    = (*PGRepository)(nil)
)
