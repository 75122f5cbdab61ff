package rbac

import (
	"context"
	"time"
)

// StoreGrant gives a principal a role and permission list at one store.
type StoreGrant struct {
	StoreID     string   `json:"store_id"`
	StoreName   string   `json:"store_name"`
	Role        Role     `json:"role"`
	Permissions []string `json:"permissions"`
	IsActive    bool     `json:"is_active"`
}

// Principal describes the authenticated actor for the lifetime of a session.
// Values are never mutated after construction; a refresh produces a new one.
type Principal struct {
	ID                string        `json:"id"`
	Email             string        `json:"email"`
	Role              Role          `json:"role"`
	OrganizationID    string        `json:"organization_id,omitempty"`
	GlobalPermissions PermissionSet `json:"global_permissions"`
	StoreAccess       []StoreGrant  `json:"store_access"`
	DefaultStoreID    string        `json:"default_store_id,omitempty"`
	Synthesized       bool          `json:"synthesized,omitempty"`
	ResolvedAt        time.Time     `json:"resolved_at"`
}

// PrincipalParams collects the inputs of NewPrincipal.
type PrincipalParams struct {
	ID                string
	Email             string
	Role              Role
	OrganizationID    string
	GlobalPermissions PermissionSet
	StoreAccess       []StoreGrant
	DefaultStoreID    string
	Synthesized       bool
	ResolvedAt        time.Time
}

// NewPrincipal builds a Principal holding its own copies of every slice and map.
func NewPrincipal(params PrincipalParams) *Principal {
	grants := make([]StoreGrant, len(params.StoreAccess))
	for i, g := range params.StoreAccess {
		perms := make([]string, len(g.Permissions))
		copy(perms, g.Permissions)
		g.Permissions = perms
		grants[i] = g
	}
	global := params.GlobalPermissions.Clone()
	resolvedAt := params.ResolvedAt
	if resolvedAt.IsZero() {
		resolvedAt = time.Now().UTC()
	}
	return &Principal{
		ID:                params.ID,
		Email:             params.Email,
		Role:              params.Role,
		OrganizationID:    params.OrganizationID,
		GlobalPermissions: global,
		StoreAccess:       grants,
		DefaultStoreID:    params.DefaultStoreID,
		Synthesized:       params.Synthesized,
		ResolvedAt:        resolvedAt,
	}
}

// GetID returns the principal identifier.
func (p *Principal) GetID() string {
	if p == nil {
		return ""
	}
	return p.ID
}

// IsSuperUser reports whether every check is bypassed for the principal.
func (p *Principal) IsSuperUser() bool {
	return p != nil && p.Role.Capabilities().Unrestricted
}

// activeGrant returns the first active grant for storeID.
func (p *Principal) activeGrant(storeID string) (StoreGrant, bool) {
	if p == nil || storeID == "" {
		return StoreGrant{}, false
	}
	for _, g := range p.StoreAccess {
		if g.IsActive && g.StoreID == storeID {
			return g, true
		}
	}
	return StoreGrant{}, false
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal snapshot in context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal snapshot from context.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
