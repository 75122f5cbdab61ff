package auth

import (
	"time"

	"github.com/odyssey-erp/retail-console/internal/rbac"
)

// Identity is what the identity provider knows about a signed-in user.
type Identity struct {
	ID               string   `json:"id"`
	Email            string   `json:"email"`
	RoleHint         string   `json:"role_hint,omitempty"`
	OrganizationHint string   `json:"organization_hint,omitempty"`
	Groups           []string `json:"groups,omitempty"`
}

// User represents a local account checked by the password provider.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	IsActive     bool
	RoleHint     string
	OrgHint      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity returns the provider view of the account.
func (u *User) Identity() Identity {
	return Identity{
		ID:               u.ID,
		Email:            u.Email,
		RoleHint:         u.RoleHint,
		OrganizationHint: u.OrgHint,
	}
}

// Profile is the persisted authorization data of an identity.
type Profile struct {
	IdentityID     string
	Email          string
	Role           rbac.Role
	OrganizationID string
	// GlobalPermissions overrides the catalog defaults of Role when non-nil.
	GlobalPermissions rbac.PermissionSet
	StoreAccess       []rbac.StoreGrant
	DefaultStoreID    string
	IsActive          bool
}

// SessionEventKind names a session lifecycle transition.
type SessionEventKind string

const (
	SessionLogin   SessionEventKind = "login"
	SessionRefresh SessionEventKind = "refresh"
	SessionLogout  SessionEventKind = "logout"
)

// SessionEvent is delivered to OnSessionChange subscribers.
type SessionEvent struct {
	Kind      SessionEventKind
	SessionID string
	Identity  Identity
	// Principal is nil for logout events.
	Principal *rbac.Principal
}
