package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/retail-console/internal/audit"
	"github.com/odyssey-erp/retail-console/internal/platform/httpx"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = fmt.Errorf("rbac: %w", httpx.ErrNotFound)
	// ErrForbidden indicates the actor may not perform the mutation.
	ErrForbidden = fmt.Errorf("rbac: %w", httpx.ErrForbidden)
	// ErrInvalidAssignment indicates a role or permission list that cannot be granted.
	ErrInvalidAssignment = fmt.Errorf("rbac: invalid assignment: %w", httpx.ErrValidation)
)

// Membership is a user's organization-level role.
type Membership struct {
	UserID         string
	OrganizationID string
	Role           Role
}

// Store is the minimal store record needed for tenant checks.
type Store struct {
	ID             string
	Name           string
	OrganizationID string
}

// Repository persists role assignments.
type Repository interface {
	Membership(ctx context.Context, userID string) (Membership, error)
	Store(ctx context.Context, storeID string) (Store, error)
	UpsertStoreGrant(ctx context.Context, userID string, grant StoreGrant) error
	SetStoreGrantActive(ctx context.Context, userID, storeID string, active bool) (StoreGrant, error)
	SetMemberRole(ctx context.Context, userID string, role Role) error
}

// Service orchestrates administrative RBAC mutations. Changes take effect
// for the target user on their next login or principal refresh.
type Service struct {
	repo   Repository
	audit  audit.Sink
	logger *slog.Logger
}

// NewService constructs a Service.
func NewService(repo Repository, sink audit.Sink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit.OrNop(sink), logger: logger}
}

// AssignStoreRoleInput describes a store role assignment.
type AssignStoreRoleInput struct {
	UserID      string
	StoreID     string
	Role        Role
	Permissions []string
}

// AssignStoreRole grants a user a role at a store. An empty permission list
// is pre-filled from the role's store template.
func (s *Service) AssignStoreRole(ctx context.Context, actor *Principal, in AssignStoreRoleInput) (StoreGrant, error) {
	if !in.Role.Capabilities().StoreAssignable {
		return StoreGrant{}, fmt.Errorf("%w: role %s cannot be granted per store", ErrInvalidAssignment, in.Role)
	}
	store, err := s.repo.Store(ctx, in.StoreID)
	if err != nil {
		return StoreGrant{}, err
	}
	if !CanManageStore(actor, store.ID) || !CanAccessOrganizationData(actor, store.OrganizationID) {
		return StoreGrant{}, ErrForbidden
	}
	if in.Role.Capabilities().ManagesStore && !actor.Role.Capabilities().OrgWide {
		return StoreGrant{}, fmt.Errorf("%w: only organization admins assign managers", ErrForbidden)
	}
	member, err := s.repo.Membership(ctx, in.UserID)
	if err != nil {
		return StoreGrant{}, err
	}
	if member.OrganizationID != store.OrganizationID {
		return StoreGrant{}, fmt.Errorf("%w: user belongs to another organization", ErrInvalidAssignment)
	}

	perms := StoreTemplate(in.Role)
	if len(in.Permissions) > 0 {
		perms, err = normalizeGrantPermissions(in.Permissions)
		if err != nil {
			return StoreGrant{}, err
		}
	}
	grant := StoreGrant{StoreID: store.ID, StoreName: store.Name, Role: in.Role, Permissions: perms, IsActive: true}
	if err := s.repo.UpsertStoreGrant(ctx, in.UserID, grant); err != nil {
		return StoreGrant{}, err
	}
	s.audit.LogAction(ctx, audit.EventStoreRoleAssigned, audit.CategoryAdmin, map[string]any{
		audit.DetailActorID: actor.ID,
		"user_id":           in.UserID,
		"store_id":          store.ID,
		"role":              string(in.Role),
		"permissions":       perms,
	})
	return grant, nil
}

// SetStoreGrantStatus activates or deactivates an existing store grant.
func (s *Service) SetStoreGrantStatus(ctx context.Context, actor *Principal, userID, storeID string, active bool) (StoreGrant, error) {
	store, err := s.repo.Store(ctx, storeID)
	if err != nil {
		return StoreGrant{}, err
	}
	if !CanManageStore(actor, store.ID) || !CanAccessOrganizationData(actor, store.OrganizationID) {
		return StoreGrant{}, ErrForbidden
	}
	if userID == actor.ID && !actor.Role.Capabilities().OrgWide {
		return StoreGrant{}, fmt.Errorf("%w: cannot change own grant", ErrForbidden)
	}
	grant, err := s.repo.SetStoreGrantActive(ctx, userID, store.ID, active)
	if err != nil {
		return StoreGrant{}, err
	}
	s.audit.LogAction(ctx, audit.EventGrantStatusChanged, audit.CategoryAdmin, map[string]any{
		audit.DetailActorID: actor.ID,
		"user_id":           userID,
		"store_id":          store.ID,
		"is_active":         active,
	})
	return grant, nil
}

// ChangeUserRole replaces a user's organization-level role.
func (s *Service) ChangeUserRole(ctx context.Context, actor *Principal, userID string, role Role) (Membership, error) {
	if !role.Valid() {
		return Membership{}, fmt.Errorf("%w: %q", ErrInvalidAssignment, role)
	}
	if actor == nil || !actor.Role.Capabilities().OrgWide {
		return Membership{}, ErrForbidden
	}
	if role.Capabilities().Unrestricted && !actor.IsSuperUser() {
		return Membership{}, fmt.Errorf("%w: only super admins grant %s", ErrForbidden, role)
	}
	member, err := s.repo.Membership(ctx, userID)
	if err != nil {
		return Membership{}, err
	}
	if !CanAccessOrganizationData(actor, member.OrganizationID) {
		return Membership{}, ErrForbidden
	}
	if member.Role.Capabilities().Unrestricted && !actor.IsSuperUser() {
		return Membership{}, ErrForbidden
	}
	previous := member.Role
	if err := s.repo.SetMemberRole(ctx, userID, role); err != nil {
		return Membership{}, err
	}
	member.Role = role
	s.audit.LogAction(ctx, audit.EventUserRoleChanged, audit.CategoryAdmin, map[string]any{
		audit.DetailActorID: actor.ID,
		"user_id":           userID,
		"from":              string(previous),
		"to":                string(role),
	})
	s.logger.Info("user role changed", slog.String("user_id", userID), slog.String("role", string(role)))
	return member, nil
}

func normalizeGrantPermissions(raw []string) ([]string, error) {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		perm, err := ParsePermission(r)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidAssignment, strings.TrimSpace(r))
		}
		key := perm.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out, nil
}
