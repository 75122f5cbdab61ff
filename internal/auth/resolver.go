package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/retail-console/internal/audit"
	"github.com/odyssey-erp/retail-console/internal/observability"
	"github.com/odyssey-erp/retail-console/internal/rbac"
)

// LastLoginToucher records a successful login out of band.
type LastLoginToucher interface {
	TouchLastLogin(ctx context.Context, identityID string) error
}

// SynthesisRules drive the principal built for identities without a profile.
type SynthesisRules struct {
	// OrgNamespace seeds the organization ID derived from an email domain.
	OrgNamespace uuid.UUID
	// GroupRoles maps provider groups to roles. Admin tiers are ignored.
	GroupRoles map[string]rbac.Role
}

// Resolver maps provider identities to principals.
type Resolver struct {
	profiles ProfileStore
	rules    SynthesisRules
	toucher  LastLoginToucher
	audit    audit.Sink
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time

	touchTimeout time.Duration
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithToucher routes last-login stamps through t instead of the profile store.
func WithToucher(t LastLoginToucher) ResolverOption {
	return func(r *Resolver) { r.toucher = t }
}

// WithAuditSink records synthesis fallbacks.
func WithAuditSink(sink audit.Sink) ResolverOption {
	return func(r *Resolver) { r.audit = audit.OrNop(sink) }
}

// WithMetrics counts synthesis fallbacks.
func WithMetrics(m *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// WithClock overrides the resolution timestamp source.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver constructs a Resolver.
func NewResolver(profiles ProfileStore, rules SynthesisRules, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		profiles:     profiles,
		rules:        rules,
		toucher:      profiles,
		audit:        audit.NopSink{},
		logger:       logger,
		now:          time.Now,
		touchTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolvePrincipal loads the profile of identity and builds its principal.
// A missing profile falls back to synthesis; any other lookup error is a
// retryable AuthFailure.
func (r *Resolver) ResolvePrincipal(ctx context.Context, identity Identity) (*rbac.Principal, error) {
	if strings.TrimSpace(identity.ID) == "" {
		return nil, failure("identitas tidak memiliki subjek", nil)
	}

	profile, err := r.profiles.LoadProfile(ctx, identity.ID)
	switch {
	case errors.Is(err, ErrProfileNotFound):
		return r.synthesize(ctx, identity), nil
	case err != nil:
		r.logger.Error("load profile", slog.String("identity_id", identity.ID), slog.Any("error", err))
		return nil, retryable("profil pengguna belum dapat dimuat, silakan coba lagi", err)
	case !profile.IsActive:
		return nil, failure("akun tidak aktif", nil)
	}

	principal, err := r.fromProfile(identity, profile)
	if err != nil {
		return nil, err
	}
	r.touch(ctx, identity.ID)
	return principal, nil
}

func (r *Resolver) fromProfile(identity Identity, profile Profile) (*rbac.Principal, error) {
	if !profile.Role.Valid() {
		return nil, failure("peran profil tidak dikenal: "+string(profile.Role), nil)
	}
	if profile.OrganizationID == "" && !profile.Role.Capabilities().Unrestricted {
		return nil, failure("profil tidak terhubung ke organisasi", nil)
	}
	global := profile.GlobalPermissions
	if global == nil {
		global = rbac.DefaultPermissions(profile.Role)
	}
	email := profile.Email
	if email == "" {
		email = identity.Email
	}
	return rbac.NewPrincipal(rbac.PrincipalParams{
		ID:                identity.ID,
		Email:             email,
		Role:              profile.Role,
		OrganizationID:    profile.OrganizationID,
		GlobalPermissions: global,
		StoreAccess:       profile.StoreAccess,
		DefaultStoreID:    profile.DefaultStoreID,
		ResolvedAt:        r.now().UTC(),
	}), nil
}

func (r *Resolver) synthesize(ctx context.Context, identity Identity) *rbac.Principal {
	role := r.synthesizedRole(identity)
	org := r.synthesizedOrganization(identity)

	r.logger.Warn("profile missing, synthesizing principal",
		slog.String("identity_id", identity.ID),
		slog.String("role", string(role)),
		slog.String("organization_id", org),
	)
	r.metrics.ObserveSynthesizedPrincipal()
	r.audit.LogAction(ctx, audit.EventPrincipalSynthesized, audit.CategoryAuth, map[string]any{
		audit.DetailActorID: identity.ID,
		"email":             identity.Email,
		"role":              string(role),
		"organization_id":   org,
	})

	return rbac.NewPrincipal(rbac.PrincipalParams{
		ID:                identity.ID,
		Email:             identity.Email,
		Role:              role,
		OrganizationID:    org,
		GlobalPermissions: rbac.DefaultPermissions(role),
		Synthesized:       true,
		ResolvedAt:        r.now().UTC(),
	})
}

// synthesizedRole picks the role hint, then the most privileged mapped group,
// then ORG_USER. Only store-assignable roles qualify.
func (r *Resolver) synthesizedRole(identity Identity) rbac.Role {
	if hint, err := rbac.ParseRole(identity.RoleHint); err == nil && hint.Capabilities().StoreAssignable {
		return hint
	}
	mapped := make(map[rbac.Role]struct{}, len(identity.Groups))
	for _, g := range identity.Groups {
		if role, ok := r.rules.GroupRoles[g]; ok && role.Capabilities().StoreAssignable {
			mapped[role] = struct{}{}
		}
	}
	for _, role := range rbac.Roles() {
		if _, ok := mapped[role]; ok {
			return role
		}
	}
	return rbac.RoleOrgUser
}

func (r *Resolver) synthesizedOrganization(identity Identity) string {
	if hint := strings.TrimSpace(identity.OrganizationHint); hint != "" {
		return hint
	}
	key := strings.ToLower(strings.TrimSpace(identity.Email))
	if at := strings.LastIndexByte(key, '@'); at >= 0 && at < len(key)-1 {
		key = key[at+1:]
	}
	if key == "" {
		key = identity.ID
	}
	return uuid.NewSHA1(r.rules.OrgNamespace, []byte(key)).String()
}

// touch stamps the login without holding up resolution.
func (r *Resolver) touch(ctx context.Context, identityID string) {
	if r.toucher == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, r.touchTimeout)
		defer cancel()
		if err := r.toucher.TouchLastLogin(ctx, identityID); err != nil {
			r.logger.Warn("touch last login", slog.String("identity_id", identityID), slog.Any("error", err))
		}
	}()
}
