package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/retail-console/internal/auth"
	"github.com/odyssey-erp/retail-console/internal/observability"
	"github.com/odyssey-erp/retail-console/internal/platform/httpx"
	"github.com/odyssey-erp/retail-console/internal/rbac"
	_ "github.com/odyssey-erp/retail-console/testing"
)

var testNamespace = uuid.MustParse("6f1c1e3a-8a55-4c5e-9d3e-0c7b7c1f9a10")

type stubProfiles struct {
	mu      sync.Mutex
	profile auth.Profile
	err     error
	calls   int
	touched chan string
}

func (s *stubProfiles) LoadProfile(ctx context.Context, identityID string) (auth.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return auth.Profile{}, s.err
	}
	return s.profile, nil
}

func (s *stubProfiles) TouchLastLogin(ctx context.Context, identityID string) error {
	if s.touched != nil {
		s.touched <- identityID
	}
	return nil
}

type recordedAction struct {
	event   string
	details map[string]any
}

type recordingSink struct {
	mu      sync.Mutex
	actions []recordedAction
}

func (r *recordingSink) LogAction(ctx context.Context, event, category string, details map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, recordedAction{event: event, details: details})
}

func (r *recordingSink) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.actions))
	for _, a := range r.actions {
		out = append(out, a.event)
	}
	return out
}

func fixedClock() func() time.Time {
	at := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func newResolver(store auth.ProfileStore, sink *recordingSink, groups map[string]rbac.Role) *auth.Resolver {
	return auth.NewResolver(store, auth.SynthesisRules{OrgNamespace: testNamespace, GroupRoles: groups}, nil,
		auth.WithAuditSink(sink),
		auth.WithMetrics(observability.NewMetrics()),
		auth.WithClock(fixedClock()),
	)
}

func TestResolveSynthesizesMissingProfile(t *testing.T) {
	sink := &recordingSink{}
	r := newResolver(&stubProfiles{err: auth.ErrProfileNotFound}, sink, nil)

	p, err := r.ResolvePrincipal(context.Background(), auth.Identity{
		ID: "id-1", Email: "Ana@Shop.Example", RoleHint: "cashier",
	})
	require.NoError(t, err)
	require.NotNil(t, p)
	require.True(t, p.Synthesized)
	require.Equal(t, rbac.RoleCashier, p.Role)
	require.Equal(t, uuid.NewSHA1(testNamespace, []byte("shop.example")).String(), p.OrganizationID)
	require.Empty(t, p.StoreAccess)
	require.Equal(t, rbac.DefaultPermissions(rbac.RoleCashier), p.GlobalPermissions)
	require.Equal(t, []string{"auth.principal_synthesized"}, sink.events())
}

func TestSynthesisIsDeterministic(t *testing.T) {
	r := newResolver(&stubProfiles{err: auth.ErrProfileNotFound}, &recordingSink{}, nil)
	identity := auth.Identity{ID: "id-2", Email: "bo@north.example"}

	first, err := r.ResolvePrincipal(context.Background(), identity)
	require.NoError(t, err)
	second, err := r.ResolvePrincipal(context.Background(), identity)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.NotSame(t, first, second)
	require.Equal(t, rbac.RoleOrgUser, first.Role)
}

func TestSynthesisNeverGrantsAdminTiers(t *testing.T) {
	groups := map[string]rbac.Role{
		"admins": rbac.RoleOrgAdmin,
		"floor":  rbac.RoleCashier,
		"online": rbac.RoleOnlineOpsManager,
	}
	r := newResolver(&stubProfiles{err: auth.ErrProfileNotFound}, &recordingSink{}, groups)

	p, err := r.ResolvePrincipal(context.Background(), auth.Identity{
		ID: "id-3", Email: "x@y.example", RoleHint: "SUPER_ADMIN", Groups: []string{"floor", "admins", "online"},
	})
	require.NoError(t, err)
	require.Equal(t, rbac.RoleOnlineOpsManager, p.Role)

	p, err = r.ResolvePrincipal(context.Background(), auth.Identity{ID: "id-4", Email: "z@y.example", Groups: []string{"admins"}})
	require.NoError(t, err)
	require.Equal(t, rbac.RoleOrgUser, p.Role)
}

func TestSynthesisUsesOrganizationHint(t *testing.T) {
	r := newResolver(&stubProfiles{err: auth.ErrProfileNotFound}, &recordingSink{}, nil)
	p, err := r.ResolvePrincipal(context.Background(), auth.Identity{ID: "id-5", Email: "a@b.example", OrganizationHint: "org-7"})
	require.NoError(t, err)
	require.Equal(t, "org-7", p.OrganizationID)
}

func TestTransientProfileErrorIsRetryable(t *testing.T) {
	sink := &recordingSink{}
	r := newResolver(&stubProfiles{err: errors.New("connection reset")}, sink, nil)

	p, err := r.ResolvePrincipal(context.Background(), auth.Identity{ID: "id-6", Email: "c@d.example"})
	require.Nil(t, p)
	var af *auth.AuthFailure
	require.ErrorAs(t, err, &af)
	require.True(t, af.Retryable)
	require.ErrorIs(t, err, httpx.ErrUnauthorized)
	require.Empty(t, sink.events())
}

func TestResolveRejectsUnusableIdentities(t *testing.T) {
	var af *auth.AuthFailure

	r := newResolver(&stubProfiles{}, &recordingSink{}, nil)
	_, err := r.ResolvePrincipal(context.Background(), auth.Identity{Email: "nobody@x.example"})
	require.ErrorAs(t, err, &af)
	require.False(t, af.Retryable)

	inactive := newResolver(&stubProfiles{profile: auth.Profile{
		IdentityID: "id-7", Role: rbac.RoleCashier, OrganizationID: "org-1", IsActive: false,
	}}, &recordingSink{}, nil)
	_, err = inactive.ResolvePrincipal(context.Background(), auth.Identity{ID: "id-7"})
	require.ErrorAs(t, err, &af)
	require.False(t, af.Retryable)

	orphan := newResolver(&stubProfiles{profile: auth.Profile{
		IdentityID: "id-8", Role: rbac.RoleCashier, IsActive: true,
	}}, &recordingSink{}, nil)
	_, err = orphan.ResolvePrincipal(context.Background(), auth.Identity{ID: "id-8"})
	require.ErrorAs(t, err, &af)
}

func TestResolveFromProfile(t *testing.T) {
	store := &stubProfiles{
		touched: make(chan string, 1),
		profile: auth.Profile{
			IdentityID:     "id-9",
			Email:          "mgr@shop.example",
			Role:           rbac.RoleStoreManager,
			OrganizationID: "org-1",
			StoreAccess: []rbac.StoreGrant{
				{StoreID: "s1", StoreName: "Main", Role: rbac.RoleStoreManager, Permissions: []string{"pos.view"}, IsActive: true},
			},
			DefaultStoreID: "s1",
			IsActive:       true,
		},
	}
	r := newResolver(store, &recordingSink{}, nil)

	p, err := r.ResolvePrincipal(context.Background(), auth.Identity{ID: "id-9", Email: "other@shop.example"})
	require.NoError(t, err)
	require.False(t, p.Synthesized)
	require.Equal(t, "mgr@shop.example", p.Email)
	require.Equal(t, rbac.DefaultPermissions(rbac.RoleStoreManager), p.GlobalPermissions)
	require.Equal(t, "/store/s1/dashboard", rbac.DefaultRoute(p))

	select {
	case id := <-store.touched:
		require.Equal(t, "id-9", id)
	case <-time.After(time.Second):
		t.Fatal("last login was not touched")
	}
}
