package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/retail-console/internal/observability"
	"github.com/odyssey-erp/retail-console/internal/shared"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func serve(t *testing.T, router http.Handler, path string, p *Principal, sess *shared.Session) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	ctx := req.Context()
	if p != nil {
		ctx = ContextWithPrincipal(ctx, p)
	}
	if sess != nil {
		ctx = shared.ContextWithSession(ctx, sess)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req.WithContext(ctx))
	return rec.Code
}

func cashierAtStore1(t *testing.T) *Principal {
	return NewPrincipal(PrincipalParams{
		ID:                "c1",
		Role:              RoleCashier,
		OrganizationID:    "org-1",
		GlobalPermissions: mustSet(t, map[string][]string{"inventory": {"view", "delete"}}),
		StoreAccess: []StoreGrant{
			{StoreID: "s1", Role: RoleCashier, Permissions: []string{"inventory.view", "pos.create"}, IsActive: true},
		},
	})
}

func TestRequirePermissionUsesStoreParam(t *testing.T) {
	m := Middleware{Metrics: observability.NewMetrics()}
	r := chi.NewRouter()
	r.With(m.RequirePermission(ModuleInventory, ActionDelete)).Get("/stores/{storeID}/items", okHandler().ServeHTTP)
	r.With(m.RequirePermission(ModuleInventory, ActionDelete)).Get("/items", okHandler().ServeHTTP)

	p := cashierAtStore1(t)
	require.Equal(t, http.StatusForbidden, serve(t, r, "/stores/s1/items", p, nil))
	require.Equal(t, http.StatusNoContent, serve(t, r, "/stores/s2/items", p, nil))
	require.Equal(t, http.StatusNoContent, serve(t, r, "/items", p, nil))
	require.Equal(t, http.StatusUnauthorized, serve(t, r, "/items", nil, nil))
}

func TestRequireAnyAndAll(t *testing.T) {
	m := Middleware{}
	r := chi.NewRouter()
	r.With(m.RequireAny("inventory.delete", "staff.manage")).Get("/any", okHandler().ServeHTTP)
	r.With(m.RequireAll("inventory.delete", "staff.manage")).Get("/all", okHandler().ServeHTTP)
	r.With(m.RequireAll()).Get("/open", okHandler().ServeHTTP)

	p := cashierAtStore1(t)
	require.Equal(t, http.StatusNoContent, serve(t, r, "/any", p, nil))
	require.Equal(t, http.StatusForbidden, serve(t, r, "/all", p, nil))
	require.Equal(t, http.StatusNoContent, serve(t, r, "/open", nil, nil))
}

func TestRequireAnyPanicsOnUnknownPermission(t *testing.T) {
	require.Panics(t, func() { Middleware{}.RequireAny("garden.water") })
}

func TestStoreAndOrganizationGuards(t *testing.T) {
	m := Middleware{}
	r := chi.NewRouter()
	r.With(m.RequireStoreAccess).Get("/stores/{storeID}", okHandler().ServeHTTP)
	r.With(m.RequireStoreManager).Get("/stores/{storeID}/manage", okHandler().ServeHTTP)
	r.With(m.RequireOrganization).Get("/orgs/{orgID}", okHandler().ServeHTTP)
	r.With(m.RequireEcommerceManager).Get("/ecommerce", okHandler().ServeHTTP)

	p := cashierAtStore1(t)
	require.Equal(t, http.StatusNoContent, serve(t, r, "/stores/s1", p, nil))
	require.Equal(t, http.StatusForbidden, serve(t, r, "/stores/s2", p, nil))
	require.Equal(t, http.StatusForbidden, serve(t, r, "/stores/s1/manage", p, nil))
	require.Equal(t, http.StatusNoContent, serve(t, r, "/orgs/org-1", p, nil))
	require.Equal(t, http.StatusForbidden, serve(t, r, "/orgs/org-2", p, nil))
	require.Equal(t, http.StatusForbidden, serve(t, r, "/ecommerce", p, nil))
}

func TestRequireStepUpConsumesGrant(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m := Middleware{Now: func() time.Time { return now }}
	perm := Permission{Module: ModuleStaff, Action: ActionManage}
	r := chi.NewRouter()
	r.With(m.RequireStepUp(perm)).Get("/danger", okHandler().ServeHTTP)

	p := cashierAtStore1(t)
	sm := shared.NewSessionManager(nil, "s", time.Hour, false)
	sess, err := sm.LoadByID(context.Background(), "not-a-uuid")
	require.NoError(t, err)

	require.Equal(t, http.StatusPreconditionRequired, serve(t, r, "/danger", p, sess))

	sess.IssueStepUpGrant(perm.String(), time.Minute, now)
	require.Equal(t, http.StatusNoContent, serve(t, r, "/danger", p, sess))
	require.Equal(t, http.StatusPreconditionRequired, serve(t, r, "/danger", p, sess))
	require.Equal(t, http.StatusPreconditionRequired, serve(t, r, "/danger", p, nil))
}

func TestRequireStepUpKeepsGrantWhenHandlerRejects(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	m := Middleware{Now: func() time.Time { return now }}
	perm := Permission{Module: ModuleStaff, Action: ActionEdit}
	status := http.StatusUnprocessableEntity
	r := chi.NewRouter()
	r.With(m.RequireStepUp(perm)).Get("/grants", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	})
	r.With(m.RequireStepUp(perm)).Get("/silent", func(http.ResponseWriter, *http.Request) {})

	p := cashierAtStore1(t)
	sm := shared.NewSessionManager(nil, "s", time.Hour, false)
	sess, err := sm.LoadByID(context.Background(), "not-a-uuid")
	require.NoError(t, err)
	sess.IssueStepUpGrant(perm.String(), time.Minute, now)

	require.Equal(t, http.StatusUnprocessableEntity, serve(t, r, "/grants", p, sess))
	require.True(t, sess.HasStepUpGrant(perm.String(), now))

	status = http.StatusForbidden
	require.Equal(t, http.StatusForbidden, serve(t, r, "/grants", p, sess))
	require.True(t, sess.HasStepUpGrant(perm.String(), now))

	status = http.StatusCreated
	require.Equal(t, http.StatusCreated, serve(t, r, "/grants", p, sess))
	require.False(t, sess.HasStepUpGrant(perm.String(), now))
	require.Equal(t, http.StatusPreconditionRequired, serve(t, r, "/grants", p, sess))

	sess.IssueStepUpGrant(perm.String(), time.Minute, now)
	require.Equal(t, http.StatusOK, serve(t, r, "/silent", p, sess))
	require.False(t, sess.HasStepUpGrant(perm.String(), now))
}
