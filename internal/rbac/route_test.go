package rbac

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultRouteByRole(t *testing.T) {
	cases := []struct {
		role Role
		want string
	}{
		{RoleSuperAdmin, "/super-admin"},
		{RoleOrgAdmin, "/multi-store-dashboard"},
		{RoleOnlineOpsManager, "/ecommerce/dashboard"},
		{RoleOrgUser, "/dashboard"},
		{RoleStoreManager, "/dashboard"},
		{RoleCashier, "/dashboard"},
	}
	for _, tc := range cases {
		p := NewPrincipal(PrincipalParams{ID: "u", Role: tc.role, OrganizationID: "org"})
		require.Equal(t, tc.want, DefaultRoute(p), string(tc.role))
	}
	require.Equal(t, "/login", DefaultRoute(nil))
	require.Equal(t, "/login", DefaultRoute(NewPrincipal(PrincipalParams{ID: "u", Role: "GHOST"})))
}

func TestDefaultRouteFirstGrantWins(t *testing.T) {
	grants := []StoreGrant{
		{StoreID: "s1", Role: RoleStoreManager, IsActive: true},
		{StoreID: "s2", Role: RoleStoreManager, IsActive: true},
	}
	p := NewPrincipal(PrincipalParams{ID: "m", Role: RoleStoreManager, OrganizationID: "org", StoreAccess: grants})
	require.Equal(t, "/store/s1/dashboard", DefaultRoute(p))

	reversed := NewPrincipal(PrincipalParams{ID: "m", Role: RoleStoreManager, OrganizationID: "org",
		StoreAccess: []StoreGrant{grants[1], grants[0]}})
	require.Equal(t, "/store/s2/dashboard", DefaultRoute(reversed))
}

func TestDefaultRoutePrefersDefaultStore(t *testing.T) {
	p := NewPrincipal(PrincipalParams{
		ID:             "c",
		Role:           RoleCashier,
		OrganizationID: "org",
		DefaultStoreID: "s9",
		StoreAccess:    []StoreGrant{{StoreID: "s1", Role: RoleCashier, IsActive: true}},
	})
	require.Equal(t, "/store/s9/pos", DefaultRoute(p))
}

func TestDefaultRouteSkipsInactiveGrants(t *testing.T) {
	p := NewPrincipal(PrincipalParams{
		ID:             "c",
		Role:           RoleCashier,
		OrganizationID: "org",
		StoreAccess: []StoreGrant{
			{StoreID: "s1", Role: RoleCashier, IsActive: false},
			{StoreID: "s2", Role: RoleCashier, IsActive: true},
		},
	})
	require.Equal(t, "/store/s2/pos", DefaultRoute(p))
}
