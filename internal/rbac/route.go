package rbac

const (
	routeLogin     = "/login"
	routeDashboard = "/dashboard"
)

// DefaultRoute returns the post-login destination for the principal.
func DefaultRoute(p *Principal) string {
	if p == nil {
		return routeLogin
	}
	switch p.Role.Capabilities().Landing {
	case LandingSuperAdmin:
		return "/super-admin"
	case LandingMultiStore:
		return "/multi-store-dashboard"
	case LandingStoreDashboard:
		return storeRoute(p, "dashboard")
	case LandingStorePOS:
		return storeRoute(p, "pos")
	case LandingEcommerce:
		return "/ecommerce/dashboard"
	case LandingDashboard:
		return routeDashboard
	default:
		return routeLogin
	}
}

// storeRoute prefers the explicit default store, then the first active grant.
func storeRoute(p *Principal, page string) string {
	storeID := p.DefaultStoreID
	if storeID == "" {
		for _, g := range p.StoreAccess {
			if g.IsActive {
				storeID = g.StoreID
				break
			}
		}
	}
	if storeID == "" {
		return routeDashboard
	}
	return "/store/" + storeID + "/" + page
}
