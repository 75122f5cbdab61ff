package rbac

import (
	"strings"
)

// Decision is the explained outcome of an authorization check.
type Decision struct {
	Allowed bool
	Scope   Scope
	Reason  string
}

// Decide evaluates req against the principal. An empty Action matches any
// action on the module.
func Decide(p *Principal, req Request) Decision {
	if p == nil {
		return Decision{Reason: "no principal"}
	}
	src := ResolveSource(p, req)
	switch src.Scope {
	case ScopeSuper:
		return Decision{Allowed: true, Scope: ScopeSuper, Reason: "super admin"}
	case ScopeStore:
		if grantAllows(src.Grant.Permissions, req.Module, req.Action) {
			return Decision{Allowed: true, Scope: ScopeStore, Reason: "granted by store " + src.Grant.StoreID}
		}
		return Decision{Scope: ScopeStore, Reason: "not in store grant " + src.Grant.StoreID}
	default:
		if globalAllows(src.Global, req.Module, req.Action) {
			return Decision{Allowed: true, Scope: ScopeGlobal, Reason: "granted by organization role"}
		}
		return Decision{Scope: ScopeGlobal, Reason: "not in organization permissions"}
	}
}

func grantAllows(perms []string, module Module, action Action) bool {
	if action == "" {
		prefix := string(module) + "."
		for _, p := range perms {
			if strings.HasPrefix(p, prefix) {
				return true
			}
		}
		return false
	}
	want := Permission{Module: module, Action: action}.String()
	for _, p := range perms {
		if p == want {
			return true
		}
	}
	return false
}

func globalAllows(set PermissionSet, module Module, action Action) bool {
	if action == "" {
		return set.HasAny(module)
	}
	return set.Has(module, action)
}

// HasPermission reports whether the principal may perform action on module,
// optionally scoped to storeID.
func HasPermission(p *Principal, module Module, action Action, storeID string) bool {
	return Decide(p, Request{Module: module, Action: action, StoreID: storeID}).Allowed
}

// CanAccessStore reports whether the principal holds any access to storeID.
func CanAccessStore(p *Principal, storeID string) bool {
	if p == nil {
		return false
	}
	if p.Role.Capabilities().OrgWide {
		return true
	}
	_, ok := p.activeGrant(storeID)
	return ok
}

// CanManageStore reports whether the principal may manage storeID. Access
// alone is not enough: the grant role must be a managing one.
func CanManageStore(p *Principal, storeID string) bool {
	if p == nil {
		return false
	}
	if p.Role.Capabilities().OrgWide {
		return true
	}
	grant, ok := p.activeGrant(storeID)
	return ok && grant.Role.Capabilities().ManagesStore
}

// CanManageEcommerce reports whether the principal may manage online sales.
func CanManageEcommerce(p *Principal) bool {
	if p == nil {
		return false
	}
	if p.Role.Capabilities().EcommerceOps {
		return true
	}
	return HasPermission(p, ModuleEcommerce, ActionManage, "")
}

// CanAccessOrganizationData is the tenant isolation boundary.
func CanAccessOrganizationData(p *Principal, orgID string) bool {
	if p == nil {
		return false
	}
	if p.IsSuperUser() {
		return true
	}
	return p.OrganizationID != "" && p.OrganizationID == orgID
}

// StoreSummary is the public view of an active store grant.
type StoreSummary struct {
	StoreID   string `json:"store_id"`
	StoreName string `json:"store_name"`
	Role      Role   `json:"role"`
}

// UserStores lists the principal's active grants in grant order.
func UserStores(p *Principal) []StoreSummary {
	if p == nil {
		return nil
	}
	out := make([]StoreSummary, 0, len(p.StoreAccess))
	for _, g := range p.StoreAccess {
		if !g.IsActive {
			continue
		}
		out = append(out, StoreSummary{StoreID: g.StoreID, StoreName: g.StoreName, Role: g.Role})
	}
	return out
}
