package rbac

// Scope names the permission source that governs a decision.
type Scope string

const (
	ScopeSuper  Scope = "super"
	ScopeStore  Scope = "store"
	ScopeGlobal Scope = "global"
)

// Request is a single authorization question.
type Request struct {
	Module  Module
	Action  Action
	StoreID string
}

// Source is the permission source selected for a request.
type Source struct {
	Scope  Scope
	Global PermissionSet
	Grant  *StoreGrant
}

// ResolveSource picks the permission source for req.
//
// An active store grant for the requested store shadows the global
// permissions entirely, even when the grant is narrower. A nil principal
// resolves to an empty global source.
func ResolveSource(p *Principal, req Request) Source {
	if p == nil {
		return Source{Scope: ScopeGlobal}
	}
	if p.IsSuperUser() {
		return Source{Scope: ScopeSuper}
	}
	if req.StoreID != "" {
		if grant, ok := p.activeGrant(req.StoreID); ok {
			return Source{Scope: ScopeStore, Grant: &grant}
		}
	}
	return Source{Scope: ScopeGlobal, Global: p.GlobalPermissions}
}
