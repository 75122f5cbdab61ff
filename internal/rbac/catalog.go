package rbac

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownRole indicates a role tag outside the catalog.
var ErrUnknownRole = errors.New("rbac: unknown role")

// ErrUnknownPermission indicates a module or action tag outside the catalog.
var ErrUnknownPermission = errors.New("rbac: unknown permission")

// Role is a closed set of principal roles.
type Role string

const (
	RoleSuperAdmin       Role = "SUPER_ADMIN"
	RoleOrgAdmin         Role = "ORG_ADMIN"
	RoleStoreManager     Role = "STORE_MANAGER"
	RoleCashier          Role = "CASHIER"
	RoleOnlineOpsManager Role = "ONLINE_OPS_MANAGER"
	RoleOrgUser          Role = "ORG_USER"
)

// Module names a functional area permissions are scoped to.
type Module string

const (
	ModuleInventory Module = "inventory"
	ModulePOS       Module = "pos"
	ModuleStaff     Module = "staff"
	ModuleEcommerce Module = "ecommerce"
	ModuleSettings  Module = "settings"
	ModuleReports   Module = "reports"
	ModuleAnalytics Module = "analytics"
	ModuleCustomers Module = "customers"
	ModuleSuppliers Module = "suppliers"
	ModuleStores    Module = "stores"
)

// Action names an operation within a module.
type Action string

const (
	ActionView    Action = "view"
	ActionCreate  Action = "create"
	ActionEdit    Action = "edit"
	ActionDelete  Action = "delete"
	ActionExport  Action = "export"
	ActionSync    Action = "sync"
	ActionManage  Action = "manage"
	ActionRefund  Action = "refund"
	ActionApprove Action = "approve"
)

var allModules = []Module{
	ModuleInventory, ModulePOS, ModuleStaff, ModuleEcommerce, ModuleSettings,
	ModuleReports, ModuleAnalytics, ModuleCustomers, ModuleSuppliers, ModuleStores,
}

var allActions = []Action{
	ActionView, ActionCreate, ActionEdit, ActionDelete, ActionExport,
	ActionSync, ActionManage, ActionRefund, ActionApprove,
}

// Modules lists every catalog module.
func Modules() []Module {
	out := make([]Module, len(allModules))
	copy(out, allModules)
	return out
}

// Valid reports whether the module is part of the catalog.
func (m Module) Valid() bool {
	for _, known := range allModules {
		if m == known {
			return true
		}
	}
	return false
}

// Valid reports whether the action is part of the catalog.
func (a Action) Valid() bool {
	for _, known := range allActions {
		if a == known {
			return true
		}
	}
	return false
}

// Permission pairs a module with an action.
type Permission struct {
	Module Module `json:"module"`
	Action Action `json:"action"`
}

// String renders the permission in "module.action" form.
func (p Permission) String() string {
	return string(p.Module) + "." + string(p.Action)
}

// ParsePermission parses "module.action", rejecting tags unknown to the catalog.
func ParsePermission(raw string) (Permission, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	module, action, ok := strings.Cut(raw, ".")
	if !ok {
		return Permission{}, fmt.Errorf("%w: %q", ErrUnknownPermission, raw)
	}
	perm := Permission{Module: Module(module), Action: Action(action)}
	if !perm.Module.Valid() || !perm.Action.Valid() {
		return Permission{}, fmt.Errorf("%w: %q", ErrUnknownPermission, raw)
	}
	return perm, nil
}

// PermissionSet maps a module to the set of actions allowed on it.
// A module missing from the map is an empty set.
type PermissionSet map[Module]map[Action]struct{}

// NewPermissionSet builds a set from a raw module -> actions mapping.
func NewPermissionSet(raw map[string][]string) (PermissionSet, error) {
	set := make(PermissionSet, len(raw))
	for module, actions := range raw {
		for _, action := range actions {
			perm, err := ParsePermission(module + "." + action)
			if err != nil {
				return nil, err
			}
			set.Grant(perm.Module, perm.Action)
		}
	}
	return set, nil
}

// Has reports whether action is allowed on module.
func (s PermissionSet) Has(module Module, action Action) bool {
	_, ok := s[module][action]
	return ok
}

// HasAny reports whether any action is allowed on module.
func (s PermissionSet) HasAny(module Module) bool {
	return len(s[module]) > 0
}

// Grant adds action on module to the set.
func (s PermissionSet) Grant(module Module, actions ...Action) {
	if len(actions) == 0 {
		return
	}
	if s[module] == nil {
		s[module] = make(map[Action]struct{}, len(actions))
	}
	for _, a := range actions {
		s[module][a] = struct{}{}
	}
}

// Clone returns a deep copy.
func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for module, actions := range s {
		if len(actions) == 0 {
			continue
		}
		copied := make(map[Action]struct{}, len(actions))
		for a := range actions {
			copied[a] = struct{}{}
		}
		out[module] = copied
	}
	return out
}

// Strings returns the sorted "module.action" form of every member.
func (s PermissionSet) Strings() []string {
	out := make([]string, 0, len(s)*2)
	for module, actions := range s {
		for a := range actions {
			out = append(out, Permission{Module: module, Action: a}.String())
		}
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as {"module": ["action", ...]}.
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	raw := make(map[string][]string, len(s))
	for module, actions := range s {
		list := make([]string, 0, len(actions))
		for a := range actions {
			list = append(list, string(a))
		}
		sort.Strings(list)
		raw[string(module)] = list
	}
	return json.Marshal(raw)
}

// UnmarshalJSON decodes and validates a {"module": ["action", ...]} document.
func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var raw map[string][]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	set, err := NewPermissionSet(raw)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

// Landing identifies the post-login destination kind of a role.
type Landing int

const (
	LandingLogin Landing = iota
	LandingSuperAdmin
	LandingMultiStore
	LandingStoreDashboard
	LandingStorePOS
	LandingEcommerce
	LandingDashboard
)

// Capabilities is the single source of truth for role-level shortcuts.
type Capabilities struct {
	// Unrestricted bypasses every check.
	Unrestricted bool
	// OrgWide grants access to and management of every store in the organization.
	OrgWide bool
	// ManagesStore marks a store grant role that may manage its store.
	ManagesStore bool
	// EcommerceOps may manage e-commerce without the literal permission.
	EcommerceOps bool
	// StoreAssignable roles may appear on a store grant.
	StoreAssignable bool
	Landing         Landing
}

type roleEntry struct {
	caps        Capabilities
	permissions map[Module][]Action
}

var fullAccess = func() map[Module][]Action {
	out := make(map[Module][]Action, len(allModules))
	for _, m := range allModules {
		out[m] = allActions
	}
	return out
}()

var catalog = map[Role]roleEntry{
	RoleSuperAdmin: {
		caps:        Capabilities{Unrestricted: true, OrgWide: true, EcommerceOps: true, Landing: LandingSuperAdmin},
		permissions: fullAccess,
	},
	RoleOrgAdmin: {
		caps:        Capabilities{OrgWide: true, EcommerceOps: true, Landing: LandingMultiStore},
		permissions: fullAccess,
	},
	RoleStoreManager: {
		caps: Capabilities{ManagesStore: true, StoreAssignable: true, Landing: LandingStoreDashboard},
		permissions: map[Module][]Action{
			ModuleInventory: {ActionView, ActionCreate, ActionEdit, ActionDelete, ActionExport},
			ModulePOS:       {ActionView, ActionCreate, ActionRefund, ActionApprove},
			ModuleStaff:     {ActionView, ActionCreate, ActionEdit},
			ModuleCustomers: {ActionView, ActionCreate, ActionEdit},
			ModuleSuppliers: {ActionView},
			ModuleReports:   {ActionView, ActionExport},
			ModuleAnalytics: {ActionView},
			ModuleSettings:  {ActionView},
		},
	},
	RoleCashier: {
		caps: Capabilities{StoreAssignable: true, Landing: LandingStorePOS},
		permissions: map[Module][]Action{
			ModulePOS:       {ActionView, ActionCreate},
			ModuleInventory: {ActionView},
			ModuleCustomers: {ActionView, ActionCreate},
		},
	},
	RoleOnlineOpsManager: {
		caps: Capabilities{EcommerceOps: true, StoreAssignable: true, Landing: LandingEcommerce},
		permissions: map[Module][]Action{
			ModuleEcommerce: {ActionView, ActionCreate, ActionEdit, ActionSync, ActionExport},
			ModuleInventory: {ActionView, ActionEdit, ActionSync},
			ModuleCustomers: {ActionView},
			ModuleReports:   {ActionView},
		},
	},
	RoleOrgUser: {
		caps: Capabilities{StoreAssignable: true, Landing: LandingDashboard},
		permissions: map[Module][]Action{
			ModuleInventory: {ActionView},
			ModuleReports:   {ActionView},
			ModuleAnalytics: {ActionView},
		},
	},
}

// Roles lists every catalog role from most to least privileged.
func Roles() []Role {
	return []Role{RoleSuperAdmin, RoleOrgAdmin, RoleStoreManager, RoleOnlineOpsManager, RoleCashier, RoleOrgUser}
}

// ParseRole parses a role tag, rejecting anything outside the catalog.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
	return role, nil
}

// Valid reports whether the role is part of the catalog.
func (r Role) Valid() bool {
	_, ok := catalog[r]
	return ok
}

// Capabilities returns the role's shortcuts. Unknown roles get none.
func (r Role) Capabilities() Capabilities {
	return catalog[r].caps
}

// DefaultPermissions returns a fresh copy of the role's global permission seed.
func DefaultPermissions(role Role) PermissionSet {
	entry, ok := catalog[role]
	if !ok {
		return PermissionSet{}
	}
	set := make(PermissionSet, len(entry.permissions))
	for module, actions := range entry.permissions {
		set.Grant(module, actions...)
	}
	return set
}

// StoreTemplate returns the "module.action" list used to pre-fill a store grant.
func StoreTemplate(role Role) []string {
	if !role.Capabilities().StoreAssignable {
		return []string{}
	}
	return DefaultPermissions(role).Strings()
}

var highImpactActions = map[Action]struct{}{
	ActionDelete:  {},
	ActionRefund:  {},
	ActionManage:  {},
	ActionApprove: {},
}

// IsHighImpact reports whether exercising perm requires step-up confirmation.
func IsHighImpact(perm Permission) bool {
	if _, ok := highImpactActions[perm.Action]; ok {
		return true
	}
	switch perm.Module {
	case ModuleSettings, ModuleStaff:
		return perm.Action != ActionView
	}
	return false
}
