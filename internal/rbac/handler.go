package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/retail-console/internal/platform/httpx"
)

// Handler exposes the catalog, authorization checks and admin mutations.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     Middleware
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, guard Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, guard: guard, validator: validator.New()}
}

// MountRoutes registers /authz routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.guard.RequirePrincipal)
	r.Get("/catalog", h.catalog)
	r.Post("/check", h.check)
}

// MountAdminRoutes registers /admin mutation routes. Store grant changes need
// a fresh staff.edit confirmation, which store managers hold through their
// store grant. Organization role changes need staff.manage.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	storeStepUp := h.guard.RequireStepUp(Permission{Module: ModuleStaff, Action: ActionEdit})
	orgStepUp := h.guard.RequireStepUp(Permission{Module: ModuleStaff, Action: ActionManage})
	r.Use(h.guard.RequirePrincipal)
	r.Route("/stores/{"+StoreParam+"}/grants", func(r chi.Router) {
		r.Use(h.guard.RequireStoreManager)
		r.With(storeStepUp).Post("/", h.assignStoreRole)
		r.With(storeStepUp).Patch("/{userID}", h.setGrantStatus)
	})
	r.With(orgStepUp).Put("/users/{userID}/role", h.changeUserRole)
}

type roleView struct {
	Role               Role     `json:"role"`
	DefaultPermissions []string `json:"default_permissions"`
	StoreTemplate      []string `json:"store_template"`
	OrgWide            bool     `json:"org_wide"`
	StoreAssignable    bool     `json:"store_assignable"`
}

func (h *Handler) catalog(w http.ResponseWriter, r *http.Request) {
	roles := make([]roleView, 0, len(Roles()))
	for _, role := range Roles() {
		caps := role.Capabilities()
		roles = append(roles, roleView{
			Role:               role,
			DefaultPermissions: DefaultPermissions(role).Strings(),
			StoreTemplate:      StoreTemplate(role),
			OrgWide:            caps.OrgWide,
			StoreAssignable:    caps.StoreAssignable,
		})
	}
	var highImpact []string
	for _, m := range allModules {
		for _, a := range allActions {
			if perm := (Permission{Module: m, Action: a}); IsHighImpact(perm) {
				highImpact = append(highImpact, perm.String())
			}
		}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"roles":       roles,
		"modules":     allModules,
		"actions":     allActions,
		"high_impact": highImpact,
	})
}

const (
	checkPermission   = "has_permission"
	checkStoreAccess  = "can_access_store"
	checkStoreManage  = "can_manage_store"
	checkEcommerce    = "can_manage_ecommerce"
	checkOrganization = "can_access_organization_data"
)

type checkItem struct {
	Check   string `json:"check" validate:"required,oneof=has_permission can_access_store can_manage_store can_manage_ecommerce can_access_organization_data"`
	Module  string `json:"module" validate:"required_if=Check has_permission"`
	Action  string `json:"action"`
	StoreID string `json:"store_id" validate:"required_if=Check can_access_store,required_if=Check can_manage_store"`
	OrgID   string `json:"org_id"`
}

type checkRequest struct {
	Checks []checkItem `json:"checks" validate:"required,min=1,max=50,dive"`
}

type checkResult struct {
	Check   string `json:"check"`
	Allowed bool   `json:"allowed"`
	Scope   Scope  `json:"scope,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, httpx.FieldErrors(err))
		return
	}
	p := PrincipalFromContext(r.Context())
	results := make([]checkResult, 0, len(req.Checks))
	for _, item := range req.Checks {
		res, err := evaluate(p, item)
		if err != nil {
			httpx.ValidationProblem(w, map[string]string{"module": err.Error()})
			return
		}
		results = append(results, res)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"results": results})
}

func evaluate(p *Principal, item checkItem) (checkResult, error) {
	res := checkResult{Check: item.Check}
	switch item.Check {
	case checkPermission:
		module, action := Module(item.Module), Action(item.Action)
		if !module.Valid() || (action != "" && !action.Valid()) {
			return checkResult{}, ErrUnknownPermission
		}
		d := Decide(p, Request{Module: module, Action: action, StoreID: item.StoreID})
		res.Allowed, res.Scope, res.Reason = d.Allowed, d.Scope, d.Reason
	case checkStoreAccess:
		res.Allowed = CanAccessStore(p, item.StoreID)
	case checkStoreManage:
		res.Allowed = CanManageStore(p, item.StoreID)
	case checkEcommerce:
		res.Allowed = CanManageEcommerce(p)
	case checkOrganization:
		res.Allowed = CanAccessOrganizationData(p, item.OrgID)
	}
	return res, nil
}

type assignForm struct {
	UserID      string   `json:"user_id" validate:"required"`
	Role        string   `json:"role" validate:"required"`
	Permissions []string `json:"permissions" validate:"omitempty,max=100"`
}

func (h *Handler) assignStoreRole(w http.ResponseWriter, r *http.Request) {
	var form assignForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.ValidationProblem(w, httpx.FieldErrors(err))
		return
	}
	role, err := ParseRole(form.Role)
	if err != nil {
		httpx.ValidationProblem(w, map[string]string{"role": "unknown"})
		return
	}
	grant, err := h.service.AssignStoreRole(r.Context(), PrincipalFromContext(r.Context()), AssignStoreRoleInput{
		UserID:      form.UserID,
		StoreID:     chi.URLParam(r, StoreParam),
		Role:        role,
		Permissions: form.Permissions,
	})
	if err != nil {
		h.fail(w, "assign store role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, grant)
}

type grantStatusForm struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

func (h *Handler) setGrantStatus(w http.ResponseWriter, r *http.Request) {
	var form grantStatusForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.ValidationProblem(w, httpx.FieldErrors(err))
		return
	}
	grant, err := h.service.SetStoreGrantStatus(r.Context(), PrincipalFromContext(r.Context()),
		chi.URLParam(r, "userID"), chi.URLParam(r, StoreParam), *form.IsActive)
	if err != nil {
		h.fail(w, "set grant status", err)
		return
	}
	httpx.JSON(w, http.StatusOK, grant)
}

type roleForm struct {
	Role string `json:"role" validate:"required"`
}

func (h *Handler) changeUserRole(w http.ResponseWriter, r *http.Request) {
	var form roleForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.ValidationProblem(w, httpx.FieldErrors(err))
		return
	}
	role, err := ParseRole(form.Role)
	if err != nil {
		httpx.ValidationProblem(w, map[string]string{"role": "unknown"})
		return
	}
	member, err := h.service.ChangeUserRole(r.Context(), PrincipalFromContext(r.Context()), chi.URLParam(r, "userID"), role)
	if err != nil {
		h.fail(w, "change user role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":         member.UserID,
		"organization_id": member.OrganizationID,
		"role":            member.Role,
	})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn("rbac "+op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
