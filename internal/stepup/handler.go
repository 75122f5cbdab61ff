package stepup

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/retail-console/internal/platform/httpx"
	"github.com/odyssey-erp/retail-console/internal/rbac"
	"github.com/odyssey-erp/retail-console/internal/shared"
)

// Handler exposes the step-up protocol over HTTP. A confirmed request leaves
// a one-time grant in the session that rbac.Middleware.RequireStepUp consumes.
type Handler struct {
	logger    *slog.Logger
	manager   *Manager
	guard     rbac.Middleware
	grantTTL  time.Duration
	now       func() time.Time
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, manager *Manager, guard rbac.Middleware, grantTTL time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		manager:   manager,
		guard:     guard,
		grantTTL:  grantTTL,
		now:       manager.cfg.Now,
		validator: validator.New(),
	}
}

// MountRoutes registers /stepup routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.guard.RequirePrincipal)
	r.Get("/", h.show)
	r.Post("/", h.request)
	r.Post("/confirm", h.confirm)
	r.Post("/cancel", h.cancel)
}

type requestForm struct {
	Action          string `json:"action" validate:"required,max=120"`
	Description     string `json:"description" validate:"max=500"`
	Permission      string `json:"permission" validate:"required"`
	TargetResource  string `json:"target_resource" validate:"max=200"`
	StoreID         string `json:"store_id"`
	RequirePassword *bool  `json:"require_password"`
	RequireMFA      *bool  `json:"require_mfa"`
}

type confirmForm struct {
	Phrase   string `json:"phrase"`
	Password string `json:"password"`
	MFACode  string `json:"mfa_code"`
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.JSON(w, http.StatusOK, Snapshot{State: StateIdle})
		return
	}
	httpx.JSON(w, http.StatusOK, h.manager.For(sess.ID).Snapshot())
}

func (h *Handler) request(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var form requestForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.ValidationProblem(w, httpx.FieldErrors(err))
		return
	}
	perm, err := rbac.ParsePermission(form.Permission)
	if err != nil {
		httpx.ValidationProblem(w, map[string]string{"permission": "unknown"})
		return
	}
	if !rbac.IsHighImpact(perm) {
		httpx.ValidationProblem(w, map[string]string{"permission": "not high impact"})
		return
	}
	p := rbac.PrincipalFromContext(r.Context())
	if !rbac.HasPermission(p, perm.Module, perm.Action, form.StoreID) {
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "permission "+perm.String()+" not granted")
		return
	}

	snap, err := h.manager.For(sess.ID).Request(p, Request{
		Action:          form.Action,
		Description:     form.Description,
		Permission:      perm,
		TargetResource:  form.TargetResource,
		StoreID:         form.StoreID,
		RequirePassword: form.RequirePassword,
		RequireMFA:      form.RequireMFA,
		OnConfirm:       h.issueGrant(perm),
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, snap)
}

// issueGrant records the confirmation in the session of the confirming request.
func (h *Handler) issueGrant(perm rbac.Permission) func(context.Context) error {
	return func(ctx context.Context) error {
		sess := shared.SessionFromContext(ctx)
		if sess == nil {
			return errors.New("session missing")
		}
		sess.IssueStepUpGrant(perm.String(), h.grantTTL, h.now())
		return nil
	}
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var form confirmForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	conf := h.manager.For(sess.ID)
	pending := conf.Snapshot()
	if !h.stillPermitted(r, pending) {
		_ = conf.Dismiss(r.Context())
		httpx.Problem(w, http.StatusForbidden, "Forbidden", "permission "+pending.Permission+" no longer granted")
		return
	}
	if err := conf.Submit(r.Context(), Submission{Phrase: form.Phrase, Password: form.Password, MFACode: form.MFACode}); err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"confirmed":        true,
		"permission":       pending.Permission,
		"grant_expires_at": h.now().Add(h.grantTTL).UTC(),
	})
}

// stillPermitted re-checks the open request against the principal of the
// confirming request, which reflects any refresh since it was opened.
func (h *Handler) stillPermitted(r *http.Request, pending Snapshot) bool {
	if pending.State == StateIdle {
		return true
	}
	perm, err := rbac.ParsePermission(pending.Permission)
	if err != nil {
		return false
	}
	return rbac.HasPermission(rbac.PrincipalFromContext(r.Context()), perm.Module, perm.Action, pending.StoreID)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	_ = h.manager.For(sess.ID).Cancel(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*shared.Session, bool) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.Problem(w, http.StatusBadRequest, "Session Required", "step-up needs a session")
		return nil, false
	}
	return sess, true
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		httpx.ValidationProblem(w, map[string]string{verr.Field: verr.Reason})
		return
	}
	if !errors.Is(err, httpx.ErrConflict) {
		h.logger.Error("step-up", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
