package auth

import (
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/retail-console/internal/platform/httpx"
	"github.com/odyssey-erp/retail-console/internal/rbac"
	"github.com/odyssey-erp/retail-console/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	csrfManager *shared.CSRFManager
	validator   *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:      logger,
		service:     service,
		csrfManager: csrf,
		validator:   validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/csrf", h.csrf)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Post("/refresh", h.handleRefresh)
	r.Get("/me", h.me)
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type principalView struct {
	ID             string              `json:"id"`
	Email          string              `json:"email"`
	Role           rbac.Role           `json:"role"`
	OrganizationID string              `json:"organization_id,omitempty"`
	Permissions    []string            `json:"permissions"`
	Stores         []rbac.StoreSummary `json:"stores"`
	DefaultStoreID string              `json:"default_store_id,omitempty"`
	DefaultRoute   string              `json:"default_route"`
	Synthesized    bool                `json:"synthesized"`
	CSRFToken      string              `json:"csrf_token,omitempty"`
}

func newPrincipalView(p *rbac.Principal) principalView {
	stores := rbac.UserStores(p)
	if stores == nil {
		stores = []rbac.StoreSummary{}
	}
	return principalView{
		ID:             p.ID,
		Email:          p.Email,
		Role:           p.Role,
		OrganizationID: p.OrganizationID,
		Permissions:    p.GlobalPermissions.Strings(),
		Stores:         stores,
		DefaultStoreID: p.DefaultStoreID,
		DefaultRoute:   rbac.DefaultRoute(p),
		Synthesized:    p.Synthesized,
	}
}

func (h *Handler) csrf(w http.ResponseWriter, r *http.Request) {
	token, err := h.csrfManager.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
	if err != nil {
		h.logger.Error("issue csrf token", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var form loginForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(form); err != nil {
		httpx.ValidationProblem(w, httpx.FieldErrors(err))
		return
	}

	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during login")
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	principal, err := h.service.Login(r.Context(), sess, form.Email, form.Password, LoginMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.fail(w, "login", err)
		return
	}

	view := newPrincipalView(principal)
	if token, err := h.csrfManager.EnsureToken(r.Context(), sess); err == nil {
		view.CSRFToken = token
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), shared.SessionFromContext(r.Context())); err != nil {
		h.logger.Warn("logout", slog.Any("error", err))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	principal, err := h.service.RefreshPrincipal(r.Context(), shared.SessionFromContext(r.Context()))
	if err != nil {
		h.fail(w, "refresh", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newPrincipalView(principal))
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p := rbac.PrincipalFromContext(r.Context())
	if p == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "login required")
		return
	}
	httpx.JSON(w, http.StatusOK, newPrincipalView(p))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	var af *AuthFailure
	switch {
	case errors.Is(err, shared.ErrInvalidCredentials):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Email atau password tidak valid")
	case errors.As(err, &af):
		h.logger.Warn(op, slog.String("reason", af.Message), slog.Bool("retryable", af.Retryable))
		respondFailure(w, af)
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
