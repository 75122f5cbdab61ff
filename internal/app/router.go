package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/retail-console/internal/audit"
	"github.com/odyssey-erp/retail-console/internal/auth"
	"github.com/odyssey-erp/retail-console/internal/observability"
	"github.com/odyssey-erp/retail-console/internal/platform/httpx"
	"github.com/odyssey-erp/retail-console/internal/rbac"
	"github.com/odyssey-erp/retail-console/internal/shared"
	"github.com/odyssey-erp/retail-console/internal/stepup"
	"github.com/odyssey-erp/retail-console/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Principal      auth.Middleware
	RBACMiddleware rbac.Middleware

	AuthHandler   *auth.Handler
	RBACHandler   *rbac.Handler
	StepUpHandler *stepup.Handler
	AuditHandler  *audit.Handler
	JobHandler    *jobs.Handler
	Metrics       *observability.Metrics
}

// NewRouter constructs the chi.Router with console defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
		Principal:      params.Principal,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/auth", params.AuthHandler.MountRoutes)
	r.Route("/authz", params.RBACHandler.MountRoutes)
	r.Route("/stepup", params.StepUpHandler.MountRoutes)
	r.Route("/admin", func(r chi.Router) {
		r.Group(params.RBACHandler.MountAdminRoutes)
		if params.AuditHandler != nil {
			r.With(params.RBACMiddleware.RequirePermission(rbac.ModuleSettings, rbac.ActionView)).
				Route("/audit", params.AuditHandler.MountRoutes)
		}
	})
	if params.JobHandler != nil {
		r.With(params.RBACMiddleware.RequirePermission(rbac.ModuleSettings, rbac.ActionView)).
			Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
