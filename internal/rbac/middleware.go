package rbac

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/retail-console/internal/observability"
	"github.com/odyssey-erp/retail-console/internal/platform/httpx"
	"github.com/odyssey-erp/retail-console/internal/shared"
)

const (
	// StoreParam is the chi URL parameter carrying a store ID.
	StoreParam = "storeID"
	// OrgParam is the chi URL parameter carrying an organization ID.
	OrgParam = "orgID"
)

// Middleware wires RBAC authorization helpers for HTTP handlers. Guards read
// the principal snapshot placed in the request context by the auth layer.
type Middleware struct {
	Logger  *slog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// RequirePrincipal rejects anonymous requests with 401.
func (m Middleware) RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if PrincipalFromContext(r.Context()) == nil {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequirePermission ensures the principal may perform action on module. When
// the route carries {storeID} the check is scoped to that store.
func (m Middleware) RequirePermission(module Module, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := m.principal(w, r)
			if !ok {
				return
			}
			decision := Decide(p, Request{Module: module, Action: action, StoreID: chi.URLParam(r, StoreParam)})
			m.Metrics.ObserveDecision(string(decision.Scope), decision.Allowed)
			if !decision.Allowed {
				m.deny(w, r, p, decision.Reason)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAny ensures the principal holds at least one of the "module.action" permissions.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	required := mustParsePermissions(perms)
	return m.requireSet(required, false)
}

// RequireAll ensures the principal holds every "module.action" permission.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	required := mustParsePermissions(perms)
	return m.requireSet(required, true)
}

func (m Middleware) requireSet(required []Permission, all bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(required) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			p, ok := m.principal(w, r)
			if !ok {
				return
			}
			storeID := chi.URLParam(r, StoreParam)
			granted := 0
			for _, perm := range required {
				if Decide(p, Request{Module: perm.Module, Action: perm.Action, StoreID: storeID}).Allowed {
					granted++
				}
			}
			allowed := granted > 0
			if all {
				allowed = granted == len(required)
			}
			m.Metrics.ObserveDecision(string(ResolveSource(p, Request{StoreID: storeID}).Scope), allowed)
			if !allowed {
				m.deny(w, r, p, "missing required permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireStoreAccess ensures the principal can access the {storeID} store.
func (m Middleware) RequireStoreAccess(next http.Handler) http.Handler {
	return m.predicate("store access", func(p *Principal, r *http.Request) bool {
		return CanAccessStore(p, chi.URLParam(r, StoreParam))
	})(next)
}

// RequireStoreManager ensures the principal can manage the {storeID} store.
func (m Middleware) RequireStoreManager(next http.Handler) http.Handler {
	return m.predicate("store management", func(p *Principal, r *http.Request) bool {
		return CanManageStore(p, chi.URLParam(r, StoreParam))
	})(next)
}

// RequireOrganization ensures the principal belongs to the {orgID} organization.
func (m Middleware) RequireOrganization(next http.Handler) http.Handler {
	return m.predicate("organization data", func(p *Principal, r *http.Request) bool {
		return CanAccessOrganizationData(p, chi.URLParam(r, OrgParam))
	})(next)
}

// RequireEcommerceManager ensures the principal can manage e-commerce.
func (m Middleware) RequireEcommerceManager(next http.Handler) http.Handler {
	return m.predicate("ecommerce management", func(p *Principal, _ *http.Request) bool {
		return CanManageEcommerce(p)
	})(next)
}

// RequireStepUp guards next with a one-time step-up grant for perm. Requests
// without a valid grant get 428 so the client can start a confirmation. The
// grant is spent only when next answers below 400, so a rejected form can be
// corrected and resubmitted.
func (m Middleware) RequireStepUp(perm Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := m.principal(w, r); !ok {
				return
			}
			sess := shared.SessionFromContext(r.Context())
			if !sess.HasStepUpGrant(perm.String(), m.now()) {
				m.Metrics.ObserveStepUp("required")
				httpx.Problem(w, http.StatusPreconditionRequired, "Step-Up Required",
					fmt.Sprintf("confirm %s before retrying", perm))
				return
			}
			sw := &stepUpWriter{ResponseWriter: w, spend: func() {
				sess.ConsumeStepUpGrant(perm.String(), m.now())
			}}
			next.ServeHTTP(sw, r)
			if !sw.headerWritten {
				sw.spend()
			}
		})
	}
}

// stepUpWriter spends the grant before the status reaches the session commit.
type stepUpWriter struct {
	http.ResponseWriter
	spend         func()
	headerWritten bool
}

func (w *stepUpWriter) WriteHeader(statusCode int) {
	if !w.headerWritten {
		w.headerWritten = true
		if statusCode < http.StatusBadRequest {
			w.spend()
		}
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *stepUpWriter) Write(data []byte) (int, error) {
	if !w.headerWritten {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(data)
}

func (w *stepUpWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (m Middleware) predicate(name string, check func(*Principal, *http.Request) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := m.principal(w, r)
			if !ok {
				return
			}
			allowed := check(p, r)
			scope := ScopeGlobal
			if p.IsSuperUser() {
				scope = ScopeSuper
			}
			m.Metrics.ObserveDecision(string(scope), allowed)
			if !allowed {
				m.deny(w, r, p, "no "+name)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) principal(w http.ResponseWriter, r *http.Request) (*Principal, bool) {
	p := PrincipalFromContext(r.Context())
	if p == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return nil, false
	}
	return p, true
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, p *Principal, reason string) {
	if m.Logger != nil {
		m.Logger.Debug("rbac deny",
			slog.String("principal", p.ID),
			slog.String("path", r.URL.Path),
			slog.String("reason", reason),
		)
	}
	httpx.Problem(w, http.StatusForbidden, "Forbidden", reason)
}

func (m Middleware) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// mustParsePermissions normalizes route-declared permissions. Unknown tags
// are programming errors and panic at router construction.
func mustParsePermissions(perms []string) []Permission {
	seen := make(map[string]struct{}, len(perms))
	out := make([]Permission, 0, len(perms))
	for _, raw := range perms {
		raw = strings.TrimSpace(strings.ToLower(raw))
		if raw == "" {
			continue
		}
		if _, dup := seen[raw]; dup {
			continue
		}
		seen[raw] = struct{}{}
		perm, err := ParsePermission(raw)
		if err != nil {
			panic(err)
		}
		out = append(out, perm)
	}
	return out
}
