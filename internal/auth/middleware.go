package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/retail-console/internal/platform/httpx"
	"github.com/odyssey-erp/retail-console/internal/rbac"
	"github.com/odyssey-erp/retail-console/internal/shared"
)

// Middleware places the current principal into the request context.
type Middleware struct {
	Service  *Service
	Resolver *Resolver
	// Bearer is optional; without it Authorization headers are ignored.
	Bearer *BearerVerifier
	Logger *slog.Logger
}

// LoadPrincipal resolves the principal from a bearer token when one is sent,
// otherwise from the session snapshot. Anonymous requests pass through.
func (m Middleware) LoadPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, ok := BearerToken(r); ok && m.Bearer != nil {
			identity, err := m.Bearer.Verify(r.Context(), token)
			if err != nil {
				respondFailure(w, err)
				return
			}
			principal, err := m.Resolver.ResolvePrincipal(r.Context(), identity)
			if err != nil {
				respondFailure(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(rbac.ContextWithPrincipal(r.Context(), principal)))
			return
		}

		sess := shared.SessionFromContext(r.Context())
		principal, err := m.Service.CurrentPrincipal(sess)
		if err != nil {
			m.logger().Warn("decode session principal", slog.Any("error", err))
			principal = nil
		}
		if principal != nil {
			r = r.WithContext(rbac.ContextWithPrincipal(r.Context(), principal))
		}
		next.ServeHTTP(w, r)
	})
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

func respondFailure(w http.ResponseWriter, err error) {
	var af *AuthFailure
	if errors.As(err, &af) {
		if af.Retryable {
			w.Header().Set("Retry-After", "5")
		}
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", af.Message)
		return
	}
	httpx.RespondError(w, err)
}
