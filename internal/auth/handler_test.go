package auth_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/retail-console/internal/auth"
	"github.com/odyssey-erp/retail-console/internal/platform/httpx"
	"github.com/odyssey-erp/retail-console/internal/shared"
)

func newAuthRouter(f *serviceFixture) http.Handler {
	h := auth.NewHandler(nil, f.service, shared.NewCSRFManager("csrf-secret"))
	m := auth.Middleware{Service: f.service, Resolver: f.resolver}
	r := chi.NewRouter()
	r.Use(m.LoadPrincipal)
	r.Route("/auth", h.MountRoutes)
	return r
}

func do(router http.Handler, sess *shared.Session, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sess != nil {
		req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestLoginEndpoint(t *testing.T) {
	f := newServiceFixture(t)
	router := newAuthRouter(f)
	sess := f.freshSession(t)

	rec := do(router, sess, http.MethodPost, "/auth/login", `{"email":"kasir@toko.example","password":"correct-horse"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		ID           string `json:"id"`
		Role         string `json:"role"`
		DefaultRoute string `json:"default_route"`
		CSRFToken    string `json:"csrf_token"`
		Stores       []struct {
			StoreID string `json:"store_id"`
		} `json:"stores"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "user-1", body.ID)
	require.Equal(t, "CASHIER", body.Role)
	require.Equal(t, "/store/s1/pos", body.DefaultRoute)
	require.Len(t, body.Stores, 1)
	require.NotEmpty(t, body.CSRFToken)
	require.Equal(t, body.CSRFToken, sess.Get(shared.CSRFSessionKey))
	require.Equal(t, "user-1", sess.User())

	rec = do(router, sess, http.MethodGet, "/auth/me", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"default_route":"/store/s1/pos"`)
}

func TestLoginEndpointFailures(t *testing.T) {
	f := newServiceFixture(t)
	router := newAuthRouter(f)

	rec := do(router, f.freshSession(t), http.MethodPost, "/auth/login", `{"email":"kasir@toko.example","password":"wrongpass"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "Email atau password tidak valid", problem.Detail)

	rec = do(router, f.freshSession(t), http.MethodPost, "/auth/login", `{"email":"not-an-email","password":"short"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "email", problem.Errors["Email"])
	require.Equal(t, "min", problem.Errors["Password"])

	f.profiles.mu.Lock()
	f.profiles.profile.IsActive = false
	f.profiles.mu.Unlock()
	rec = do(router, f.freshSession(t), http.MethodPost, "/auth/login", `{"email":"kasir@toko.example","password":"correct-horse"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "akun tidak aktif")
}

func TestMeRequiresPrincipal(t *testing.T) {
	f := newServiceFixture(t)
	rec := do(newAuthRouter(f), f.freshSession(t), http.MethodGet, "/auth/me", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRefreshAndLogoutEndpoints(t *testing.T) {
	f := newServiceFixture(t)
	router := newAuthRouter(f)
	sess := f.login(t)

	rec := do(router, sess, http.MethodPost, "/auth/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, sess, http.MethodPost, "/auth/logout", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, sess.User())

	rec = do(router, f.freshSession(t), http.MethodPost, "/auth/refresh", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCSRFEndpoint(t *testing.T) {
	f := newServiceFixture(t)
	sess := f.freshSession(t)
	rec := do(newAuthRouter(f), sess, http.MethodGet, "/auth/csrf", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), sess.Get(shared.CSRFSessionKey))
}
