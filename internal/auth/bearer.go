package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// BearerConfig configures JWKS-backed token verification.
type BearerConfig struct {
	JWKSURL         string
	Issuer          string
	RefreshInterval time.Duration
	ClientTimeout   time.Duration
	Leeway          time.Duration
}

// BearerVerifier turns IdP-issued RS256 access tokens into identities.
type BearerVerifier struct {
	jwks   keyfunc.Keyfunc
	issuer string
	leeway time.Duration
	logger *slog.Logger
}

type accessClaims struct {
	jwt.RegisteredClaims
	Email          string   `json:"email"`
	Role           string   `json:"role,omitempty"`
	OrganizationID string   `json:"org_id,omitempty"`
	Groups         []string `json:"groups,omitempty"`
}

// NewBearerVerifier fetches the key set from cfg.JWKSURL and keeps it fresh
// in the background. Startup does not fail while the IdP is unreachable.
func NewBearerVerifier(cfg BearerConfig, logger *slog.Logger) (*BearerVerifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := &http.Client{Timeout: cfg.ClientTimeout}
	storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    client,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("refresh jwks", slog.String("url", cfg.JWKSURL), slog.Any("error", err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jwks storage: %w", err)
	}
	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("jwks keyfunc: %w", err)
	}
	return NewBearerVerifierWithKeyfunc(k, cfg.Issuer, cfg.Leeway, logger), nil
}

// NewBearerVerifierWithKeyfunc builds a verifier around an existing keyfunc.
func NewBearerVerifierWithKeyfunc(k keyfunc.Keyfunc, issuer string, leeway time.Duration, logger *slog.Logger) *BearerVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &BearerVerifier{
		jwks:   k,
		issuer: issuer,
		leeway: leeway,
		logger: logger.With(slog.String("component", "bearer")),
	}
}

// Verify validates the token signature and standard claims.
func (v *BearerVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	claims := &accessClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, claims, v.jwks.KeyfuncCtx(ctx), opts...)
	if err != nil {
		v.logger.Debug("reject bearer token", slog.Any("error", err))
		return Identity{}, failure("token tidak valid atau kedaluwarsa", err)
	}
	if !parsed.Valid {
		return Identity{}, failure("token tidak valid", nil)
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return Identity{}, failure("token tidak memiliki subjek", err)
	}
	return Identity{
		ID:               subject,
		Email:            claims.Email,
		RoleHint:         claims.Role,
		OrganizationHint: claims.OrganizationID,
		Groups:           claims.Groups,
	}, nil
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(token), true
}
