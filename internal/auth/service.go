package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/retail-console/internal/audit"
	"github.com/odyssey-erp/retail-console/internal/rbac"
	"github.com/odyssey-erp/retail-console/internal/shared"
)

const (
	sessionIdentityKey  = "identity"
	sessionPrincipalKey = "principal"
)

// Service wraps authentication business rules.
type Service struct {
	provider IdentityProvider
	resolver *Resolver
	sessions *shared.SessionManager
	recorder SessionRecorder
	audit    audit.Sink
	logger   *slog.Logger

	refreshes singleflight.Group

	mu        sync.RWMutex
	listeners map[int]func(SessionEvent)
	nextID    int
}

// NewService constructs a new Service. recorder may be nil.
func NewService(provider IdentityProvider, resolver *Resolver, sessions *shared.SessionManager, recorder SessionRecorder, sink audit.Sink, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider:  provider,
		resolver:  resolver,
		sessions:  sessions,
		recorder:  recorder,
		audit:     audit.OrNop(sink),
		logger:    logger,
		listeners: make(map[int]func(SessionEvent)),
	}
}

// LoginMeta describes the client of a login attempt.
type LoginMeta struct {
	IP        string
	UserAgent string
}

// Login authenticates the credentials and binds the resolved principal to sess.
// The session gets a new ID and loses every previous value.
func (s *Service) Login(ctx context.Context, sess *shared.Session, email, password string, meta LoginMeta) (*rbac.Principal, error) {
	if sess == nil {
		return nil, errors.New("auth: session missing")
	}
	identity, err := s.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			s.audit.LogAction(ctx, audit.EventLoginFailed, audit.CategoryAuth, map[string]any{
				"email": email,
				"ip":    meta.IP,
			})
		}
		return nil, err
	}
	principal, err := s.resolver.ResolvePrincipal(ctx, identity)
	if err != nil {
		return nil, err
	}

	sess.Renew()
	sess.Clear()
	sess.SetUser(identity.ID)
	if err := sess.SetJSON(sessionIdentityKey, identity); err != nil {
		return nil, fmt.Errorf("auth: store identity: %w", err)
	}
	if err := sess.SetJSON(sessionPrincipalKey, principal); err != nil {
		return nil, fmt.Errorf("auth: store principal: %w", err)
	}

	if s.recorder != nil && s.sessions != nil {
		expiresAt := time.Now().Add(s.sessions.TTL())
		if err := s.recorder.CreateSession(ctx, sess.ID, identity.ID, expiresAt, meta.IP, meta.UserAgent); err != nil {
			s.logger.Warn("register session", slog.Any("error", err))
		}
	}

	s.audit.LogAction(ctx, audit.EventLogin, audit.CategoryAuth, map[string]any{
		audit.DetailActorID: identity.ID,
		"role":              string(principal.Role),
		"synthesized":       principal.Synthesized,
		"ip":                meta.IP,
	})
	s.notify(SessionEvent{Kind: SessionLogin, SessionID: sess.ID, Identity: identity, Principal: principal})
	return principal, nil
}

// Logout signs the identity out and destroys the session.
func (s *Service) Logout(ctx context.Context, sess *shared.Session) error {
	if sess == nil {
		return nil
	}
	identity, ok, err := s.identity(sess)
	if err != nil {
		s.logger.Warn("decode session identity", slog.Any("error", err))
	}
	if ok {
		if err := s.provider.SignOut(ctx, identity); err != nil {
			s.logger.Warn("provider sign out", slog.Any("error", err))
		}
	}
	if s.recorder != nil {
		if err := s.recorder.DeleteSession(ctx, sess.ID); err != nil {
			s.logger.Warn("remove session", slog.Any("error", err))
		}
	}
	sess.Clear()
	if s.sessions != nil {
		s.sessions.Destroy(sess)
	}
	if ok {
		s.audit.LogAction(ctx, audit.EventLogout, audit.CategoryAuth, map[string]any{
			audit.DetailActorID: identity.ID,
		})
		s.notify(SessionEvent{Kind: SessionLogout, SessionID: sess.ID, Identity: identity})
	}
	return nil
}

// RefreshPrincipal re-resolves the session identity and swaps the stored
// principal in a single write. Concurrent refreshes of one session share a
// single resolution.
func (s *Service) RefreshPrincipal(ctx context.Context, sess *shared.Session) (*rbac.Principal, error) {
	identity, ok, err := s.identity(sess)
	if err != nil {
		return nil, failure("sesi rusak, silakan masuk kembali", err)
	}
	if !ok {
		return nil, failure("sesi tidak memiliki identitas", shared.ErrUnauthenticated)
	}

	// The shared resolution outlives any single caller's cancellation.
	resolveCtx := context.WithoutCancel(ctx)
	v, err, _ := s.refreshes.Do(sess.ID, func() (any, error) {
		return s.resolver.ResolvePrincipal(resolveCtx, identity)
	})
	if err != nil {
		return nil, err
	}
	principal := v.(*rbac.Principal)
	if err := sess.SetJSON(sessionPrincipalKey, principal); err != nil {
		return nil, fmt.Errorf("auth: store principal: %w", err)
	}
	// Grants were proven against the previous principal.
	sess.ClearStepUpGrants()

	s.audit.LogAction(ctx, audit.EventRefresh, audit.CategoryAuth, map[string]any{
		audit.DetailActorID: identity.ID,
		"role":              string(principal.Role),
	})
	s.notify(SessionEvent{Kind: SessionRefresh, SessionID: sess.ID, Identity: identity, Principal: principal})
	return principal, nil
}

// CurrentPrincipal decodes the principal snapshot stored in sess. It returns
// nil without error for anonymous sessions.
func (s *Service) CurrentPrincipal(sess *shared.Session) (*rbac.Principal, error) {
	if sess.User() == "" {
		return nil, nil
	}
	var p rbac.Principal
	ok, err := sess.GetJSON(sessionPrincipalKey, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// OnSessionChange subscribes fn to login, refresh and logout events. The
// returned function removes the subscription.
func (s *Service) OnSessionChange(fn func(SessionEvent)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// VerifyPassword re-checks the password of the principal against the provider.
func (s *Service) VerifyPassword(ctx context.Context, p *rbac.Principal, password string) error {
	if p == nil || p.Email == "" {
		return shared.ErrInvalidCredentials
	}
	identity, err := s.provider.SignInWithPassword(ctx, p.Email, password)
	if err != nil {
		return err
	}
	if identity.ID != p.ID {
		return shared.ErrInvalidCredentials
	}
	return nil
}

func (s *Service) identity(sess *shared.Session) (Identity, bool, error) {
	var identity Identity
	if sess.User() == "" {
		return identity, false, nil
	}
	ok, err := sess.GetJSON(sessionIdentityKey, &identity)
	if err != nil {
		return Identity{}, false, err
	}
	return identity, ok, nil
}

func (s *Service) notify(evt SessionEvent) {
	s.mu.RLock()
	fns := make([]func(SessionEvent), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(evt)
	}
}
