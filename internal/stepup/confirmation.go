// Package stepup gates high-impact actions behind a fresh proof of presence.
package stepup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/odyssey-erp/retail-console/internal/audit"
	"github.com/odyssey-erp/retail-console/internal/observability"
	"github.com/odyssey-erp/retail-console/internal/platform/httpx"
	"github.com/odyssey-erp/retail-console/internal/rbac"
)

// DefaultPhrase is typed by the user unless the request supplies its own.
const DefaultPhrase = "CONFIRM"

const minPasswordLength = 8

var (
	// ErrAlreadyPending is returned when a request is made while another one is open.
	ErrAlreadyPending = fmt.Errorf("stepup: confirmation already pending: %w", httpx.ErrConflict)
	// ErrNoPendingRequest is returned by Submit when nothing awaits confirmation.
	ErrNoPendingRequest = fmt.Errorf("stepup: no pending confirmation: %w", httpx.ErrConflict)
	// ErrVerificationInProgress is returned by Submit while another submission is checked.
	ErrVerificationInProgress = fmt.Errorf("stepup: verification in progress: %w", httpx.ErrConflict)
	// ErrCancelled is returned by Submit when the request was cancelled mid-verification.
	ErrCancelled = fmt.Errorf("stepup: confirmation cancelled: %w", httpx.ErrConflict)
)

// State of a Confirmation. Confirmed and Rejected are outcomes that return to Idle.
type State string

const (
	StateIdle      State = "idle"
	StateRequested State = "requested"
	StateVerifying State = "verifying"
)

// Request describes the action awaiting confirmation.
type Request struct {
	Action         string
	Description    string
	Permission     rbac.Permission
	TargetResource string
	// StoreID scopes Permission; empty means the global permission set.
	StoreID string
	// RequirePassword and RequireMFA default to true when nil.
	RequirePassword *bool
	RequireMFA      *bool
	// Phrase defaults to Config.Phrase.
	Phrase string
	// OnConfirm runs once after every factor passed.
	OnConfirm func(ctx context.Context) error
}

// Submission carries the factors typed by the user.
type Submission struct {
	Phrase   string
	Password string
	MFACode  string
}

// ValidationError reports the first factor that did not pass. The request stays open.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("stepup: %s: %s", e.Field, e.Reason)
}

// PasswordVerifier checks a password against the identity provider.
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, p *rbac.Principal, password string) error
}

// MFAVerifier checks a one-time code.
type MFAVerifier interface {
	VerifyMFA(ctx context.Context, p *rbac.Principal, code string) error
}

// Config is shared by every Confirmation of a Manager.
type Config struct {
	Password PasswordVerifier
	MFA      MFAVerifier
	Audit    audit.Sink
	Metrics  *observability.Metrics
	Logger   *slog.Logger
	Now      func() time.Time
	// Phrase replaces DefaultPhrase for requests without their own.
	Phrase string
}

func (c Config) withDefaults() Config {
	c.Audit = audit.OrNop(c.Audit)
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Phrase == "" {
		c.Phrase = DefaultPhrase
	}
	return c
}

// Snapshot is the externally visible state of a Confirmation.
type Snapshot struct {
	ID               string    `json:"id,omitempty"`
	State            State     `json:"state"`
	Action           string    `json:"action,omitempty"`
	Description      string    `json:"description,omitempty"`
	Permission       string    `json:"permission,omitempty"`
	TargetResource   string    `json:"target_resource,omitempty"`
	StoreID          string    `json:"store_id,omitempty"`
	RequiresPassword bool      `json:"requires_password"`
	RequiresMFA      bool      `json:"requires_mfa"`
	Phrase           string    `json:"phrase,omitempty"`
	RequestedAt      time.Time `json:"requested_at,omitempty"`
}

// secrets holds the factors of one submission. clear zeroes these copies;
// strings handed in by callers are out of its reach.
type secrets struct {
	phrase   []byte
	password []byte
	mfa      []byte
}

func (s *secrets) capture(sub Submission) {
	s.clear()
	s.phrase = []byte(sub.Phrase)
	s.password = []byte(sub.Password)
	s.mfa = []byte(sub.MFACode)
}

func (s *secrets) clear() {
	for _, b := range [][]byte{s.phrase, s.password, s.mfa} {
		for i := range b {
			b[i] = 0
		}
	}
	s.phrase, s.password, s.mfa = nil, nil, nil
}

func (s *secrets) empty() bool {
	return len(s.phrase) == 0 && len(s.password) == 0 && len(s.mfa) == 0
}

type pending struct {
	id              string
	req             Request
	principal       *rbac.Principal
	requirePassword bool
	requireMFA      bool
	phrase          string
	requestedAt     time.Time
}

// Confirmation is the step-up state machine of a single caller.
type Confirmation struct {
	cfg Config

	mu       sync.Mutex
	state    State
	current  *pending
	inflight *secrets
}

// NewConfirmation builds an idle Confirmation.
func NewConfirmation(cfg Config) *Confirmation {
	return &Confirmation{cfg: cfg.withDefaults(), state: StateIdle}
}

// Request opens a confirmation for p. It never merges with an open one.
func (c *Confirmation) Request(p *rbac.Principal, req Request) (Snapshot, error) {
	if p == nil {
		return Snapshot{}, fmt.Errorf("stepup: %w", httpx.ErrUnauthorized)
	}
	if req.Action == "" {
		return Snapshot{}, &ValidationError{Field: "action", Reason: "required"}
	}
	if !req.Permission.Module.Valid() || !req.Permission.Action.Valid() {
		return Snapshot{}, &ValidationError{Field: "permission", Reason: "unknown"}
	}
	if req.OnConfirm == nil {
		return Snapshot{}, &ValidationError{Field: "on_confirm", Reason: "required"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return Snapshot{}, ErrAlreadyPending
	}
	phrase := req.Phrase
	if phrase == "" {
		phrase = c.cfg.Phrase
	}
	c.current = &pending{
		id:              uuid.NewString(),
		req:             req,
		principal:       p,
		requirePassword: boolOr(req.RequirePassword, true),
		requireMFA:      boolOr(req.RequireMFA, true),
		phrase:          phrase,
		requestedAt:     c.cfg.Now().UTC(),
	}
	c.state = StateRequested
	c.cfg.Metrics.ObserveStepUp("requested")
	return c.snapshotLocked(), nil
}

// Submit verifies sub against the open request. Every check has to pass for
// the continuation to run; a failed check keeps the request open.
func (c *Confirmation) Submit(ctx context.Context, sub Submission) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return ErrNoPendingRequest
	case StateVerifying:
		c.mu.Unlock()
		return ErrVerificationInProgress
	}
	p := c.current
	factors := &secrets{}
	factors.capture(sub)
	c.inflight = factors
	c.state = StateVerifying
	c.mu.Unlock()

	verr := c.verify(ctx, p, factors)

	c.mu.Lock()
	factors.clear()
	if c.inflight == factors {
		c.inflight = nil
	}
	if c.current != p {
		c.mu.Unlock()
		return ErrCancelled
	}
	if verr != nil {
		c.state = StateRequested
		c.mu.Unlock()
		c.cfg.Metrics.ObserveStepUp("failed")
		c.cfg.Audit.LogAction(ctx, audit.EventConfirmationFailed, audit.CategorySecurity, p.details(c.cfg.Now(), map[string]any{
			"field":  verr.Field,
			"reason": verr.Reason,
		}))
		return verr
	}
	c.current = nil
	c.state = StateIdle
	c.mu.Unlock()

	c.cfg.Metrics.ObserveStepUp("confirmed")
	c.cfg.Audit.LogAction(ctx, audit.EventConfirmationPassed, audit.CategorySecurity, p.details(c.cfg.Now(), nil))
	if err := p.req.OnConfirm(ctx); err != nil {
		c.cfg.Logger.Error("step-up continuation", slog.String("action", p.req.Action), slog.Any("error", err))
		return fmt.Errorf("stepup: continuation: %w", err)
	}
	return nil
}

// verify checks phrase, password length and MFA shape, then the configured
// verifiers. The first failing check determines the error. Without an
// MFAVerifier the code is checked for shape only.
func (c *Confirmation) verify(ctx context.Context, p *pending, f *secrets) *ValidationError {
	fold := cases.Fold()
	if !bytes.Equal(fold.Bytes(f.phrase), fold.Bytes([]byte(p.phrase))) {
		return &ValidationError{Field: "phrase", Reason: "does not match"}
	}
	if p.requirePassword && len(f.password) < minPasswordLength {
		return &ValidationError{Field: "password", Reason: fmt.Sprintf("must be at least %d characters", minPasswordLength)}
	}
	if p.requireMFA && !isSixDigits(f.mfa) {
		return &ValidationError{Field: "mfa_code", Reason: "must be exactly 6 digits"}
	}
	if p.requirePassword && c.cfg.Password != nil {
		if err := c.cfg.Password.VerifyPassword(ctx, p.principal, string(f.password)); err != nil {
			return &ValidationError{Field: "password", Reason: "incorrect"}
		}
	}
	if p.requireMFA && c.cfg.MFA != nil {
		if err := c.cfg.MFA.VerifyMFA(ctx, p.principal, string(f.mfa)); err != nil {
			return &ValidationError{Field: "mfa_code", Reason: "incorrect"}
		}
	}
	return nil
}

// Cancel rejects the open request. The continuation is discarded.
func (c *Confirmation) Cancel(ctx context.Context) error {
	return c.reject(ctx, "cancelled")
}

// Dismiss rejects the open request because its dialog went away.
func (c *Confirmation) Dismiss(ctx context.Context) error {
	return c.reject(ctx, "dismissed")
}

func (c *Confirmation) reject(ctx context.Context, outcome string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	c.current = nil
	c.state = StateIdle
	c.cfg.Metrics.ObserveStepUp(outcome)
	return nil
}

// Snapshot returns the current state.
func (c *Confirmation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// expired reports whether an open request is older than ttl and rejects it.
func (c *Confirmation) expired(now time.Time, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.state == StateVerifying || now.Sub(c.current.requestedAt) < ttl {
		return false
	}
	c.current = nil
	c.state = StateIdle
	c.cfg.Metrics.ObserveStepUp("expired")
	return true
}

func (c *Confirmation) idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateIdle
}

func (c *Confirmation) snapshotLocked() Snapshot {
	if c.current == nil {
		return Snapshot{State: c.state}
	}
	p := c.current
	return Snapshot{
		ID:               p.id,
		State:            c.state,
		Action:           p.req.Action,
		Description:      p.req.Description,
		Permission:       p.req.Permission.String(),
		TargetResource:   p.req.TargetResource,
		StoreID:          p.req.StoreID,
		RequiresPassword: p.requirePassword,
		RequiresMFA:      p.requireMFA,
		Phrase:           p.phrase,
		RequestedAt:      p.requestedAt,
	}
}

func (p *pending) details(at time.Time, extra map[string]any) map[string]any {
	details := map[string]any{
		audit.DetailActorID: p.principal.ID,
		"request_id":        p.id,
		"action":            p.req.Action,
		"permission":        p.req.Permission.String(),
		"target":            p.req.TargetResource,
		"store_id":          p.req.StoreID,
		"timestamp":         at.UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		details[k] = v
	}
	return details
}

func isSixDigits(code []byte) bool {
	if len(code) != 6 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// IsValidation reports whether err is a retryable factor failure.
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
