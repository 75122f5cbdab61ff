package stepup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/retail-console/internal/audit"
	"github.com/odyssey-erp/retail-console/internal/platform/httpx"
	"github.com/odyssey-erp/retail-console/internal/rbac"
)

type auditRecord struct {
	event   string
	details map[string]any
}

type memorySink struct {
	mu      sync.Mutex
	records []auditRecord
}

func (s *memorySink) LogAction(_ context.Context, event, _ string, details map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, auditRecord{event: event, details: details})
}

func (s *memorySink) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.records))
	for i, r := range s.records {
		out[i] = r.event
	}
	return out
}

type passwordFunc func(ctx context.Context, p *rbac.Principal, password string) error

func (f passwordFunc) VerifyPassword(ctx context.Context, p *rbac.Principal, password string) error {
	return f(ctx, p, password)
}

type mfaFunc func(ctx context.Context, p *rbac.Principal, code string) error

func (f mfaFunc) VerifyMFA(ctx context.Context, p *rbac.Principal, code string) error {
	return f(ctx, p, code)
}

var refundPerm = rbac.Permission{Module: rbac.ModulePOS, Action: rbac.ActionRefund}

func manager() *rbac.Principal {
	return rbac.NewPrincipal(rbac.PrincipalParams{
		ID:             "manager",
		Role:           rbac.RoleStoreManager,
		OrganizationID: "org-1",
		StoreAccess: []rbac.StoreGrant{{
			StoreID:     "s1",
			Role:        rbac.RoleStoreManager,
			Permissions: rbac.StoreTemplate(rbac.RoleStoreManager),
			IsActive:    true,
		}},
	})
}

func counter() (*int32, func(context.Context) error) {
	var n int32
	return &n, func(context.Context) error {
		atomic.AddInt32(&n, 1)
		return nil
	}
}

func refundRequest(onConfirm func(context.Context) error) Request {
	return Request{
		Action:         "refund",
		Description:    "Refund order #1042",
		Permission:     refundPerm,
		TargetResource: "order:1042",
		OnConfirm:      onConfirm,
	}
}

func bufferEmpty(c *Confirmation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight == nil || c.inflight.empty()
}

func TestSubmitPasswordLength(t *testing.T) {
	ctx := context.Background()
	calls, onConfirm := counter()
	c := NewConfirmation(Config{})

	snap, err := c.Request(manager(), refundRequest(onConfirm))
	require.NoError(t, err)
	require.Equal(t, StateRequested, snap.State)
	require.True(t, snap.RequiresPassword)
	require.True(t, snap.RequiresMFA)
	require.Equal(t, DefaultPhrase, snap.Phrase)

	err = c.Submit(ctx, Submission{Phrase: "CONFIRM", Password: "1234567", MFACode: "123456"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "password", verr.Field)
	require.Zero(t, atomic.LoadInt32(calls))
	require.Equal(t, StateRequested, c.Snapshot().State)
	require.True(t, bufferEmpty(c))

	require.NoError(t, c.Submit(ctx, Submission{Phrase: "CONFIRM", Password: "12345678", MFACode: "123456"}))
	require.EqualValues(t, 1, atomic.LoadInt32(calls))
	require.Equal(t, StateIdle, c.Snapshot().State)
	require.True(t, bufferEmpty(c))

	require.ErrorIs(t, c.Submit(ctx, Submission{Phrase: "CONFIRM", Password: "12345678", MFACode: "123456"}), ErrNoPendingRequest)
	require.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestSubmitChecksFactorsInOrder(t *testing.T) {
	ctx := context.Background()
	_, onConfirm := counter()
	c := NewConfirmation(Config{})
	_, err := c.Request(manager(), refundRequest(onConfirm))
	require.NoError(t, err)

	cases := []struct {
		sub   Submission
		field string
	}{
		{Submission{Phrase: "CONFIRMED", Password: "12345678", MFACode: "123456"}, "phrase"},
		{Submission{Phrase: " CONFIRM", Password: "12345678", MFACode: "123456"}, "phrase"},
		{Submission{Phrase: "CONFIRM", Password: "short", MFACode: "12"}, "password"},
		{Submission{Phrase: "CONFIRM", Password: "12345678", MFACode: "12345"}, "mfa_code"},
		{Submission{Phrase: "CONFIRM", Password: "12345678", MFACode: "12345a"}, "mfa_code"},
		{Submission{Phrase: "CONFIRM", Password: "12345678", MFACode: "1234567"}, "mfa_code"},
	}
	for _, tc := range cases {
		err := c.Submit(ctx, tc.sub)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, tc.sub)
		require.Equal(t, tc.field, verr.Field, tc.sub)
		require.True(t, IsValidation(err))
	}
}

func TestPhraseIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	calls, onConfirm := counter()
	c := NewConfirmation(Config{})

	_, err := c.Request(manager(), refundRequest(onConfirm))
	require.NoError(t, err)
	require.NoError(t, c.Submit(ctx, Submission{Phrase: "confirm", Password: "12345678", MFACode: "000000"}))

	req := refundRequest(onConfirm)
	req.Phrase = "Hapus Toko"
	snap, err := c.Request(manager(), req)
	require.NoError(t, err)
	require.Equal(t, "Hapus Toko", snap.Phrase)
	require.True(t, IsValidation(c.Submit(ctx, Submission{Phrase: "CONFIRM", Password: "12345678", MFACode: "000000"})))
	require.NoError(t, c.Submit(ctx, Submission{Phrase: "HAPUS TOKO", Password: "12345678", MFACode: "000000"}))
	require.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestOptionalFactors(t *testing.T) {
	ctx := context.Background()
	calls, onConfirm := counter()
	c := NewConfirmation(Config{})

	no := false
	req := refundRequest(onConfirm)
	req.RequireMFA = &no
	snap, err := c.Request(manager(), req)
	require.NoError(t, err)
	require.True(t, snap.RequiresPassword)
	require.False(t, snap.RequiresMFA)
	require.NoError(t, c.Submit(ctx, Submission{Phrase: "CONFIRM", Password: "12345678"}))

	req.RequirePassword = &no
	_, err = c.Request(manager(), req)
	require.NoError(t, err)
	require.NoError(t, c.Submit(ctx, Submission{Phrase: "confirm"}))
	require.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestRequestRejectsSecondRequest(t *testing.T) {
	_, onConfirm := counter()
	c := NewConfirmation(Config{})

	first, err := c.Request(manager(), refundRequest(onConfirm))
	require.NoError(t, err)

	other := refundRequest(onConfirm)
	other.Action = "delete-store"
	_, err = c.Request(manager(), other)
	require.ErrorIs(t, err, ErrAlreadyPending)
	require.ErrorIs(t, err, httpx.ErrConflict)
	require.Equal(t, first.ID, c.Snapshot().ID)
	require.Equal(t, "refund", c.Snapshot().Action)
}

func TestRequestValidation(t *testing.T) {
	_, onConfirm := counter()
	c := NewConfirmation(Config{})

	_, err := c.Request(nil, refundRequest(onConfirm))
	require.ErrorIs(t, err, httpx.ErrUnauthorized)

	req := refundRequest(onConfirm)
	req.Action = ""
	_, err = c.Request(manager(), req)
	require.True(t, IsValidation(err))

	req = refundRequest(onConfirm)
	req.Permission = rbac.Permission{Module: "warehouse", Action: rbac.ActionView}
	_, err = c.Request(manager(), req)
	require.True(t, IsValidation(err))

	_, err = c.Request(manager(), refundRequest(nil))
	require.True(t, IsValidation(err))
	require.Equal(t, StateIdle, c.Snapshot().State)
}

func TestCancelDiscardsContinuation(t *testing.T) {
	ctx := context.Background()
	calls, onConfirm := counter()
	sink := &memorySink{}
	c := NewConfirmation(Config{Audit: sink})

	_, err := c.Request(manager(), refundRequest(onConfirm))
	require.NoError(t, err)
	require.True(t, IsValidation(c.Submit(ctx, Submission{Phrase: "CONFIRM", Password: "bad"})))
	require.NoError(t, c.Cancel(ctx))
	require.Equal(t, StateIdle, c.Snapshot().State)
	require.True(t, bufferEmpty(c))

	require.ErrorIs(t, c.Submit(ctx, Submission{Phrase: "CONFIRM", Password: "12345678", MFACode: "123456"}), ErrNoPendingRequest)
	require.Zero(t, atomic.LoadInt32(calls))
	require.NoError(t, c.Cancel(ctx))
}

func TestCancelDuringVerification(t *testing.T) {
	ctx := context.Background()
	calls, onConfirm := counter()
	entered := make(chan struct{})
	release := make(chan struct{})
	c := NewConfirmation(Config{
		Password: passwordFunc(func(context.Context, *rbac.Principal, string) error {
			close(entered)
			<-release
			return nil
		}),
	})
	_, err := c.Request(manager(), refundRequest(onConfirm))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- c.Submit(ctx, Submission{Phrase: "CONFIRM", Password: "12345678", MFACode: "123456"})
	}()
	<-entered
	require.Equal(t, StateVerifying, c.Snapshot().State)
	require.ErrorIs(t, c.Submit(ctx, Submission{Phrase: "CONFIRM"}), ErrVerificationInProgress)

	require.NoError(t, c.Cancel(ctx))
	close(release)
	require.ErrorIs(t, <-done, ErrCancelled)
	require.Zero(t, atomic.LoadInt32(calls))
	require.Equal(t, StateIdle, c.Snapshot().State)
	require.True(t, bufferEmpty(c))
}

func TestSubmitZeroesCapturedFactors(t *testing.T) {
	ctx := context.Background()
	var held []secrets
	var c *Confirmation
	c = NewConfirmation(Config{
		Password: passwordFunc(func(_ context.Context, _ *rbac.Principal, password string) error {
			c.mu.Lock()
			held = append(held, *c.inflight)
			c.mu.Unlock()
			if password != "correct-horse" {
				return errors.New("mismatch")
			}
			return nil
		}),
	})
	_, onConfirm := counter()
	_, err := c.Request(manager(), refundRequest(onConfirm))
	require.NoError(t, err)

	require.True(t, IsValidation(c.Submit(ctx, Submission{Phrase: "confirm", Password: "wrong-horse", MFACode: "123456"})))
	require.True(t, bufferEmpty(c))
	require.NoError(t, c.Submit(ctx, Submission{Phrase: "Confirm", Password: "correct-horse", MFACode: "123456"}))
	require.True(t, bufferEmpty(c))

	require.Len(t, held, 2)
	for _, f := range held {
		for _, b := range [][]byte{f.phrase, f.password, f.mfa} {
			require.NotEmpty(t, b)
			for _, v := range b {
				require.Zero(t, v)
			}
		}
	}
}

func TestMFACodeIsShapeCheckedWithoutVerifier(t *testing.T) {
	ctx := context.Background()
	calls, onConfirm := counter()
	c := NewConfirmation(Config{})
	_, err := c.Request(manager(), refundRequest(onConfirm))
	require.NoError(t, err)

	var verr *ValidationError
	require.ErrorAs(t, c.Submit(ctx, Submission{Phrase: "CONFIRM", Password: "12345678", MFACode: "١٢٣٤٥٦"}), &verr)
	require.Equal(t, "mfa_code", verr.Field)
	require.ErrorAs(t, c.Submit(ctx, Submission{Phrase: "CONFIRM", Password: "12345678", MFACode: " 12345"}), &verr)
	require.Equal(t, "mfa_code", verr.Field)

	require.NoError(t, c.Submit(ctx, Submission{Phrase: "CONFIRM", Password: "12345678", MFACode: "000000"}))
	require.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestVerifiersAndAudit(t *testing.T) {
	ctx := context.Background()
	calls, onConfirm := counter()
	sink := &memorySink{}
	var seenPassword, seenCode string
	c := NewConfirmation(Config{
		Audit: sink,
		Password: passwordFunc(func(_ context.Context, p *rbac.Principal, password string) error {
			seenPassword = password
			if password != "correct-horse" {
				return errors.New("mismatch")
			}
			return nil
		}),
		MFA: mfaFunc(func(_ context.Context, _ *rbac.Principal, code string) error {
			seenCode = code
			if code != "424242" {
				return errors.New("mismatch")
			}
			return nil
		}),
		Now: func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) },
	})
	_, err := c.Request(manager(), refundRequest(onConfirm))
	require.NoError(t, err)

	err = c.Submit(ctx, Submission{Phrase: "CONFIRM", Password: "wrong-horse", MFACode: "424242"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, ValidationError{Field: "password", Reason: "incorrect"}, *verr)

	err = c.Submit(ctx, Submission{Phrase: "CONFIRM", Password: "correct-horse", MFACode: "111111"})
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "mfa_code", verr.Field)
	require.Equal(t, "111111", seenCode)

	require.NoError(t, c.Submit(ctx, Submission{Phrase: "CONFIRM", Password: "correct-horse", MFACode: "424242"}))
	require.Equal(t, "correct-horse", seenPassword)
	require.EqualValues(t, 1, atomic.LoadInt32(calls))

	require.Equal(t, []string{
		audit.EventConfirmationFailed,
		audit.EventConfirmationFailed,
		audit.EventConfirmationPassed,
	}, sink.events())
	passed := sink.records[2].details
	require.Equal(t, "manager", passed[audit.DetailActorID])
	require.Equal(t, "pos.refund", passed["permission"])
	require.Equal(t, "order:1042", passed["target"])
	require.Equal(t, "2026-03-01T09:00:00Z", passed["timestamp"])
	require.Equal(t, "password", sink.records[0].details["field"])
	for _, r := range sink.records {
		for _, v := range r.details {
			require.NotEqual(t, "correct-horse", v)
			require.NotEqual(t, "wrong-horse", v)
		}
	}
}

func TestContinuationErrorIsReported(t *testing.T) {
	c := NewConfirmation(Config{})
	boom := errors.New("grant store unavailable")
	_, err := c.Request(manager(), refundRequest(func(context.Context) error { return boom }))
	require.NoError(t, err)

	err = c.Submit(context.Background(), Submission{Phrase: "CONFIRM", Password: "12345678", MFACode: "123456"})
	require.ErrorIs(t, err, boom)
	require.False(t, IsValidation(err))
	require.Equal(t, StateIdle, c.Snapshot().State)
}

func TestConfiguredPhrase(t *testing.T) {
	calls, onConfirm := counter()
	c := NewConfirmation(Config{Phrase: "SETUJU"})
	snap, err := c.Request(manager(), refundRequest(onConfirm))
	require.NoError(t, err)
	require.Equal(t, "SETUJU", snap.Phrase)
	require.True(t, IsValidation(c.Submit(context.Background(), Submission{Phrase: DefaultPhrase, Password: "12345678", MFACode: "123456"})))
	require.NoError(t, c.Submit(context.Background(), Submission{Phrase: "setuju", Password: "12345678", MFACode: "123456"}))
	require.EqualValues(t, 1, atomic.LoadInt32(calls))
}
