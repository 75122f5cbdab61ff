package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/retail-console/internal/audit"
	jobmetrics "github.com/odyssey-erp/retail-console/internal/jobs"
)

// AuditStore persists and expires audit entries.
type AuditStore interface {
	Record(ctx context.Context, entry audit.Entry) error
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// LoginStore stamps the last successful login of an identity.
type LoginStore interface {
	TouchLastLogin(ctx context.Context, identityID string) error
}

// SecurityJobs handles the audit and login bookkeeping tasks.
type SecurityJobs struct {
	Audit   AuditStore
	Logins  LoginStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSecurityJobs initialises the handlers.
func NewSecurityJobs(store AuditStore, logins LoginStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *SecurityJobs {
	return &SecurityJobs{
		Audit:   store,
		Logins:  logins,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handlers lists the task registrations for the worker.
func (j *SecurityJobs) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskAuditRecord, Handler: j.HandleAuditRecord},
		{Type: TaskTouchLastLogin, Handler: j.HandleTouchLastLogin},
		{Type: TaskAuditPurge, Handler: j.HandleAuditPurge},
	}
}

// HandleAuditRecord writes one queued audit entry.
func (j *SecurityJobs) HandleAuditRecord(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Audit == nil {
		return errors.New("audit record: handler not configured")
	}
	tracker := j.Metrics.Track(TaskAuditRecord)
	defer func() { err = tracker.End(err) }()

	entry, derr := audit.DecodeRecordTask(t)
	if derr != nil {
		j.logger().Warn("audit record: bad payload", slog.Any("error", derr))
		return asynq.SkipRetry
	}
	if entry.Event == "" || entry.Category == "" {
		return fmt.Errorf("audit record: incomplete entry: %w", asynq.SkipRetry)
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	if err := j.Audit.Record(ctx, entry); err != nil {
		j.logger().Error("audit record failed", slog.String("event", entry.Event), slog.Any("error", err))
		return err
	}
	return nil
}

// HandleTouchLastLogin updates the login timestamp of an identity.
func (j *SecurityJobs) HandleTouchLastLogin(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Logins == nil {
		return errors.New("touch last login: handler not configured")
	}
	tracker := j.Metrics.Track(TaskTouchLastLogin)
	defer func() { err = tracker.End(err) }()

	var payload TouchLastLoginPayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	if payload.IdentityID == "" {
		return fmt.Errorf("touch last login: identity required: %w", asynq.SkipRetry)
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return j.Logins.TouchLastLogin(ctx, payload.IdentityID)
}

// HandleAuditPurge removes entries older than the retention window.
func (j *SecurityJobs) HandleAuditPurge(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Audit == nil {
		return errors.New("audit purge: handler not configured")
	}
	tracker := j.Metrics.Track(TaskAuditPurge)
	defer func() { err = tracker.End(err) }()

	var payload AuditPurgePayload
	if err := decode(t, &payload); err != nil {
		return err
	}
	if payload.RetentionDays <= 0 {
		payload.RetentionDays = 365
	}
	before := j.now().AddDate(0, 0, -payload.RetentionDays)
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	removed, err := j.Audit.Purge(ctx, before)
	if err != nil {
		j.logger().Error("audit purge failed", slog.Any("error", err))
		return err
	}
	j.logger().Info("audit purge",
		slog.Int64("removed", removed),
		slog.Time("before", before),
	)
	return nil
}

func (j *SecurityJobs) now() time.Time {
	if j.clock == nil {
		return time.Now().UTC()
	}
	return j.clock()
}

func (j *SecurityJobs) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
