package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/retail-console/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries security events that must not wait behind bulk work.
	QueueCritical = "critical"

	// TaskAuditRecord persists one audit entry. The payload is produced by audit.QueueSink.
	TaskAuditRecord = audit.TaskRecord
	// TaskTouchLastLogin stamps users.last_login_at after a successful resolution.
	TaskTouchLastLogin = "auth:touch_last_login"
	// TaskAuditPurge drops audit entries past the retention window.
	TaskAuditPurge = "audit:purge"
)

// TouchLastLoginPayload identifies the identity that signed in.
type TouchLastLoginPayload struct {
	IdentityID string    `json:"identity_id"`
	At         time.Time `json:"at"`
}

// NewTouchLastLoginTask constructs an Asynq task for TaskTouchLastLogin.
func NewTouchLastLoginTask(identityID string, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(TouchLastLoginPayload{IdentityID: identityID, At: at.UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTouchLastLogin, body), nil
}

// AuditPurgePayload configures the retention window in days.
type AuditPurgePayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewAuditPurgeTask constructs an Asynq task for TaskAuditPurge.
func NewAuditPurgeTask(retentionDays int) (*asynq.Task, error) {
	body, err := json.Marshal(AuditPurgePayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPurge, body, asynq.Queue(QueueDefault)), nil
}

func decode(t *asynq.Task, dst any) error {
	if err := json.Unmarshal(t.Payload(), dst); err != nil {
		return asynq.SkipRetry
	}
	return nil
}

// withTimeout bounds a single task run.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 30*time.Second)
}
