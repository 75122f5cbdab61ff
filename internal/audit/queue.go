package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// TaskRecord adalah tipe task asynq untuk persistensi event audit.
const TaskRecord = "audit:record"

// Enqueuer adalah bagian dari asynq.Client yang dipakai QueueSink.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueSink mengirim event ke antrean asynq agar worker mempersistenkannya.
type QueueSink struct {
	client  Enqueuer
	queue   string
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewQueueSink membuat QueueSink di atas client asynq.
func NewQueueSink(client Enqueuer, queue string, logger *slog.Logger) *QueueSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueSink{client: client, queue: queue, logger: logger, timeout: 2 * time.Second, now: time.Now}
}

// NewRecordTask membungkus entry sebagai task asynq.
func NewRecordTask(entry Entry) (*asynq.Task, error) {
	body, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRecord, body), nil
}

// DecodeRecordTask membaca entry dari payload task.
func DecodeRecordTask(t *asynq.Task) (Entry, error) {
	var entry Entry
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// LogAction mengantrekan event. Kegagalan hanya dicatat di log lokal.
func (s *QueueSink) LogAction(ctx context.Context, event, category string, details map[string]any) {
	if s == nil || s.client == nil {
		return
	}
	entry := NewEntry(event, category, details, s.now())
	task, err := NewRecordTask(entry)
	if err != nil {
		s.logger.Warn("audit encode", slog.String("event", event), slog.Any("error", err))
		return
	}
	enqueueCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	if _, err := s.client.EnqueueContext(enqueueCtx, task, asynq.Queue(s.queue), asynq.MaxRetry(5)); err != nil {
		s.logger.Warn("audit enqueue", slog.String("event", event), slog.Any("error", err))
	}
}
