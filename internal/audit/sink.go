package audit

import (
	"context"
	"log/slog"
	"time"
)

// Sink menerima event audit secara fire-and-forget. Implementasi tidak boleh
// memblokir pemanggil dan tidak boleh mengembalikan error ke pengguna.
type Sink interface {
	LogAction(ctx context.Context, event, category string, details map[string]any)
}

// NopSink membuang semua event.
type NopSink struct{}

// LogAction tidak melakukan apa pun.
func (NopSink) LogAction(context.Context, string, string, map[string]any) {}

// LogSink menulis event ke slog.
type LogSink struct {
	Logger *slog.Logger
}

// LogAction mencatat event sebagai baris log terstruktur.
func (s LogSink) LogAction(ctx context.Context, event, category string, details map[string]any) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	entry := NewEntry(event, category, details, time.Now())
	logger.InfoContext(ctx, "audit event",
		slog.String("event", entry.Event),
		slog.String("category", entry.Category),
		slog.String("actor_id", entry.ActorID),
		slog.Any("details", entry.Details),
	)
}

// MultiSink meneruskan event ke beberapa sink.
type MultiSink []Sink

// LogAction meneruskan event ke setiap sink secara berurutan.
func (m MultiSink) LogAction(ctx context.Context, event, category string, details map[string]any) {
	for _, sink := range m {
		if sink == nil {
			continue
		}
		sink.LogAction(ctx, event, category, details)
	}
}

// OrNop mengembalikan sink, atau NopSink bila nil.
func OrNop(sink Sink) Sink {
	if sink == nil {
		return NopSink{}
	}
	return sink
}
