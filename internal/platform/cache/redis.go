package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// Connect creates a Redis client. An unreachable server is logged, not fatal:
// go-redis reconnects on the next command.
func Connect(ctx context.Context, addr string, logger *slog.Logger) *redis.Client {
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.String("addr", addr), slog.Any("error", err))
	}
	return client
}
