package callhistory

import (
	"context"
	"strings"
	"time"
)

// NewStore picks the backend: postgres when configured, then redis, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL, redisURL string, ttl time.Duration) (Store, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresStore(ctx, databaseURL)
	}
	if strings.TrimSpace(redisURL) != "" {
		return NewRedisStoreFromURL(ctx, redisURL, ttl)
	}
	return NewInMemoryStore(), nil
}

// Mode names the backend of a store for health output.
func Mode(s Store) string {
	switch s.(type) {
	case *PostgresStore:
		return "postgres"
	case *RedisStore:
		return "redis"
	case *InMemoryStore:
		return "in-memory"
	default:
		return "custom"
	}
}
