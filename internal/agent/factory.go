package agent

import (
	"context"
	"strings"
)

// NewStore creates a postgres-backed directory when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryDirectory(), nil
	}
	return NewPostgresDirectory(ctx, databaseURL)
}

// Mode names the backend of a store for health output.
func Mode(s Store) string {
	switch s.(type) {
	case *PostgresDirectory:
		return "postgres"
	case *MemoryDirectory:
		return "in-memory"
	default:
		return "custom"
	}
}
