package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MemoryDirectory keeps agents in an immutable map swapped atomically on every
// write. Lookups never take a lock; writers are serialized by mu.
type MemoryDirectory struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[map[string]Config]
	now      func() time.Time
}

func NewMemoryDirectory() *MemoryDirectory {
	d := &MemoryDirectory{now: func() time.Time { return time.Now().UTC() }}
	empty := make(map[string]Config)
	d.snapshot.Store(&empty)
	return d
}

func (d *MemoryDirectory) Lookup(_ context.Context, id string) (Config, error) {
	cfg, ok := (*d.snapshot.Load())[id]
	if !ok {
		return Config{}, ErrNotFound
	}
	return cfg, nil
}

func (d *MemoryDirectory) List(_ context.Context) ([]Config, error) {
	current := *d.snapshot.Load()
	out := make([]Config, 0, len(current))
	for _, cfg := range current {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (d *MemoryDirectory) Create(_ context.Context, cfg Config) (Config, error) {
	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	var out Config
	err := d.write(func(next map[string]Config) error {
		if _, exists := next[cfg.ID]; exists {
			return fmt.Errorf("%w: %s", ErrExists, cfg.ID)
		}
		now := d.now()
		cfg.CreatedAt = now
		cfg.UpdatedAt = now
		next[cfg.ID] = cfg
		out = cfg
		return nil
	})
	return out, err
}

func (d *MemoryDirectory) Update(_ context.Context, cfg Config) (Config, error) {
	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}

	var out Config
	err := d.write(func(next map[string]Config) error {
		prev, exists := next[cfg.ID]
		if !exists {
			return ErrNotFound
		}
		cfg.CreatedAt = prev.CreatedAt
		cfg.UpdatedAt = d.now()
		next[cfg.ID] = cfg
		out = cfg
		return nil
	})
	return out, err
}

func (d *MemoryDirectory) Delete(_ context.Context, id string) error {
	return d.write(func(next map[string]Config) error {
		if _, exists := next[id]; !exists {
			return ErrNotFound
		}
		delete(next, id)
		return nil
	})
}

func (d *MemoryDirectory) Close() error { return nil }

// write copies the current snapshot, applies fn and publishes the copy when fn succeeds.
func (d *MemoryDirectory) write(fn func(next map[string]Config) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := *d.snapshot.Load()
	next := make(map[string]Config, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	if err := fn(next); err != nil {
		return err
	}
	d.snapshot.Store(&next)
	return nil
}
