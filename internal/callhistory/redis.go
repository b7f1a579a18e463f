package callhistory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	recordKeyPrefix = "voxline:call:"
	recordIndexKey  = "voxline:calls"
	defaultTTL      = 30 * 24 * time.Hour
)

// RedisStore keeps each record as a JSON value with a TTL and indexes ids in a
// sorted set scored by end time.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// NewRedisStoreFromURL parses a redis:// URL and verifies the server answers.
func NewRedisStoreFromURL(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewRedisStore(client, ttl), nil
}

func (s *RedisStore) Save(ctx context.Context, record Record) error {
	record = prepare(record)
	val, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(record.ID), val, s.ttl)
		pipe.ZAdd(ctx, recordIndexKey, redis.Z{Score: float64(record.EndedAt.UnixMilli()), Member: record.ID})
		// Index entries older than the value TTL point at expired keys.
		cutoff := time.Now().Add(-s.ttl).UnixMilli()
		pipe.ZRemRangeByScore(ctx, recordIndexKey, "-inf", fmt.Sprintf("(%d", cutoff))
		return nil
	})
	if err != nil {
		return fmt.Errorf("save call record: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, limit int) ([]Record, error) {
	limit = clampLimit(limit)
	ids, err := s.client.ZRevRange(ctx, recordIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list call ids: %w", err)
	}
	if len(ids) == 0 {
		return []Record{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load call records: %w", err)
	}

	out := make([]Record, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("decode call record: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (Record, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get call record: %w", err)
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, fmt.Errorf("decode call record: %w", err)
	}
	return r, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return recordKeyPrefix + id
}
