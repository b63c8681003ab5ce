package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// hashKey is the Redis hash holding the whole store, one field per phone key.
const hashKey = "wabridge:conversations"

// RedisBackend persists the store in a single Redis hash. HSET on one field
// is atomic, which gives the same per-conversation upsert guarantee as the
// Postgres backend.
type RedisBackend struct {
	rdb *redis.Client
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, addr, password string) (*RedisBackend, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisBackend{rdb: rdb}, nil
}

// LoadAll reads every conversation field from the hash.
func (b *RedisBackend) LoadAll(ctx context.Context) (Snapshot, error) {
	fields, err := b.rdb.HGetAll(ctx, hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read conversations hash: %w", err)
	}

	snapshot := make(Snapshot, len(fields))
	for key, payload := range fields {
		var conv Conversation
		if err := json.Unmarshal([]byte(payload), &conv); err != nil {
			return nil, fmt.Errorf("decode conversation %q: %w", key, err)
		}
		snapshot[key] = &conv
	}
	return snapshot, nil
}

// UpsertConversation writes one hash field atomically.
func (b *RedisBackend) UpsertConversation(ctx context.Context, c *Conversation) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	return b.rdb.HSet(ctx, hashKey, c.PhoneKey, payload).Err()
}

// SaveAll replaces the hash wholesale in one transaction.
func (b *RedisBackend) SaveAll(ctx context.Context, s Snapshot) error {
	pipe := b.rdb.TxPipeline()
	pipe.Del(ctx, hashKey)
	for key, conv := range s {
		payload, err := json.Marshal(conv)
		if err != nil {
			return fmt.Errorf("encode conversation %q: %w", key, err)
		}
		pipe.HSet(ctx, hashKey, key, payload)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Close releases the Redis client.
func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}
