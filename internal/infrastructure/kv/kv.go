package kv

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is the set-if-absent store used for idempotency markers.
type KV interface {
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
}

// RedisKV adapts a go-redis client to KV.
type RedisKV struct{ R *redis.Client }

func (r RedisKV) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return r.R.SetNX(ctx, key, value, ttl).Result()
}

// Memory is a process local KV. Expired keys are dropped lazily.
type Memory struct {
	mu   sync.Mutex
	now  func() time.Time
	keys map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{now: time.Now, keys: make(map[string]time.Time)}
}

func (m *Memory) SetNX(ctx context.Context, key string, _ string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, ok := m.keys[key]; ok && (exp.IsZero() || now.Before(exp)) {
		return false, nil
	}
	var exp time.Time
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	m.keys[key] = exp
	return true, nil
}
