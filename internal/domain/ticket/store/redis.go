package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis constructs a Redis-backed Ticket Store. Redis's own key TTL
// provides expiry for the production deployment path.
func NewRedis(cfg Config) (Store, error) {
	if cfg.Redis == nil || cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "ticket:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &redisStore{client: client, ttl: ttl, prefix: prefix}, nil
}

func (s *redisStore) key(id string) string {
	return s.prefix + id
}

func (s *redisStore) Put(ctx context.Context, id string, t Ticket, ttl time.Duration) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	expiry := ttl
	if expiry <= 0 {
		expiry = s.ttl
	}
	return s.client.Set(ctx, s.key(id), data, expiry).Err()
}

// ConsumeAndDelete uses Redis's GETDEL, which atomically fetches and
// removes a key server-side — stronger than the original's separate
// get-then-delete, and exactly what the one-shot invariant requires.
func (s *redisStore) ConsumeAndDelete(ctx context.Context, id string) (Ticket, bool, error) {
	raw, err := s.client.GetDel(ctx, s.key(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Ticket{}, false, nil
		}
		return Ticket{}, false, err
	}
	var t Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return Ticket{}, false, err
	}
	if t.Used || t.Expired(time.Now()) {
		return Ticket{}, false, nil
	}
	return t, true, nil
}

func (s *redisStore) CleanupExpired(context.Context) (int, error) {
	// Redis removes expired keys itself; there is nothing to sweep.
	return 0, nil
}

func (s *redisStore) Stats(ctx context.Context) (map[string]any, error) {
	var cursor uint64
	active := 0
	pattern := s.prefix + "*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		active += len(keys)
		if next == 0 {
			break
		}
		cursor = next
	}
	return map[string]any{
		"type":        "redis",
		"active":      active,
		"ttl_seconds": int(s.ttl.Seconds()),
	}, nil
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}
