package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Address  string
	Password string
	Database int
	Key      string
	Timeout  time.Duration
}

// DefaultRedisConfig returns defaults for an address.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address: address,
		Key:     "storeflow:state",
		Timeout: 5 * time.Second,
	}
}

// redisClient is the part of *redis.Client the backend uses.
type redisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// RedisBackend keeps the record as JSON under a single key.
type RedisBackend struct {
	cfg    RedisConfig
	client redisClient
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.Database,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisBackend{cfg: cfg, client: client}, nil
}

// Name returns "redis".
func (b *RedisBackend) Name() string { return "redis" }

// Load reads the key.
func (b *RedisBackend) Load(ctx context.Context) (*RunState, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := b.client.Get(ctx, b.cfg.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", b.cfg.Key, err)
	}
	return decode(data)
}

// Save overwrites the key without expiry.
func (b *RedisBackend) Save(ctx context.Context, st *RunState) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	data, err := encode(st)
	if err != nil {
		return err
	}
	if err := b.client.Set(ctx, b.cfg.Key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", b.cfg.Key, err)
	}
	return nil
}

// Close releases the connection pool.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

var _ Backend = (*RedisBackend)(nil)
