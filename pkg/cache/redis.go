// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/garantiatsverga/master-of-tg-ads/pkg/core"
)

// RedisConfig configures the Redis cache.
type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	TTL      time.Duration `koanf:"ttl"`
	Prefix   string        `koanf:"prefix"`
}

// Redis stores results as JSON in Redis. Numbers come back as float64
// after the round trip.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// RedisOption configures a Redis cache.
type RedisOption func(*Redis)

// WithLogger sets the logger used for transport errors.
func WithLogger(logger *slog.Logger) RedisOption {
	return func(r *Redis) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTTL sets the entry lifetime. Zero keeps entries forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = ttl }
}

// WithPrefix namespaces every key.
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: "tgads:cache:",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DialRedis connects using cfg and verifies the connection with PING.
func DialRedis(ctx context.Context, cfg RedisConfig, opts ...RedisOption) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	base := []RedisOption{WithTTL(cfg.TTL)}
	if cfg.Prefix != "" {
		base = append(base, WithPrefix(cfg.Prefix))
	}
	return NewRedis(client, append(base, opts...)...), nil
}

// Get implements Cache. Transport and decode errors count as misses.
func (r *Redis) Get(ctx context.Context, key string) (core.Result, bool) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		r.logger.WarnContext(ctx, "cache get failed", "key", key, "error", err)
		return nil, false
	}
	var out core.Result
	if err := json.Unmarshal(data, &out); err != nil {
		r.logger.WarnContext(ctx, "cache entry undecodable", "key", key, "error", err)
		return nil, false
	}
	return out, true
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, key string, value core.Result) {
	data, err := json.Marshal(value)
	if err != nil {
		r.logger.WarnContext(ctx, "cache value not encodable", "key", key, "error", err)
		return
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		r.logger.WarnContext(ctx, "cache set failed", "key", key, "error", err)
	}
}

// Ping reports whether Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
