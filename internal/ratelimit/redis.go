package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a fixed-window limiter backed by INCR and EXPIRE. When Redis is
// unreachable it fails open and logs the error.
type Redis struct {
	client  *redis.Client
	log     *slog.Logger
	prefix  string
	limit   int
	window  time.Duration
	timeout time.Duration
}

// NewRedis connects to rawURL (redis://host:port/db) and verifies the
// connection with a PING.
func NewRedis(ctx context.Context, rawURL, password, scope string, limit int, window time.Duration, log *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if password != "" {
		opts.Password = password
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return newRedis(client, scope, limit, window, log), nil
}

func newRedis(client *redis.Client, scope string, limit int, window time.Duration, log *slog.Logger) *Redis {
	if limit <= 0 {
		limit = defaultLimit
	}
	if window <= 0 {
		window = defaultWindow
	}
	return &Redis{
		client:  client,
		log:     log,
		prefix:  "ideahub:ratelimit:" + scope + ":",
		limit:   limit,
		window:  window,
		timeout: 250 * time.Millisecond,
	}
}

func (r *Redis) Allow(ctx context.Context, key string) Decision {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	redisKey := r.prefix + key
	count, err := r.client.Incr(ctx, redisKey).Result()
	if err != nil {
		r.log.Error("redis rate limiter error", "op", "incr", "err", err)
		return Decision{Allowed: true}
	}
	if count == 1 {
		if err := r.client.Expire(ctx, redisKey, r.window).Err(); err != nil {
			r.log.Error("redis rate limiter error", "op", "expire", "err", err)
		}
	}

	d := Decision{Allowed: int(count) <= r.limit, Count: int(count)}
	if !d.Allowed {
		ttl, err := r.client.TTL(ctx, redisKey).Result()
		if err != nil || ttl <= 0 {
			ttl = r.window
		}
		d.RetryAfter = ttl
	}
	return d
}

func (r *Redis) Close() error {
	return r.client.Close()
}
