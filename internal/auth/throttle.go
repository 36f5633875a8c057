package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/warden-admin/warden/internal/shared"
)

// Throttle limits repeated login failures.
type Throttle interface {
	// Check returns shared.ErrTooManyAttempts when any key is over the limit.
	Check(ctx context.Context, keys ...string) error
	Fail(ctx context.Context, keys ...string)
	Reset(ctx context.Context, keys ...string)
}

// RedisThrottle counts failures in Redis with a fixed window per key.
type RedisThrottle struct {
	client      redis.UniversalClient
	maxAttempts int64
	window      time.Duration
	logger      *slog.Logger
}

// NewRedisThrottle constructs a RedisThrottle.
func NewRedisThrottle(client redis.UniversalClient, maxAttempts int, window time.Duration, logger *slog.Logger) *RedisThrottle {
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisThrottle{client: client, maxAttempts: int64(maxAttempts), window: window, logger: logger}
}

// UsernameKey is the throttle key for a normalised username.
func UsernameKey(username string) string {
	return "login:fail:user:" + username
}

// AddressKey is the throttle key for a client address.
func AddressKey(ip string) string {
	return "login:fail:ip:" + ip
}

// Check fails open when Redis is unavailable.
func (t *RedisThrottle) Check(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		count, err := t.client.Get(ctx, key).Int64()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			t.logger.WarnContext(ctx, "login throttle unavailable", slog.Any("error", err))
			return nil
		}
		if count >= t.maxAttempts {
			return fmt.Errorf("%w: %s", shared.ErrTooManyAttempts, key)
		}
	}
	return nil
}

// Fail increments every key, starting its window on the first failure.
func (t *RedisThrottle) Fail(ctx context.Context, keys ...string) {
	for _, key := range keys {
		count, err := t.client.Incr(ctx, key).Result()
		if err != nil {
			t.logger.WarnContext(ctx, "login throttle incr", slog.String("key", key), slog.Any("error", err))
			continue
		}
		if count == 1 {
			if err := t.client.Expire(ctx, key, t.window).Err(); err != nil {
				t.logger.WarnContext(ctx, "login throttle expire", slog.String("key", key), slog.Any("error", err))
			}
		}
	}
}

// Reset clears the counters.
func (t *RedisThrottle) Reset(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := t.client.Del(ctx, keys...).Err(); err != nil {
		t.logger.WarnContext(ctx, "login throttle reset", slog.Any("error", err))
	}
}

// NopThrottle never limits.
type NopThrottle struct{}

func (NopThrottle) Check(context.Context, ...string) error { return nil }
func (NopThrottle) Fail(context.Context, ...string)        {}
func (NopThrottle) Reset(context.Context, ...string)       {}
