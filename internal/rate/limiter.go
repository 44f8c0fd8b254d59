package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "login-throttle:ip:"

// Config holds limiter tuning parameters. MaxAttempts <= 0 disables the limiter.
type Config struct {
	MaxAttempts int
	Window      time.Duration
}

// Limiter counts failed logins per client IP.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

func (l *Limiter) enabled(ip string) bool {
	return l != nil && l.config.MaxAttempts > 0 && ip != ""
}

func ipKey(ip string) string { return keyPrefix + ip }

// Check returns ErrRateLimited when ip already used up its failure budget.
func (l *Limiter) Check(ctx context.Context, ip string) error {
	if !l.enabled(ip) {
		return nil
	}
	count, err := l.redis.Get(ctx, ipKey(ip)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// Hit records one failed login from ip and returns the count in the current window.
func (l *Limiter) Hit(ctx context.Context, ip string) (int64, error) {
	if !l.enabled(ip) {
		return 0, nil
	}
	key := ipKey(ip)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}

// Reset clears the counter for ip.
func (l *Limiter) Reset(ctx context.Context, ip string) error {
	if !l.enabled(ip) {
		return nil
	}
	if err := l.redis.Del(ctx, ipKey(ip)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
