package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/keyxmakerx/schoolhub/internal/apperror"
)

// RateLimiter counts requests per key in fixed windows stored in Redis, so
// limits hold across every instance behind the load balancer.
type RateLimiter struct {
	redis  *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewRateLimiter creates a limiter allowing limit requests per window for
// each key. Keys are stored as "<prefix>:<key>".
func NewRateLimiter(rdb *redis.Client, prefix string, limit int, window time.Duration) *RateLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RateLimiter{redis: rdb, prefix: prefix, limit: limit, window: window}
}

// Allow increments the counter for key and reports whether the request is
// within the limit. On a Redis error the request is allowed and the error
// returned for logging.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := rl.prefix + ":" + key

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("redis error: %w", err)
	}

	// Only a key without expiry gets one, so the window does not slide.
	if ttl.Val() < 0 {
		if err := rl.redis.Expire(ctx, redisKey, rl.window).Err(); err != nil {
			return true, fmt.Errorf("redis error: %w", err)
		}
	}

	return incr.Val() <= int64(rl.limit), nil
}

// RetryAfter returns how long until key's window resets.
func (rl *RateLimiter) RetryAfter(ctx context.Context, key string) time.Duration {
	ttl, err := rl.redis.TTL(ctx, rl.prefix+":"+key).Result()
	if err != nil || ttl <= 0 {
		return rl.window
	}
	return ttl
}

// Middleware limits requests per client IP. Exceeding the limit returns 429
// with a Retry-After header.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			key := "ip:" + c.RealIP()

			allowed, err := rl.Allow(ctx, key)
			if err != nil {
				slog.Warn("rate limiter unavailable, allowing request",
					slog.String("prefix", rl.prefix),
					slog.Any("error", err),
				)
				return next(c)
			}
			if !allowed {
				retry := rl.RetryAfter(ctx, key)
				c.Response().Header().Set("Retry-After", strconv.Itoa(int(retry.Round(time.Second).Seconds())))
				return apperror.NewTooManyRequests("rate limit exceeded, please try again later")
			}
			return next(c)
		}
	}
}

// RateLimit picks the Redis limiter when rdb is set and the in-memory one
// otherwise. A non-positive maxRequests disables limiting.
func RateLimit(rdb *redis.Client, name string, maxRequests int, window time.Duration) echo.MiddlewareFunc {
	if maxRequests <= 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	if rdb != nil {
		return NewRateLimiter(rdb, "ratelimit:"+name, maxRequests, window).Middleware()
	}
	return LocalRateLimit(maxRequests, window)
}

// rateLimitEntry tracks request counts for a single IP within a time window.
type rateLimitEntry struct {
	count       int
	windowStart time.Time
}

// LocalRateLimit limits requests per IP to maxRequests within window using
// process memory. Counts are not shared between instances.
func LocalRateLimit(maxRequests int, window time.Duration) echo.MiddlewareFunc {
	var mu sync.Mutex
	entries := make(map[string]*rateLimitEntry)
	lastSweep := time.Now()

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			now := time.Now()

			mu.Lock()
			if now.Sub(lastSweep) > window {
				for k, e := range entries {
					if now.Sub(e.windowStart) > window {
						delete(entries, k)
					}
				}
				lastSweep = now
			}

			entry, exists := entries[ip]
			if !exists || now.Sub(entry.windowStart) > window {
				entries[ip] = &rateLimitEntry{count: 1, windowStart: now}
				mu.Unlock()
				return next(c)
			}

			entry.count++
			exceeded := entry.count > maxRequests
			retry := window - now.Sub(entry.windowStart)
			mu.Unlock()

			if exceeded {
				c.Response().Header().Set("Retry-After", strconv.Itoa(max(1, int(retry.Round(time.Second).Seconds()))))
				return apperror.NewTooManyRequests("rate limit exceeded, please try again later")
			}
			return next(c)
		}
	}
}
