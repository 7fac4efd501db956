package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/EstebanCanales/novack-edge/internal/redis"
	"github.com/EstebanCanales/novack-edge/internal/telemetry"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	// Rate limit per second per IP
	RequestsPerSecond int
	// Burst size (token bucket capacity)
	BurstSize int
	// Whether to use Redis for distributed rate limiting
	UseRedis bool
	// Redis client (required if UseRedis is true)
	RedisClient *redis.Client
	// Key prefix for Redis
	KeyPrefix string
	// Cleanup interval for local rate limiter
	CleanupInterval time.Duration
	// Entry TTL for local rate limiter
	EntryTTL time.Duration
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         50,
		UseRedis:          false,
		KeyPrefix:         "ratelimit:",
		CleanupInterval:   time.Minute,
		EntryTTL:          time.Minute,
	}
}

// rateLimitEntry tracks rate limit state for an IP
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// LocalRateLimiter implements in-memory token bucket rate limiting
type LocalRateLimiter struct {
	config  RateLimitConfig
	entries sync.Map
	stop    chan struct{}
}

// NewLocalRateLimiter creates a new local rate limiter
func NewLocalRateLimiter(config RateLimitConfig) *LocalRateLimiter {
	rl := &LocalRateLimiter{
		config: config,
		stop:   make(chan struct{}),
	}

	go rl.cleanup()

	return rl
}

// Allow checks if a request should be allowed
func (rl *LocalRateLimiter) Allow(key string) bool {
	now := time.Now()

	entry, _ := rl.entries.LoadOrStore(key, &rateLimitEntry{
		tokens:     float64(rl.config.BurstSize),
		lastUpdate: now,
	})
	e := entry.(*rateLimitEntry)

	e.mu.Lock()
	defer e.mu.Unlock()

	elapsed := now.Sub(e.lastUpdate).Seconds()
	e.tokens = min(float64(rl.config.BurstSize), e.tokens+elapsed*float64(rl.config.RequestsPerSecond))
	e.lastUpdate = now

	if e.tokens >= 1 {
		e.tokens--
		return true
	}

	return false
}

// cleanup periodically removes stale entries
func (rl *LocalRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-rl.config.EntryTTL)
			rl.entries.Range(func(key, value interface{}) bool {
				e := value.(*rateLimitEntry)
				e.mu.Lock()
				if e.lastUpdate.Before(cutoff) {
					rl.entries.Delete(key)
				}
				e.mu.Unlock()
				return true
			})
		case <-rl.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (rl *LocalRateLimiter) Stop() {
	close(rl.stop)
}

// RedisRateLimiter implements Redis-based distributed rate limiting
type RedisRateLimiter struct {
	config RateLimitConfig
	script string
}

// NewRedisRateLimiter creates a new Redis rate limiter
func NewRedisRateLimiter(config RateLimitConfig) *RedisRateLimiter {
	// Lua script for atomic token bucket rate limiting
	script := `
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local requested = 1

local data = redis.call("HMGET", key, "tokens", "last_update")
local tokens = tonumber(data[1]) or burst
local last_update = tonumber(data[2]) or now

local elapsed = now - last_update
tokens = math.min(burst, tokens + elapsed * rate)

if tokens >= requested then
    tokens = tokens - requested
    redis.call("HMSET", key, "tokens", tokens, "last_update", now)
    redis.call("EXPIRE", key, 60)
    return 1
else
    redis.call("HMSET", key, "tokens", tokens, "last_update", now)
    redis.call("EXPIRE", key, 60)
    return 0
end
`
	return &RedisRateLimiter{
		config: config,
		script: script,
	}
}

// Allow checks if a request should be allowed using Redis
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(time.Now().UnixNano()) / 1e9

	result := rl.config.RedisClient.Eval(ctx, rl.script,
		[]string{rl.config.KeyPrefix + key},
		float64(rl.config.RequestsPerSecond),
		float64(rl.config.BurstSize),
		now,
	)
	if result.Err() != nil {
		return false, result.Err()
	}

	allowed, err := result.Int64()
	if err != nil {
		return false, err
	}

	return allowed == 1, nil
}

// RateLimiter creates a rate limiting middleware keyed by client IP
func RateLimiter(config RateLimitConfig) gin.HandlerFunc {
	var localLimiter *LocalRateLimiter
	var redisLimiter *RedisRateLimiter

	if config.UseRedis && config.RedisClient != nil {
		redisLimiter = NewRedisRateLimiter(config)
	} else {
		localLimiter = NewLocalRateLimiter(config)
	}

	return func(c *gin.Context) {
		ctx, span := telemetry.StartSpan(c.Request.Context(), "middleware.rate_limiter")
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		clientIP := c.ClientIP()
		span.SetAttributes(attribute.String("client_ip", clientIP))

		var allowed bool

		if redisLimiter != nil {
			var err error
			allowed, err = redisLimiter.Allow(ctx, clientIP)
			if err != nil {
				// Fail open on Redis errors
				allowed = true
			}
		} else {
			allowed = localLimiter.Allow(clientIP)
		}

		span.SetAttributes(attribute.Bool("allowed", allowed))

		remaining := config.BurstSize - 1
		if !allowed {
			remaining = 0
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(config.RequestsPerSecond))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Second).Unix(), 10))

		if !allowed {
			span.SetStatus(codes.Error, "rate limit exceeded")
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "TOO_MANY_REQUESTS",
				"message": "Rate limit exceeded. Please retry after 1 second.",
			})
			return
		}

		span.SetStatus(codes.Ok, "")
		c.Next()
	}
}
