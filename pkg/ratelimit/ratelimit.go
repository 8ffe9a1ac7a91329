// Package ratelimit is the tenant-scoped submission rate limiter feeding
// the platform's `rate_limited` error code. Grounded on
// core/pkg/kernel/limiter.go/limiter_redis.go's token-bucket shape,
// generalized from a single actorID bucket into the tenant+subject keying
// the gateway's submission boundary needs, and split into a Redis-backed
// Limiter for multi-instance deployments (the teacher's Lua-scripted
// atomic bucket) and an in-process fallback for single-instance or test
// use.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Policy bounds one actor's request rate.
type Policy struct {
	// RequestsPerMinute is the sustained refill rate.
	RequestsPerMinute int
	// Burst is the maximum token accumulation (and the largest single
	// cost a request can ever pay).
	Burst int
}

// Limiter decides whether an actor may proceed.
type Limiter interface {
	// Allow reports whether key may consume cost tokens under policy
	// right now.
	Allow(ctx context.Context, key string, policy Policy, cost int) (bool, error)
}

// Key builds the bucket identity rate limiting scopes on: a tenant and a
// subject (user, agent, or service) submitting within it, so one noisy
// caller cannot exhaust another's budget within the same tenant.
func Key(tenantID, subject string) string {
	return tenantID + ":" + subject
}

// redisTokenBucketScript mirrors core/pkg/kernel/limiter_redis.go's Lua
// script: refill by elapsed time * rate, consume cost if enough tokens
// remain, persist state with a self-cleaning expiry.
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    local added = elapsed * rate
    tokens = tokens + added
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 60)

return {allowed, tokens}
`)

// RedisLimiter is the multi-instance Limiter backed by an atomic
// Lua-scripted token bucket in Redis.
type RedisLimiter struct {
	client *redis.Client
}

// NewRedisLimiter wraps an existing Redis client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client}
}

// Allow runs the token bucket script for key.
func (l *RedisLimiter) Allow(ctx context.Context, key string, policy Policy, cost int) (bool, error) {
	ratePerSec := float64(policy.RequestsPerMinute) / 60.0
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	burst := policy.Burst
	if burst <= 0 {
		burst = policy.RequestsPerMinute
	}
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := redisTokenBucketScript.Run(ctx, l.client, []string{"ratelimit:" + key}, ratePerSec, burst, cost, now).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis script: %w", err)
	}
	results, ok := res.([]interface{})
	if !ok || len(results) != 2 {
		return false, fmt.Errorf("ratelimit: unexpected script response shape")
	}
	allowed, _ := results[0].(int64)
	return allowed == 1, nil
}

// InProcessLimiter is the single-instance fallback, one
// golang.org/x/time/rate.Limiter per key.
type InProcessLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewInProcessLimiter constructs an empty in-process Limiter.
func NewInProcessLimiter() *InProcessLimiter {
	return &InProcessLimiter{buckets: make(map[string]*rate.Limiter)}
}

func (l *InProcessLimiter) Allow(_ context.Context, key string, policy Policy, cost int) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		ratePerSec := rate.Limit(float64(policy.RequestsPerMinute) / 60.0)
		if ratePerSec <= 0 {
			ratePerSec = 1
		}
		burst := policy.Burst
		if burst <= 0 {
			burst = policy.RequestsPerMinute
		}
		b = rate.NewLimiter(ratePerSec, burst)
		l.buckets[key] = b
	}
	return b.AllowN(time.Now(), cost), nil
}

// Guard is the service-facing entry point: check the submission boundary
// before the caller does any further work, returning a ready-to-surface
// error when the budget is exhausted.
type Guard struct {
	limiter Limiter
	policy  func(tenantID string) Policy
}

// NewGuard builds a Guard. policyFor resolves the per-tenant policy; a nil
// value falls back to a conservative default (60 requests/minute, burst 10)
// for every tenant.
func NewGuard(limiter Limiter, policyFor func(tenantID string) Policy) *Guard {
	if policyFor == nil {
		policyFor = func(string) Policy { return Policy{RequestsPerMinute: 60, Burst: 10} }
	}
	return &Guard{limiter: limiter, policy: policyFor}
}

// Check consumes one token for (tenantID, subject), returning false when
// the caller must be rejected with the platform's rate_limited error code.
func (g *Guard) Check(ctx context.Context, tenantID, subject string) (bool, error) {
	ok, err := g.limiter.Allow(ctx, Key(tenantID, subject), g.policy(tenantID), 1)
	if err != nil {
		return false, fmt.Errorf("ratelimit: check: %w", err)
	}
	return ok, nil
}
