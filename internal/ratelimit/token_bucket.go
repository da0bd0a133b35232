package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

// TokenBucket is a token bucket kept in Redis so every agent process writing to
// the same record store draws from one budget.
type TokenBucket struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

// NewTokenBucket constructs a bucket with the provided capacity/refill.
func NewTokenBucket(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *TokenBucket {
	return &TokenBucket{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
	}
}

// Decision is the outcome of one token request.
type Decision struct {
	Allowed   bool
	Remaining float64
}

// Allow consumes a single token for key if one is available.
func (b *TokenBucket) Allow(ctx context.Context, key string) (Decision, error) {
	now := time.Now().UnixMilli()
	res, err := bucketScript.Run(ctx, b.client, []string{keyPrefix + key}, b.capacity, b.refill, now, b.ttl.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("token bucket %s: %w", key, err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return Decision{}, fmt.Errorf("token bucket %s: unexpected reply %T", key, res)
	}
	allowed, _ := arr[0].(int64)
	d := Decision{Allowed: allowed == 1}
	switch v := arr[1].(type) {
	case int64:
		d.Remaining = float64(v)
	case float64:
		d.Remaining = v
	}
	return d, nil
}

// Wait blocks until a token for key is granted or ctx is done.
func (b *TokenBucket) Wait(ctx context.Context, key string) error {
	retry := time.Second
	if b.refill > 0 {
		retry = time.Duration(float64(time.Second) / b.refill)
	}
	if retry < 10*time.Millisecond {
		retry = 10 * time.Millisecond
	}
	for {
		d, err := b.Allow(ctx, key)
		if err != nil {
			return err
		}
		if d.Allowed {
			return nil
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Lua returns the remaining count truncated to an integer; fractional refill is
// kept in the hash.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'updated_ms')
local tokens = tonumber(state[1]) or capacity
local updated = tonumber(state[2]) or now

local elapsed = math.max(0, now - updated)
tokens = math.min(capacity, tokens + elapsed / 1000 * refill)

local granted = 0
if tokens >= 1 then
  granted = 1
  tokens = tokens - 1
end

redis.call('HSET', key, 'tokens', tokens, 'updated_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {granted, math.floor(tokens)}
`)
