// Package ratelimiter implements the C2 per-domain token bucket: a Redis
// Lua script holds the authoritative bucket state, mirrored to Postgres
// so bucket levels survive a Redis restart, with idle domains evicted
// after a TTL.
package ratelimiter

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/jervisai/jervis/internal/domain"
)

// Limiter acquires a token for a domain, suspending until one is
// available. Per §4.2, acquisition is a timed wait, never an error.
type Limiter interface {
	Acquire(ctx context.Context, domainName string) error
}

// BucketConfig is a domain's token-bucket shape, derived from a
// Connection's RateLimitConfig.
type BucketConfig struct {
	Capacity   float64
	RefillRate float64 // tokens per second
}

// FromConnectionConfig derives a BucketConfig from the per-connection
// override carried on domain.RateLimitConfig.
func FromConnectionConfig(cfg domain.RateLimitConfig) BucketConfig {
	if !cfg.Enabled {
		return BucketConfig{}
	}
	rate := cfg.MaxRequestsPerSecond
	if rate <= 0 && cfg.MaxRequestsPerMinute > 0 {
		rate = cfg.MaxRequestsPerMinute / 60.0
	}
	capacity := math.Max(rate, 1)
	return BucketConfig{Capacity: capacity, RefillRate: rate}
}

type bucketEntry struct {
	cfg        BucketConfig
	lastSeenAt time.Time
}

// DomainLimiter is the C2 implementation: a Lua token-bucket script run
// against Redis, mirrored to a Postgres table, with idle domain entries
// evicted after evictAfter of inactivity.
type DomainLimiter struct {
	redis      *redis.Client
	pool       *pgxpool.Pool
	script     *redis.Script
	evictAfter time.Duration

	mu      sync.RWMutex
	buckets map[string]*bucketEntry
}

// NewDomainLimiter constructs a DomainLimiter. pool may be nil, in which
// case the Postgres mirror is skipped (suitable for tests).
func NewDomainLimiter(rdb *redis.Client, pool *pgxpool.Pool, evictAfter time.Duration) *DomainLimiter {
	if evictAfter <= 0 {
		evictAfter = 30 * time.Minute
	}
	return &DomainLimiter{
		redis:      rdb,
		pool:       pool,
		script:     redis.NewScript(luaTokenBucketScript),
		evictAfter: evictAfter,
		buckets:    map[string]*bucketEntry{},
	}
}

// Configure registers or updates the bucket for domainName, derived from
// the owning connection's RateLimitConfig.
func (l *DomainLimiter) Configure(domainName string, cfg BucketConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[domainName] = &bucketEntry{cfg: cfg, lastSeenAt: time.Now()}
}

// Acquire blocks (via a bounded backoff loop) until a token for
// domainName is available, or ctx is done. A domain with no registered
// bucket, or a disabled one, is an immediate no-op pass-through.
func (l *DomainLimiter) Acquire(ctx context.Context, domainName string) error {
	for {
		allowed, retryAfter, err := l.tryAcquire(ctx, domainName)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		if retryAfter <= 0 {
			retryAfter = 50 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryAfter):
		}
	}
}

func (l *DomainLimiter) tryAcquire(ctx context.Context, domainName string) (bool, time.Duration, error) {
	l.mu.Lock()
	entry, ok := l.buckets[domainName]
	if ok {
		entry.lastSeenAt = time.Now()
	}
	l.evictIdleLocked()
	l.mu.Unlock()

	if !ok || entry.cfg.Capacity <= 0 || entry.cfg.RefillRate <= 0 {
		return true, 0, nil
	}
	if l.redis == nil {
		return true, 0, nil
	}

	now := float64(time.Now().UnixNano()) / 1e9
	redisKey := "ratelimit:domain:" + domainName
	res, err := l.script.Run(ctx, l.redis, []string{redisKey}, entry.cfg.Capacity, entry.cfg.RefillRate, now, 1).Result()
	if err != nil {
		slog.Error("rate limiter script error, failing open", slog.String("domain", domainName), slog.Any("error", err))
		return true, 0, nil
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) < 4 {
		return true, 0, nil
	}
	allowed := toInt64(vals[0]) == 1
	tokens := toFloat64(vals[1])
	lastRefill := toFloat64(vals[2])
	retryAfter := time.Duration(toFloat64(vals[3]) * float64(time.Second))

	if l.pool != nil {
		l.mirrorToPostgres(ctx, domainName, entry.cfg, tokens, lastRefill)
	}
	return allowed, retryAfter, nil
}

// evictIdleLocked drops bucket entries untouched for longer than
// evictAfter (§4.2 "idle domain state is evicted after a TTL"). Caller
// must hold l.mu.
func (l *DomainLimiter) evictIdleLocked() {
	cutoff := time.Now().Add(-l.evictAfter)
	for k, e := range l.buckets {
		if e.lastSeenAt.Before(cutoff) {
			delete(l.buckets, k)
		}
	}
}

const luaTokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] ~= false and data[1] ~= nil then
  tokens = tonumber(data[1])
end
if data[2] ~= false and data[2] ~= nil then
  last_refill = tonumber(data[2])
end

local delta = now - last_refill
if delta < 0 then
  delta = 0
end

tokens = math.min(capacity, tokens + delta * refill_rate)
last_refill = now

local allowed = 0
local retry_after = 0

if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  local shortage = cost - tokens
  if refill_rate > 0 then
    retry_after = shortage / refill_rate
  end
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 3600)

return { allowed, tokens, last_refill, retry_after }
`

func (l *DomainLimiter) mirrorToPostgres(ctx context.Context, domainName string, cfg BucketConfig, tokens, lastRefillSec float64) {
	sec := int64(lastRefillSec)
	nsec := int64((lastRefillSec - float64(sec)) * 1e9)
	if nsec < 0 {
		nsec = 0
	}
	lastRefill := time.Unix(sec, nsec)

	_, err := l.pool.Exec(ctx,
		`INSERT INTO rate_limit_buckets (domain, capacity, refill_rate, tokens, last_refill)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (domain) DO UPDATE SET
		   capacity = EXCLUDED.capacity,
		   refill_rate = EXCLUDED.refill_rate,
		   tokens = EXCLUDED.tokens,
		   last_refill = EXCLUDED.last_refill`,
		domainName, cfg.Capacity, cfg.RefillRate, tokens, lastRefill,
	)
	if err != nil {
		slog.Error("failed to mirror rate limit bucket to postgres", slog.String("domain", domainName), slog.Any("error", err))
	}
}

// WarmFromPostgres reloads every bucket's last known level from the
// durable mirror into Redis on start-up, so a Redis restart doesn't
// silently reset every domain to full capacity.
func (l *DomainLimiter) WarmFromPostgres(ctx context.Context) error {
	if l.pool == nil || l.redis == nil {
		return nil
	}
	rows, err := l.pool.Query(ctx, `SELECT domain, tokens, EXTRACT(EPOCH FROM last_refill) FROM rate_limit_buckets`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var domainName string
		var tokens, lastRefillSec float64
		if err := rows.Scan(&domainName, &tokens, &lastRefillSec); err != nil {
			return err
		}
		redisKey := "ratelimit:domain:" + domainName
		if err := l.redis.HMSet(ctx, redisKey, "tokens", tokens, "last_refill", lastRefillSec).Err(); err != nil {
			slog.Error("failed to warm redis bucket from postgres", slog.String("domain", domainName), slog.Any("error", err))
		}
	}
	return rows.Err()
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return math.NaN()
	}
}
