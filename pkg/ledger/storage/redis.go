package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// applyScript checks and applies a reservation atomically.
//
// KEYS[1..n]     bucket hashes
// KEYS[n+1]      index of every bucket
// KEYS[n+2..2n+1] per-target indexes, one per bucket
// ARGV[1..4]     delta per dimension
// ARGV[5]        updated_at (unix nanos)
// then 12 args per bucket: has_limit, 4 limits, expire_at, target, period,
// period_start, period_end, feature, action.
//
// Returns {denied, totals...} where denied is the 1-based index of the first
// bucket without headroom (0 when applied) followed by four totals per bucket.
var applyScript = redis.NewScript(`
local n = (#KEYS - 1) / 2
local fields = {"actions", "spend", "db_writes", "content_mutations"}
local stride = 12

local denied = 0
for i = 1, n do
    local base = 5 + (i - 1) * stride
    if ARGV[base + 1] == "1" then
        for d = 1, 4 do
            local delta = tonumber(ARGV[d])
            if delta > 0 then
                local cur = tonumber(redis.call("HGET", KEYS[i], fields[d]) or "0")
                if cur + delta > tonumber(ARGV[base + 1 + d]) then
                    denied = i
                    break
                end
            end
        end
    end
    if denied > 0 then
        break
    end
end

if denied == 0 then
    for i = 1, n do
        local base = 5 + (i - 1) * stride
        for d = 1, 4 do
            local v = redis.call("HINCRBY", KEYS[i], fields[d], ARGV[d])
            if v < 0 then
                redis.call("HSET", KEYS[i], fields[d], 0)
            end
        end
        redis.call("HSET", KEYS[i], "updated_at", ARGV[5], "target", ARGV[base + 7],
            "period", ARGV[base + 8], "period_start", ARGV[base + 9], "period_end", ARGV[base + 10])
        if ARGV[base + 11] ~= "" then
            redis.call("HSET", KEYS[i], "feature", ARGV[base + 11])
        end
        if ARGV[base + 12] ~= "" then
            redis.call("HSET", KEYS[i], "action", ARGV[base + 12])
        end
        redis.call("EXPIREAT", KEYS[i], ARGV[base + 6])
        redis.call("SADD", KEYS[n + 1], KEYS[i])
        redis.call("SADD", KEYS[n + 1 + i], KEYS[i])
    end
end

local out = {denied}
for i = 1, n do
    local vals = redis.call("HMGET", KEYS[i], "actions", "spend", "db_writes", "content_mutations")
    for d = 1, 4 do
        table.insert(out, tonumber(vals[d] or "0") or 0)
    end
end
return out
`)

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix namespaces every key (default: "governor:ledger:").
	KeyPrefix string
}

// RedisBackend shares buckets between instances through Redis. Reservations
// run as a Lua script, so the check and the increments are one atomic step
// across every instance.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedisBackendWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisBackendWithClient wraps an existing client.
func NewRedisBackendWithClient(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "governor:ledger:"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) bucketKey(key string) string   { return r.prefix + "bucket:" + key }
func (r *RedisBackend) targetKey(target string) string { return r.prefix + "target:" + target }
func (r *RedisBackend) allKey() string                 { return r.prefix + "buckets" }

// Get returns the bucket for key.
func (r *RedisBackend) Get(ctx context.Context, key string) (*Bucket, error) {
	fields, err := r.client.HGetAll(ctx, r.bucketKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load bucket: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parseBucket(key, fields), nil
}

// Add applies delta unconditionally.
func (r *RedisBackend) Add(ctx context.Context, b *Bucket, delta Counters) (*Bucket, error) {
	res, err := r.Reserve(ctx, []Reservation{{Bucket: b}}, delta)
	if err != nil {
		return nil, err
	}
	return res.Buckets[0], nil
}

// Reserve runs the apply script.
func (r *RedisBackend) Reserve(ctx context.Context, reservations []Reservation, delta Counters) (*ReserveResult, error) {
	n := len(reservations)
	if n == 0 {
		return &ReserveResult{Granted: true, Denied: -1}, nil
	}

	keys := make([]string, 0, 2*n+1)
	for _, res := range reservations {
		if err := validateBucket(res.Bucket); err != nil {
			return nil, err
		}
		keys = append(keys, r.bucketKey(res.Bucket.Key))
	}
	keys = append(keys, r.allKey())
	for _, res := range reservations {
		keys = append(keys, r.targetKey(res.Bucket.Target))
	}

	updated := time.Now()
	if u := reservations[0].Bucket.UpdatedAt; !u.IsZero() {
		updated = u
	}

	args := []any{delta.Actions, delta.Spend, delta.DBWrites, delta.ContentMutations, updated.UnixNano()}
	for _, res := range reservations {
		b := res.Bucket
		hasLimit, limit := "0", Counters{}
		if res.Limit != nil {
			hasLimit, limit = "1", *res.Limit
		}
		args = append(args,
			hasLimit, limit.Actions, limit.Spend, limit.DBWrites, limit.ContentMutations,
			expireAt(b).Unix(), b.Target, b.Period, b.PeriodStart.Unix(), b.PeriodEnd.Unix(),
			b.Feature, b.Action,
		)
	}

	raw, err := applyScript.Run(ctx, r.client, keys, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ledger error: %w", err)
	}
	vals, ok := raw.([]interface{})
	if !ok || len(vals) != 1+4*n {
		return nil, fmt.Errorf("invalid response from ledger script")
	}

	denied, _ := vals[0].(int64)
	result := &ReserveResult{Denied: int(denied) - 1, Granted: denied == 0, Buckets: make([]*Bucket, n)}
	for i, res := range reservations {
		b := *res.Bucket
		b.Counters = Counters{
			Actions:          toInt64(vals[1+4*i]),
			Spend:            toInt64(vals[2+4*i]),
			DBWrites:         toInt64(vals[3+4*i]),
			ContentMutations: toInt64(vals[4+4*i]),
		}
		b.UpdatedAt = updated
		result.Buckets[i] = &b
	}
	if !result.Granted {
		if lim := reservations[result.Denied].Limit; lim != nil {
			result.Exceeded = result.Buckets[result.Denied].Counters.Exceeds(delta, *lim)
		}
	}
	return result, nil
}

// List returns the buckets for target, or all buckets when target is empty.
// Index entries whose hash has expired are dropped as a side effect.
func (r *RedisBackend) List(ctx context.Context, target string) ([]*Bucket, error) {
	index := r.allKey()
	if target != "" {
		index = r.targetKey(target)
	}

	members, err := r.client.SMembers(ctx, index).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list buckets: %w", err)
	}

	var out []*Bucket
	for _, m := range members {
		fields, err := r.client.HGetAll(ctx, m).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load bucket: %w", err)
		}
		if len(fields) == 0 {
			r.client.SRem(ctx, index, m)
			continue
		}
		out = append(out, parseBucket(m[len(r.bucketKey("")):], fields))
	}
	sortBuckets(out)
	return out, nil
}

// DeleteExpired removes buckets whose period ended before the cutoff. Redis
// key expiry already removes most of them.
func (r *RedisBackend) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	members, err := r.client.SMembers(ctx, r.allKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list buckets: %w", err)
	}

	removed := 0
	for _, m := range members {
		fields, err := r.client.HMGet(ctx, m, "period_end", "target").Result()
		if err != nil {
			return removed, fmt.Errorf("failed to load bucket: %w", err)
		}
		endStr, _ := fields[0].(string)
		target, _ := fields[1].(string)
		if endStr == "" {
			r.client.SRem(ctx, r.allKey(), m)
			continue
		}
		end, _ := strconv.ParseInt(endStr, 10, 64)
		if !time.Unix(end, 0).Before(before) {
			continue
		}

		_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, m)
			pipe.SRem(ctx, r.allKey(), m)
			pipe.SRem(ctx, r.targetKey(target), m)
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("failed to delete bucket: %w", err)
		}
		removed++
	}
	return removed, nil
}

// Close closes the client.
func (r *RedisBackend) Close() error {
	return r.client.Close()
}

// expireAt keeps a bucket for one further period after it ends so recent
// history stays queryable.
func expireAt(b *Bucket) time.Time {
	return b.PeriodEnd.Add(b.PeriodEnd.Sub(b.PeriodStart))
}

func parseBucket(key string, f map[string]string) *Bucket {
	b := &Bucket{
		Key:     key,
		Target:  f["target"],
		Period:  f["period"],
		Feature: f["feature"],
		Action:  f["action"],
		Counters: Counters{
			Actions:          parseInt(f["actions"]),
			Spend:            parseInt(f["spend"]),
			DBWrites:         parseInt(f["db_writes"]),
			ContentMutations: parseInt(f["content_mutations"]),
		},
	}
	b.PeriodStart = time.Unix(parseInt(f["period_start"]), 0)
	b.PeriodEnd = time.Unix(parseInt(f["period_end"]), 0)
	b.UpdatedAt = time.Unix(0, parseInt(f["updated_at"]))
	return b
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		return parseInt(n)
	default:
		return 0
	}
}
