package repositories

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

// recordFailureScript increments a counter hash and applies the window TTL.
// KEYS: hash, ip index, user index
// ARGV: now (unix ms), ttl (ms, 0 = permanent), fixed (1/0), client key, ip, username
var recordFailureScript = redis.NewScript(`
local count = redis.call('HINCRBY', KEYS[1], 'count', 1)
redis.call('HSETNX', KEYS[1], 'first', ARGV[1])
redis.call('HSET', KEYS[1], 'last', ARGV[1], 'key', ARGV[4], 'ip', ARGV[5], 'user', ARGV[6])

local ttl = tonumber(ARGV[2])
if ttl > 0 then
  if ARGV[3] == '0' or count == 1 then
    redis.call('PEXPIRE', KEYS[1], ttl)
  end
else
  redis.call('PERSIST', KEYS[1])
end

local function index(set, member)
  if member == '' then return end
  redis.call('SADD', set, KEYS[1])
  if ttl > 0 then
    if redis.call('PTTL', set) < ttl then
      redis.call('PEXPIRE', set, ttl)
    end
  else
    redis.call('PERSIST', set)
  end
end
index(KEYS[2], ARGV[5])
index(KEYS[3], ARGV[6])

return {count, redis.call('HGET', KEYS[1], 'first'), redis.call('PTTL', KEYS[1])}
`)

// clearScript deletes a counter hash and unlinks it from its index sets.
// KEYS: hash; ARGV: index key prefix
var clearScript = redis.NewScript(`
local count = redis.call('HGET', KEYS[1], 'count')
if not count then return 0 end
local ip = redis.call('HGET', KEYS[1], 'ip')
local user = redis.call('HGET', KEYS[1], 'user')
redis.call('DEL', KEYS[1])
if ip and ip ~= '' then redis.call('SREM', ARGV[1] .. 'ip:' .. ip, KEYS[1]) end
if user and user ~= '' then redis.call('SREM', ARGV[1] .. 'user:' .. user, KEYS[1]) end
return tonumber(count)
`)

// CounterRepository is the Redis counting cache. Each client key maps to one
// hash; increments happen inside a Lua script so they are atomic for every
// process sharing the server.
type CounterRepository struct {
	client redis.UniversalClient
	prefix string
}

// NewCounterRepository creates a new CounterRepository. Keys are namespaced by prefix.
func NewCounterRepository(client redis.UniversalClient, prefix string) *CounterRepository {
	return &CounterRepository{client: client, prefix: prefix}
}

func (r *CounterRepository) hashKey(clientKey string) string {
	sum := blake2b.Sum256([]byte(clientKey))
	return r.prefix + "attempts:" + hex.EncodeToString(sum[:])
}

func (r *CounterRepository) indexPrefix() string {
	return r.prefix + "idx:"
}

func (r *CounterRepository) ipIndex(ip string) string {
	return r.indexPrefix() + "ip:" + ip
}

func (r *CounterRepository) userIndex(username string) string {
	return r.indexPrefix() + "user:" + username
}

// Append is a no-op; the cache keeps counters only
func (r *CounterRepository) Append(ctx context.Context, _ *models.AccessAttempt) error {
	return storageError(ctx.Err())
}

func (r *CounterRepository) RecordFailure(ctx context.Context, attempt *models.AccessAttempt, policy models.CoolOffPolicy) (models.FailureCounter, error) {
	fixed := "0"
	if policy.Window == models.WindowFixed {
		fixed = "1"
	}
	var ttl int64
	if !policy.Permanent() {
		ttl = policy.Duration.Milliseconds()
	}

	now := attempt.AttemptTime
	res, err := recordFailureScript.Run(ctx, r.client,
		[]string{
			r.hashKey(attempt.ClientKey),
			r.ipIndex(attempt.IPAddress),
			r.userIndex(attempt.Username),
		},
		now.UnixMilli(), ttl, fixed, attempt.ClientKey, attempt.IPAddress, attempt.Username,
	).Slice()
	if err != nil {
		return models.FailureCounter{}, storageError(err)
	}
	if len(res) != 3 {
		return models.FailureCounter{}, fmt.Errorf("%w: unexpected script reply %v", models.ErrStorage, res)
	}

	count, _ := res[0].(int64)
	first, _ := res[1].(string)
	pttl, _ := res[2].(int64)

	return cacheCounter(int(count), first, strconv.FormatInt(now.UnixMilli(), 10), pttl, now), nil
}

func (r *CounterRepository) CountFailures(ctx context.Context, key string, _ models.CoolOffPolicy, now time.Time) (models.FailureCounter, error) {
	hash := r.hashKey(key)

	var (
		fields *redis.MapStringStringCmd
		pttl   *redis.DurationCmd
	)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		fields = pipe.HGetAll(ctx, hash)
		pttl = pipe.PTTL(ctx, hash)
		return nil
	})
	if err != nil {
		return models.FailureCounter{}, storageError(err)
	}

	values := fields.Val()
	count, err := strconv.Atoi(values["count"])
	if err != nil || count == 0 {
		return models.FailureCounter{}, nil
	}

	return cacheCounter(count, values["first"], values["last"], pttl.Val().Milliseconds(), now), nil
}

// cacheCounter converts the hash fields. A negative PTTL means the key has no expiry.
func cacheCounter(count int, first, last string, pttlMillis int64, now time.Time) models.FailureCounter {
	c := models.FailureCounter{
		Count:       count,
		WindowStart: fromMillis(first),
		LastFailure: fromMillis(last),
	}
	if pttlMillis > 0 {
		expires := now.Add(time.Duration(pttlMillis) * time.Millisecond)
		c.ExpiresAt = &expires
	}
	return c
}

func fromMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (r *CounterRepository) clearHash(ctx context.Context, hash string) (int64, error) {
	n, err := clearScript.Run(ctx, r.client, []string{hash}, r.indexPrefix()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, storageError(err)
	}
	return n, nil
}

func (r *CounterRepository) Clear(ctx context.Context, key string) (int64, error) {
	return r.clearHash(ctx, r.hashKey(key))
}

func (r *CounterRepository) ClearMatching(ctx context.Context, filter models.ResetFilter) (int64, error) {
	var (
		members []string
		err     error
	)

	switch {
	case filter.IsEmpty():
		return r.clearAll(ctx)
	case filter.IPAddress != "" && filter.Username != "":
		members, err = r.client.SInter(ctx, r.ipIndex(filter.IPAddress), r.userIndex(filter.Username)).Result()
	case filter.IPAddress != "":
		members, err = r.client.SMembers(ctx, r.ipIndex(filter.IPAddress)).Result()
	default:
		members, err = r.client.SMembers(ctx, r.userIndex(filter.Username)).Result()
	}
	if err != nil {
		return 0, storageError(err)
	}

	var removed int64
	for _, hash := range members {
		n, err := r.clearHash(ctx, hash)
		if err != nil {
			return removed, err
		}
		removed += n
	}
	return removed, nil
}

// clearAll removes every counter and index under the prefix
func (r *CounterRepository) clearAll(ctx context.Context) (int64, error) {
	var removed int64

	iter := r.client.Scan(ctx, 0, r.prefix+"attempts:*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := r.clearHash(ctx, iter.Val())
		if err != nil {
			return removed, err
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, storageError(err)
	}

	idx := r.client.Scan(ctx, 0, r.indexPrefix()+"*", 100).Iterator()
	for idx.Next(ctx) {
		if err := r.client.Del(ctx, idx.Val()).Err(); err != nil {
			return removed, storageError(err)
		}
	}
	return removed, storageError(idx.Err())
}

func (r *CounterRepository) Ping(ctx context.Context) error {
	return storageError(r.client.Ping(ctx).Err())
}
