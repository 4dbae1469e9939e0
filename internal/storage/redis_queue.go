package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"moodpair/backend/internal/clock"
	"moodpair/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix keeps every queue key in one cluster hash slot.
const DefaultRedisPrefix = "{moodpair}:"

// Key layout under the prefix:
//
//	queue:tag:<tag>     ZSET  user -> created (µs)
//	queue:all           ZSET  user -> created (µs)
//	queue:expiry        ZSET  user -> expires (µs)
//	queue:entry:<user>  HASH  tag, created, expires
//
// All mutations run as Lua scripts so a claim is a single atomic step.

var claimScript = redis.NewScript(`
local prefix, requester, tag, now = ARGV[1], ARGV[2], ARGV[3], tonumber(ARGV[4])
local source = prefix .. 'queue:all'
if tag ~= '' then
  source = prefix .. 'queue:tag:' .. tag
end
local ids = redis.call('ZRANGE', source, 0, -1)
for _, id in ipairs(ids) do
  if id ~= requester then
    local key = prefix .. 'queue:entry:' .. id
    local entry = redis.call('HMGET', key, 'tag', 'created', 'expires')
    local expires = entry[3] and tonumber(entry[3])
    if entry[1] and expires and expires >= now then
      redis.call('ZREM', prefix .. 'queue:tag:' .. entry[1], id)
      redis.call('ZREM', prefix .. 'queue:all', id)
      redis.call('ZREM', prefix .. 'queue:expiry', id)
      redis.call('DEL', key)
      return {id, entry[1], entry[2], entry[3]}
    end
  end
end
return false
`)

var enqueueScript = redis.NewScript(`
local prefix, user, tag, created, expires = ARGV[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5]
local key = prefix .. 'queue:entry:' .. user
local old = redis.call('HGET', key, 'tag')
if old then
  redis.call('ZREM', prefix .. 'queue:tag:' .. old, user)
end
redis.call('HSET', key, 'tag', tag, 'created', created, 'expires', expires)
redis.call('ZADD', prefix .. 'queue:tag:' .. tag, created, user)
redis.call('ZADD', prefix .. 'queue:all', created, user)
redis.call('ZADD', prefix .. 'queue:expiry', expires, user)
return 1
`)

var removeScript = redis.NewScript(`
local prefix, user = ARGV[1], ARGV[2]
local key = prefix .. 'queue:entry:' .. user
local tag = redis.call('HGET', key, 'tag')
if tag then
  redis.call('ZREM', prefix .. 'queue:tag:' .. tag, user)
end
redis.call('ZREM', prefix .. 'queue:all', user)
redis.call('ZREM', prefix .. 'queue:expiry', user)
return redis.call('DEL', key)
`)

var evictScript = redis.NewScript(`
local prefix = ARGV[1]
local ids = redis.call('ZRANGEBYSCORE', prefix .. 'queue:expiry', '-inf', '(' .. ARGV[2])
for _, id in ipairs(ids) do
  local key = prefix .. 'queue:entry:' .. id
  local tag = redis.call('HGET', key, 'tag')
  if tag then
    redis.call('ZREM', prefix .. 'queue:tag:' .. tag, id)
  end
  redis.call('ZREM', prefix .. 'queue:all', id)
  redis.call('ZREM', prefix .. 'queue:expiry', id)
  redis.call('DEL', key)
end
return #ids
`)

// RedisQueue is the matching queue backed by sorted sets.
type RedisQueue struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisQueue(rdb *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisQueue{rdb: rdb, prefix: prefix}
}

func (q *RedisQueue) TryMatch(ctx context.Context, userID, emotionTag string, now time.Time) (*models.QueueEntry, error) {
	res, err := claimScript.Run(ctx, q.rdb, nil, q.prefix, userID, emotionTag, now.UnixMicro()).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parseClaim(res)
}

func parseClaim(res []interface{}) (*models.QueueEntry, error) {
	if len(res) != 4 {
		return nil, fmt.Errorf("redis queue: unexpected claim reply of %d fields", len(res))
	}
	fields := make([]string, len(res))
	for i, v := range res {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("redis queue: unexpected claim field %T", v)
		}
		fields[i] = s
	}
	created, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis queue: created: %w", err)
	}
	expires, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis queue: expires: %w", err)
	}
	return &models.QueueEntry{
		UserID:     fields[0],
		EmotionTag: fields[1],
		CreatedAt:  time.UnixMicro(created).UTC(),
		ExpiresAt:  time.UnixMicro(expires).UTC(),
	}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, userID, emotionTag string, now time.Time, ttl time.Duration) (*models.QueueEntry, error) {
	entry := &models.QueueEntry{
		UserID:     userID,
		EmotionTag: emotionTag,
		CreatedAt:  now.Truncate(time.Microsecond),
		ExpiresAt:  clock.ExpiresAt(now, ttl).Truncate(time.Microsecond),
	}
	if err := q.put(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (q *RedisQueue) Requeue(ctx context.Context, entry *models.QueueEntry) error {
	return q.put(ctx, entry)
}

func (q *RedisQueue) put(ctx context.Context, e *models.QueueEntry) error {
	return enqueueScript.Run(ctx, q.rdb, nil,
		q.prefix, e.UserID, e.EmotionTag, e.CreatedAt.UnixMicro(), e.ExpiresAt.UnixMicro()).Err()
}

func (q *RedisQueue) Remove(ctx context.Context, userID string) error {
	return removeScript.Run(ctx, q.rdb, nil, q.prefix, userID).Err()
}

func (q *RedisQueue) EvictExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := evictScript.Run(ctx, q.rdb, nil, q.prefix, now.UnixMicro()).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.ZCard(ctx, q.prefix+"queue:all").Result()
	return int(n), err
}

// Ping checks the Redis connection behind the queue.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}
