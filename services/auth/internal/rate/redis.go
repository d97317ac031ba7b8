package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "portal:auth:login:"

// loginScript charges one attempt to every key in KEYS. ARGV holds the limit
// for each key in the same order, followed by the window in milliseconds.
var loginScript = redis.NewScript(`
local window_ms = tonumber(ARGV[#ARGV])
local allowed = 1
local retry = 0

for i, key in ipairs(KEYS) do
  local current = redis.call("INCR", key)
  if current == 1 then
    redis.call("PEXPIRE", key, window_ms)
  end
  if current > tonumber(ARGV[i]) then
    allowed = 0
    local ttl = redis.call("PTTL", key)
    if ttl < 0 then
      ttl = window_ms
    end
    if ttl > retry then
      retry = ttl
    end
  end
end

return {allowed, retry}
`)

// RedisLimiter shares login counters across auth replicas.
type RedisLimiter struct {
	client *redis.Client
	policy Policy
	prefix string
}

func NewRedisLimiter(client *redis.Client, policy Policy, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisLimiter{client: client, policy: policy, prefix: prefix}
}

func (l *RedisLimiter) Allow(ctx context.Context, a Attempt, _ time.Time) (bool, time.Duration, error) {
	windowMS := int64(l.policy.Window / time.Millisecond)
	if windowMS <= 0 {
		return false, 0, fmt.Errorf("invalid rate limit window")
	}

	counters := l.policy.counters(a)
	keys := make([]string, 0, len(counters))
	args := make([]any, 0, len(counters)+1)
	for _, c := range counters {
		keys = append(keys, l.prefix+c.key)
		args = append(args, c.limit)
	}
	args = append(args, windowMS)

	res, err := loginScript.Run(ctx, l.client, keys, args...).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("unexpected redis response")
	}

	retryAfter := time.Duration(res[1]) * time.Millisecond
	if retryAfter < 0 {
		retryAfter = 0
	}
	return res[0] == 1, retryAfter, nil
}

func (l *RedisLimiter) Forgive(ctx context.Context, a Attempt) error {
	key := accountKey(a.Email)
	if key == "" {
		return nil
	}
	return l.client.Del(ctx, l.prefix+key).Err()
}
