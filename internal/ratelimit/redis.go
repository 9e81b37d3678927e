package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// allowScript increments the counter and starts the window on first use.
// It returns the count after increment and the remaining TTL in milliseconds.
var allowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// Redis shares buckets between processes through a Redis server.
type Redis struct {
	client redis.Scripter
	prefix string
	now    func() time.Time
}

// NewRedis creates a limiter backed by client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client, prefix: "ratelimit", now: time.Now}
}

func (r *Redis) redisKey(key Key) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, key.Operation, key.Actor)
}

// Allow atomically increments the shared bucket for key.
func (r *Redis) Allow(ctx context.Context, key Key, policy Policy) (Decision, error) {
	if err := policy.Validate(); err != nil {
		return Decision{}, err
	}

	res, err := allowScript.Run(ctx, r.client, []string{r.redisKey(key)}, policy.Window.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script: %w", err)
	}
	count, ttl, err := parseScriptResult(res)
	if err != nil {
		return Decision{}, err
	}

	resetAt := r.now().Add(time.Duration(ttl) * time.Millisecond)
	if count > int64(policy.Limit) {
		return Decision{Allowed: false, ResetAt: resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: policy.Limit - int(count), ResetAt: resetAt}, nil
}

func parseScriptResult(res interface{}) (int64, int64, error) {
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate limit script result %v", res)
	}
	count, ok1 := vals[0].(int64)
	ttl, ok2 := vals[1].(int64)
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("unexpected rate limit script result %v", res)
	}
	return count, ttl, nil
}
