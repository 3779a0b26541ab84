package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis client with the counter and list operations the
// security stores need
type Client struct {
	rdb *redis.Client
}

// NewClient connects to url and verifies the connection
func NewClient(url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// consumeScript increments KEYS[1] only while it is below ARGV[1]; the first
// increment sets the window expiry ARGV[2] in milliseconds.
var consumeScript = redis.NewScript(`
local c = tonumber(redis.call('GET', KEYS[1]) or '0')
if c >= tonumber(ARGV[1]) then
  return {c, redis.call('PTTL', KEYS[1]), 0}
end
c = redis.call('INCR', KEYS[1])
if c == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {c, redis.call('PTTL', KEYS[1]), 1}
`)

// ConsumeWindow atomically increments key if it is below limit. It returns the
// count after the call, the remaining window lifetime and whether it consumed.
func (c *Client) ConsumeWindow(ctx context.Context, key string, limit int, window time.Duration) (int64, time.Duration, bool, error) {
	res, err := consumeScript.Run(ctx, c.rdb, []string{key}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, false, fmt.Errorf("consume window %s: %w", key, err)
	}
	if len(res) != 3 {
		return 0, 0, false, fmt.Errorf("consume window %s: unexpected reply %v", key, res)
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, res[2] == 1, nil
}

// Counter reads a counter and its remaining lifetime. A missing key reads as 0.
func (c *Client) Counter(ctx context.Context, key string) (int64, time.Duration, error) {
	var get *redis.StringCmd
	var ttl *redis.DurationCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, key)
		ttl = pipe.PTTL(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, fmt.Errorf("read counter %s: %w", key, err)
	}
	if errors.Is(get.Err(), redis.Nil) {
		return 0, 0, nil
	}
	n, err := strconv.ParseInt(get.Val(), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse counter %s: %w", key, err)
	}
	return n, ttl.Val(), nil
}

// PushCapped prepends value to a list, keeps only the newest keep entries,
// refreshes the list TTL and returns the retained entries newest first.
func (c *Client) PushCapped(ctx context.Context, key, value string, keep int, ttl time.Duration) ([]string, error) {
	var rng *redis.StringSliceCmd
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, value)
		pipe.LTrim(ctx, key, 0, int64(keep-1))
		pipe.Expire(ctx, key, ttl)
		rng = pipe.LRange(ctx, key, 0, -1)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("push capped %s: %w", key, err)
	}
	return rng.Val(), nil
}

// Delete removes a key
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}
