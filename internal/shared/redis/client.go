package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// ErrNotFound is returned by Get when the key does not exist
var ErrNotFound = errors.New("key not found")

type Client struct {
	client *redis.Client
}

// New creates a new Redis client
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redis ping failed: %w", err)
	}

	return &Client{client: client}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Get retrieves a value by key
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

// Set stores a value with TTL
func (c *Client) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// slidingWindowScript prunes entries at or before the window start, then
// records the request only when the remaining count is under the limit.
//
// KEYS[1] window key
// ARGV[1] window start (ms), ARGV[2] now (ms), ARGV[3] limit,
// ARGV[4] unique member, ARGV[5] key ttl (ms)
var slidingWindowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[3]) then
  return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

// AdmitSlidingWindow records a request in a sorted-set window if fewer than
// limit requests fall inside (now-window, now]. It returns true when the
// request was recorded.
func (c *Client) AdmitSlidingWindow(ctx context.Context, key string, now time.Time, window time.Duration, limit int) (bool, error) {
	nowMs := now.UnixMilli()
	start := nowMs - window.Milliseconds()

	res, err := slidingWindowScript.Run(ctx, c.client, []string{key},
		start, nowMs, limit, uuid.NewString(), window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("sliding window check failed: %w", err)
	}
	return res == 1, nil
}
