package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mrmushfiq/truecompanion-gateway/internal/gateway/providers"
	"github.com/mrmushfiq/truecompanion-gateway/internal/shared/redis"
)

// Entry is a cached generation
type Entry struct {
	Response  string    `json:"response"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

// Cache stores exact-match responses in Redis
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

// New creates a new cache instance
func New(redisClient *redis.Client, ttl time.Duration) *Cache {
	return &Cache{redis: redisClient, ttl: ttl}
}

// generateCacheKey hashes everything that determines the upstream output
func generateCacheKey(provider, prompt string, cfg providers.GenerationConfig) string {
	keyData := fmt.Sprintf("%s:%v:%v:%s", provider, cfg.Temperature, cfg.MaxOutputTokens, prompt)
	hash := sha256.Sum256([]byte(keyData))
	return "cache:exact:" + hex.EncodeToString(hash[:])
}

// Get retrieves a cached response. A miss returns redis.ErrNotFound.
func (c *Cache) Get(ctx context.Context, provider, prompt string, cfg providers.GenerationConfig) (*Entry, error) {
	val, err := c.redis.Get(ctx, generateCacheKey(provider, prompt, cfg))
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, fmt.Errorf("failed to deserialize cached response: %w", err)
	}
	return &entry, nil
}

// Set stores a response for the cache TTL
func (c *Cache) Set(ctx context.Context, provider, prompt string, cfg providers.GenerationConfig, response string) error {
	data, err := json.Marshal(Entry{Response: response, Provider: provider, CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to serialize response: %w", err)
	}
	return c.redis.Set(ctx, generateCacheKey(provider, prompt, cfg), string(data), c.ttl)
}
