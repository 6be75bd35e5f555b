package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vizulabs-com/vizpilot-mcp/pkg/config"
	"github.com/vizulabs-com/vizpilot-mcp/pkg/logger"
)

// Key namespaces, one per cache category.
const (
	protocolKeyFormat = "protocol:%s"
	steeringKeyFormat = "steering:%s"
	userKeyFormat     = "user:%s"
	technologiesKey   = "technologies:all"
)

// Cache is a read-through cache over Redis with a time-to-live per content
// category. Cached values are always the pre-watermark content, so a hit is
// safe to serve to any authorized caller. The cache is a performance
// optimization only: every error degrades to a miss or is logged and
// ignored, never surfaced to the request.
type Cache struct {
	client *redis.Client
	ttls   config.CacheTTLs
	logger *logger.Logger
}

// New creates a cache using the category TTLs from cfg.
func New(client *redis.Client, cfg *config.Config, logger *logger.Logger) *Cache {
	return &Cache{
		client: client,
		ttls:   cfg.CacheTTL,
		logger: logger,
	}
}

// Get unmarshals the cached value for key into dest and reports whether the
// key was present. Store errors count as misses.
func (c *Cache) Get(ctx context.Context, key string, dest interface{}) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		c.logger.Warnf("Cache get error for %s: %v", key, err)
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Warnf("Cache entry for %s is malformed, dropping: %v", key, err)
		c.Invalidate(ctx, key)
		return false
	}
	return true
}

// Set writes value under key with the given TTL. Failures are logged and
// ignored.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warnf("Cache serialize error for %s: %v", key, err)
		return
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.Warnf("Cache set error for %s: %v", key, err)
	}
}

// Invalidate removes a single key. Removing an absent key is a no-op.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warnf("Cache delete error for %s: %v", key, err)
	}
}

// InvalidatePattern removes every key matching pattern.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warnf("Cache delete error for %s: %v", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Warnf("Cache scan error for %s: %v", pattern, err)
	}
}

// Category helpers

func (c *Cache) GetProtocol(ctx context.Context, protocolID string, dest interface{}) bool {
	return c.Get(ctx, fmt.Sprintf(protocolKeyFormat, protocolID), dest)
}

func (c *Cache) SetProtocol(ctx context.Context, protocolID string, value interface{}) {
	c.Set(ctx, fmt.Sprintf(protocolKeyFormat, protocolID), value, c.ttls.Protocol)
}

func (c *Cache) InvalidateProtocol(ctx context.Context, protocolID string) {
	c.Invalidate(ctx, fmt.Sprintf(protocolKeyFormat, protocolID))
}

func (c *Cache) GetSteeringRules(ctx context.Context, technologySlug string, dest interface{}) bool {
	return c.Get(ctx, fmt.Sprintf(steeringKeyFormat, technologySlug), dest)
}

func (c *Cache) SetSteeringRules(ctx context.Context, technologySlug string, value interface{}) {
	c.Set(ctx, fmt.Sprintf(steeringKeyFormat, technologySlug), value, c.ttls.SteeringRules)
}

func (c *Cache) GetUserInfo(ctx context.Context, userID string, dest interface{}) bool {
	return c.Get(ctx, fmt.Sprintf(userKeyFormat, userID), dest)
}

func (c *Cache) SetUserInfo(ctx context.Context, userID string, value interface{}) {
	c.Set(ctx, fmt.Sprintf(userKeyFormat, userID), value, c.ttls.UserInfo)
}

func (c *Cache) InvalidateUserInfo(ctx context.Context, userID string) {
	c.Invalidate(ctx, fmt.Sprintf(userKeyFormat, userID))
}

func (c *Cache) GetTechnologies(ctx context.Context, dest interface{}) bool {
	return c.Get(ctx, technologiesKey, dest)
}

func (c *Cache) SetTechnologies(ctx context.Context, value interface{}) {
	c.Set(ctx, technologiesKey, value, c.ttls.TechnologyList)
}

// InvalidateTechnology drops every cached value under a technology: its
// steering rules, the technology list, and all protocol entries (bulk
// pattern delete for technology-wide edits).
func (c *Cache) InvalidateTechnology(ctx context.Context, technologySlug string) {
	c.Invalidate(ctx, fmt.Sprintf(steeringKeyFormat, technologySlug))
	c.Invalidate(ctx, technologiesKey)
	c.InvalidatePattern(ctx, "protocol:*")
}
