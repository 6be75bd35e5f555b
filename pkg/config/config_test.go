package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "vizpilot-mcp", cfg.ServerName)
	assert.Equal(t, ":8004", cfg.ListenAddr)
	assert.True(t, cfg.WatermarkEnabled)
	assert.False(t, cfg.RateLimitFailClosed)
	assert.Equal(t, time.Hour, cfg.CacheTTL.Protocol)
	assert.Equal(t, 24*time.Hour, cfg.CacheTTL.SteeringRules)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL.UserInfo)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RATE_LIMIT_FREE_PER_MINUTE", "7")
	t.Setenv("WATERMARK_ENABLED", "false")
	t.Setenv("CACHE_TTL_PROTOCOL", "30m")
	t.Setenv("MCP_LISTEN_ADDR", ":9000")

	cfg := Load()

	assert.Equal(t, 7, cfg.RateLimits["free"].PerMinute)
	assert.False(t, cfg.WatermarkEnabled)
	assert.Equal(t, 30*time.Minute, cfg.CacheTTL.Protocol)
	assert.Equal(t, ":9000", cfg.ListenAddr)
}

func TestLimitsForTier(t *testing.T) {
	cfg := Load()

	t.Run("known tier", func(t *testing.T) {
		limits := cfg.LimitsForTier("pro")
		assert.Equal(t, 100, limits.PerMinute)
		assert.Equal(t, Unlimited, limits.PerDay)
	})

	t.Run("unknown tier falls back to free", func(t *testing.T) {
		limits := cfg.LimitsForTier("platinum")
		assert.Equal(t, cfg.RateLimits["free"], limits)
	})
}

func TestRedisAddr(t *testing.T) {
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")

	cfg := Load()
	assert.Equal(t, "redis.internal:6380", cfg.RedisAddr())
}
