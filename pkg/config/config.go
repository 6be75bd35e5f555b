package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Unlimited disables the cap for a rate-limit window.
const Unlimited = 0

// TierLimits holds the request caps for one subscription tier.
// A value of Unlimited (0) means the window has no cap.
type TierLimits struct {
	PerMinute int
	PerDay    int
}

// CacheTTLs holds the time-to-live per cache category.
type CacheTTLs struct {
	Protocol       time.Duration
	SteeringRules  time.Duration
	UserInfo       time.Duration
	TechnologyList time.Duration
}

// Config holds the service configuration, loaded once at startup.
type Config struct {
	ServerName    string
	ServerVersion string
	LogLevel      string
	ListenAddr    string

	// Bounded timeout for every store and cache round-trip.
	StoreTimeout time.Duration

	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDatabase string
	PostgresSSLMode  string

	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	RateLimits          map[string]TierLimits
	RateLimitFailClosed bool

	CacheTTL CacheTTLs

	WatermarkEnabled bool
}

// Load builds the configuration from environment variables, applying
// defaults for anything unset.
func Load() *Config {
	return &Config{
		ServerName:    getString("MCP_SERVER_NAME", "vizpilot-mcp"),
		ServerVersion: getString("MCP_SERVER_VERSION", "1.0.0"),
		LogLevel:      getString("MCP_LOG_LEVEL", "INFO"),
		ListenAddr:    getString("MCP_LISTEN_ADDR", ":8004"),

		StoreTimeout: getDuration("MCP_STORE_TIMEOUT", 5*time.Second),

		PostgresHost:     getString("POSTGRES_HOST", "localhost"),
		PostgresPort:     getInt("POSTGRES_PORT", 5432),
		PostgresUser:     getString("POSTGRES_USER", "vizpilot"),
		PostgresPassword: getString("POSTGRES_PASSWORD", ""),
		PostgresDatabase: getString("POSTGRES_DB", "vizpilot_db"),
		PostgresSSLMode:  getString("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getString("REDIS_HOST", "localhost"),
		RedisPort:     getInt("REDIS_PORT", 6379),
		RedisPassword: getString("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0),

		RateLimits: map[string]TierLimits{
			"free":       {PerMinute: getInt("RATE_LIMIT_FREE_PER_MINUTE", 5), PerDay: getInt("RATE_LIMIT_FREE_PER_DAY", 100)},
			"starter":    {PerMinute: getInt("RATE_LIMIT_STARTER_PER_MINUTE", 20), PerDay: getInt("RATE_LIMIT_STARTER_PER_DAY", 1000)},
			"pro":        {PerMinute: getInt("RATE_LIMIT_PRO_PER_MINUTE", 100), PerDay: getInt("RATE_LIMIT_PRO_PER_DAY", Unlimited)},
			"enterprise": {PerMinute: getInt("RATE_LIMIT_ENTERPRISE_PER_MINUTE", Unlimited), PerDay: getInt("RATE_LIMIT_ENTERPRISE_PER_DAY", Unlimited)},
		},
		RateLimitFailClosed: getBool("RATE_LIMIT_FAIL_CLOSED", false),

		CacheTTL: CacheTTLs{
			Protocol:       getDuration("CACHE_TTL_PROTOCOL", time.Hour),
			SteeringRules:  getDuration("CACHE_TTL_STEERING_RULES", 24*time.Hour),
			UserInfo:       getDuration("CACHE_TTL_USER_INFO", 5*time.Minute),
			TechnologyList: getDuration("CACHE_TTL_TECHNOLOGY_LIST", time.Hour),
		},

		WatermarkEnabled: getBool("WATERMARK_ENABLED", true),
	}
}

// LimitsForTier returns the quota table entry for a tier. Unknown tiers
// fall back to the free tier.
func (c *Config) LimitsForTier(tier string) TierLimits {
	if limits, ok := c.RateLimits[tier]; ok {
		return limits
	}
	return c.RateLimits["free"]
}

// RedisAddr returns the host:port address of the Redis endpoint.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
