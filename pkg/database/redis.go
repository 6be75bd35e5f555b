package database

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vizulabs-com/vizpilot-mcp/pkg/config"
)

// RedisConfig holds the Redis connection configuration
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	MinIdleConns int
	MaxIdleTime  time.Duration
}

// RedisFromConfig builds a RedisConfig from the service configuration
func RedisFromConfig(cfg *config.Config) RedisConfig {
	return RedisConfig{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxIdleTime:  5 * time.Minute,
	}
}

// Redis represents a Redis client connection pool
type Redis struct {
	client *redis.Client
}

// NewRedis creates a new Redis client using the provided configuration
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		MaxRetries:      cfg.MaxRetries,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		ConnMaxIdleTime: cfg.MaxIdleTime,
	})

	// Test the connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &Redis{client: client}, nil
}

// Client returns the underlying Redis client
func (r *Redis) Client() *redis.Client {
	return r.client
}

// Ping checks if the Redis connection is alive
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client connection
func (r *Redis) Close() {
	if r.client != nil {
		r.client.Close()
	}
}
