package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vizulabs-com/vizpilot-mcp/pkg/config"
)

// PostgreSQL represents a PostgreSQL database connection pool
type PostgreSQL struct {
	pool *pgxpool.Pool
}

// PostgreSQLConfig holds the connection parameters for the catalog database
type PostgreSQLConfig struct {
	User              string
	Password          string
	Host              string
	Port              int
	Database          string
	SSLMode           string
	MaxConnections    int32
	ConnectionTimeout time.Duration
}

// PostgresFromConfig builds a PostgreSQLConfig from the service configuration.
// When no password is configured it falls back to the keyring.
func PostgresFromConfig(cfg *config.Config) PostgreSQLConfig {
	password := cfg.PostgresPassword
	if password == "" {
		if p, err := KeyringPassword(); err == nil {
			password = p
		}
	}

	return PostgreSQLConfig{
		User:              cfg.PostgresUser,
		Password:          password,
		Host:              cfg.PostgresHost,
		Port:              cfg.PostgresPort,
		Database:          cfg.PostgresDatabase,
		SSLMode:           cfg.PostgresSSLMode,
		MaxConnections:    20,
		ConnectionTimeout: 5 * time.Second,
	}
}

// NewPostgreSQL creates a new PostgreSQL connection pool
func NewPostgreSQL(ctx context.Context, cfg PostgreSQLConfig) (*PostgreSQL, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("database name is required")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("database host is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("database user is required")
	}

	// Use pgxpool.ParseConfig to handle special characters in passwords
	poolConfig, err := pgxpool.ParseConfig("")
	if err != nil {
		return nil, fmt.Errorf("failed to create connection config: %w", err)
	}

	poolConfig.ConnConfig.Host = cfg.Host
	poolConfig.ConnConfig.Port = uint16(cfg.Port)
	poolConfig.ConnConfig.Database = cfg.Database
	poolConfig.ConnConfig.User = cfg.User
	poolConfig.ConnConfig.Password = cfg.Password
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectionTimeout

	if cfg.SSLMode == "disable" {
		poolConfig.ConnConfig.TLSConfig = nil
	}

	poolConfig.MaxConns = cfg.MaxConnections
	poolConfig.MaxConnIdleTime = cfg.ConnectionTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgreSQL{pool: pool}, nil
}

// Pool returns the underlying connection pool
func (db *PostgreSQL) Pool() *pgxpool.Pool {
	return db.pool
}

// Ping checks if the database connection is alive
func (db *PostgreSQL) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// Close closes the database connection
func (db *PostgreSQL) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}
