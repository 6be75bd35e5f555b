package database

import (
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// Keyring service name for database credentials
	DatabaseKeyringService = "vizpilot-database"
	DatabasePasswordKey    = "postgres-password"
)

// KeyringPassword retrieves the catalog database password from the OS
// keyring. The VIZPILOT_KEYRING_SERVICE environment variable overrides the
// service name for deployments running several isolated instances on one
// host.
func KeyringPassword() (string, error) {
	service := os.Getenv("VIZPILOT_KEYRING_SERVICE")
	if service == "" {
		service = DatabaseKeyringService
	}

	password, err := keyring.Get(service, DatabasePasswordKey)
	if err != nil {
		return "", fmt.Errorf("database password not found in keyring: %w", err)
	}
	return password, nil
}

// StoreKeyringPassword writes the catalog database password to the OS
// keyring. Used by installation tooling, never on the request path.
func StoreKeyringPassword(password string) error {
	service := os.Getenv("VIZPILOT_KEYRING_SERVICE")
	if service == "" {
		service = DatabaseKeyringService
	}

	if err := keyring.Set(service, DatabasePasswordKey, password); err != nil {
		return fmt.Errorf("failed to store database password in keyring: %w", err)
	}
	return nil
}
