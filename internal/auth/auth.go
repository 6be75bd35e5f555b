package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/vizulabs-com/vizpilot-mcp/internal/store"
	"github.com/vizulabs-com/vizpilot-mcp/internal/tier"
	"github.com/vizulabs-com/vizpilot-mcp/pkg/logger"
)

// HashAPIKey returns the SHA-256 hex digest of an API key. Only the digest
// ever reaches the catalog store.
func HashAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

// Authenticator resolves credentials and enforces tier authorization
// against the catalog store.
type Authenticator struct {
	store  store.Store
	logger *logger.Logger
}

// NewAuthenticator creates an authenticator backed by the given store.
func NewAuthenticator(s store.Store, logger *logger.Logger) *Authenticator {
	return &Authenticator{
		store:  s,
		logger: logger,
	}
}

// Authenticate resolves an API key to its user and key record. Missing,
// unknown, revoked and expired keys all fail with the same message.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey string) (*store.User, *store.APIKey, error) {
	if apiKey == "" {
		return nil, nil, &AuthenticationError{Reason: "API key is required"}
	}

	user, key, err := a.store.ResolveAPIKey(ctx, HashAPIKey(apiKey))
	if store.IsNotFound(err) {
		return nil, nil, &AuthenticationError{Reason: "Invalid or expired API key"}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("resolve credential: %w", err)
	}

	if !user.IsActive {
		return nil, nil, &AuthenticationError{Reason: "User account is inactive"}
	}

	return user, key, nil
}

// ResolveTier returns the caller's tier and active subscription. A caller
// with no active or trialing subscription resolves to the free tier with a
// nil subscription; content-level authorization rejects those callers
// separately.
func (a *Authenticator) ResolveTier(ctx context.Context, user *store.User) (string, *store.Subscription, error) {
	sub, err := a.store.ActiveSubscription(ctx, user.ID)
	if store.IsNotFound(err) {
		return tier.Free, nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("resolve subscription: %w", err)
	}
	return sub.Plan.Tier, sub, nil
}

// AuthorizeTechnology checks that the caller's subscription covers a
// technology's required tier.
func (a *Authenticator) AuthorizeTechnology(sub *store.Subscription, tech *store.Technology) error {
	if sub == nil {
		return &AuthorizationError{
			Message: fmt.Sprintf("No active subscription. Please subscribe to access %s.", tech.Name),
		}
	}
	if !tier.IsAuthorized(sub.Plan.Tier, tech.TierRequired) {
		return &AuthorizationError{
			Message: fmt.Sprintf("Your %s plan doesn't include access to %s. Upgrade to %s or higher.",
				sub.Plan.Tier, tech.Name, tech.TierRequired),
		}
	}
	return nil
}

// AuthorizeProtocol checks protocol access, cascading through the owning
// technology first: a protocol's effective required tier is never below its
// technology's.
func (a *Authenticator) AuthorizeProtocol(sub *store.Subscription, tech *store.Technology, protocol *store.Protocol) error {
	if err := a.AuthorizeTechnology(sub, tech); err != nil {
		return err
	}
	if !tier.IsAuthorized(sub.Plan.Tier, protocol.TierRequired) {
		return &AuthorizationError{
			Message: fmt.Sprintf("This protocol requires %s tier or higher. Your current tier: %s",
				protocol.TierRequired, sub.Plan.Tier),
		}
	}
	return nil
}
