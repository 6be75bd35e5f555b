package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vizulabs-com/vizpilot-mcp/internal/store"
	"github.com/vizulabs-com/vizpilot-mcp/internal/store/storetest"
	"github.com/vizulabs-com/vizpilot-mcp/internal/tier"
	"github.com/vizulabs-com/vizpilot-mcp/pkg/logger"
)

const testKey = "vz_live_abcdef1234567890"

func newTestAuthenticator(t *testing.T) (*Authenticator, *storetest.Fake) {
	t.Helper()
	fake := storetest.New()
	return NewAuthenticator(fake, logger.New("auth-test", "test")), fake
}

func seedUser(f *storetest.Fake, active bool) {
	f.Users["user-1"] = &store.User{ID: "user-1", Email: "dev@example.com", IsActive: active}
	f.KeysByHash[HashAPIKey(testKey)] = &store.APIKey{
		ID:        "key-1",
		UserID:    "user-1",
		KeyHash:   HashAPIKey(testKey),
		KeyPrefix: "vz_live_ab",
		IsActive:  true,
	}
}

func TestHashAPIKey(t *testing.T) {
	// SHA-256 hex, stable and plaintext-free.
	h := HashAPIKey("secret")
	assert.Len(t, h, 64)
	assert.Equal(t, h, HashAPIKey("secret"))
	assert.NotEqual(t, h, HashAPIKey("secret2"))
	assert.NotContains(t, h, "secret")
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("valid key", func(t *testing.T) {
		a, f := newTestAuthenticator(t)
		seedUser(f, true)

		user, key, err := a.Authenticate(ctx, testKey)
		require.NoError(t, err)
		assert.Equal(t, "user-1", user.ID)
		assert.Equal(t, "vz_live_ab", key.KeyPrefix)
	})

	t.Run("missing key", func(t *testing.T) {
		a, _ := newTestAuthenticator(t)

		_, _, err := a.Authenticate(ctx, "")
		var authErr *AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "API key is required", authErr.Reason)
	})

	t.Run("unknown key", func(t *testing.T) {
		a, _ := newTestAuthenticator(t)

		_, _, err := a.Authenticate(ctx, "vz_live_wrong")
		var authErr *AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "Invalid or expired API key", authErr.Reason)
	})

	t.Run("revoked key reads same as unknown", func(t *testing.T) {
		a, f := newTestAuthenticator(t)
		seedUser(f, true)
		now := time.Now()
		f.KeysByHash[HashAPIKey(testKey)].RevokedAt = &now

		_, _, err := a.Authenticate(ctx, testKey)
		var authErr *AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "Invalid or expired API key", authErr.Reason)
	})

	t.Run("expired key", func(t *testing.T) {
		a, f := newTestAuthenticator(t)
		seedUser(f, true)
		past := time.Now().Add(-time.Hour)
		f.KeysByHash[HashAPIKey(testKey)].ExpiresAt = &past

		_, _, err := a.Authenticate(ctx, testKey)
		var authErr *AuthenticationError
		require.ErrorAs(t, err, &authErr)
	})

	t.Run("inactive user", func(t *testing.T) {
		a, f := newTestAuthenticator(t)
		seedUser(f, false)

		_, _, err := a.Authenticate(ctx, testKey)
		var authErr *AuthenticationError
		require.ErrorAs(t, err, &authErr)
		assert.Equal(t, "User account is inactive", authErr.Reason)
	})

	t.Run("store unavailable is not an authentication error", func(t *testing.T) {
		a, f := newTestAuthenticator(t)
		f.Err = errors.New("connection refused")

		_, _, err := a.Authenticate(ctx, testKey)
		require.Error(t, err)
		var authErr *AuthenticationError
		assert.False(t, errors.As(err, &authErr))
	})
}

func TestResolveTier(t *testing.T) {
	ctx := context.Background()

	t.Run("active subscription", func(t *testing.T) {
		a, f := newTestAuthenticator(t)
		f.Subscriptions["user-1"] = &store.Subscription{
			Status: "active",
			Plan:   store.Plan{Name: "Pro", Tier: tier.Pro},
		}

		got, sub, err := a.ResolveTier(ctx, &store.User{ID: "user-1"})
		require.NoError(t, err)
		assert.Equal(t, tier.Pro, got)
		require.NotNil(t, sub)
	})

	t.Run("no subscription maps to free with nil subscription", func(t *testing.T) {
		a, _ := newTestAuthenticator(t)

		got, sub, err := a.ResolveTier(ctx, &store.User{ID: "user-1"})
		require.NoError(t, err)
		assert.Equal(t, tier.Free, got)
		assert.Nil(t, sub)
	})

	t.Run("canceled subscription maps to free", func(t *testing.T) {
		a, f := newTestAuthenticator(t)
		f.Subscriptions["user-1"] = &store.Subscription{
			Status: "canceled",
			Plan:   store.Plan{Tier: tier.Pro},
		}

		got, sub, err := a.ResolveTier(ctx, &store.User{ID: "user-1"})
		require.NoError(t, err)
		assert.Equal(t, tier.Free, got)
		assert.Nil(t, sub)
	})
}

func TestAuthorizeTechnology(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	tech := &store.Technology{Name: "Django", Slug: "django", TierRequired: tier.Starter}

	t.Run("sufficient tier", func(t *testing.T) {
		sub := &store.Subscription{Plan: store.Plan{Tier: tier.Pro}}
		assert.NoError(t, a.AuthorizeTechnology(sub, tech))
	})

	t.Run("insufficient tier names the gap", func(t *testing.T) {
		sub := &store.Subscription{Plan: store.Plan{Tier: tier.Free}}
		err := a.AuthorizeTechnology(sub, tech)
		var authzErr *AuthorizationError
		require.ErrorAs(t, err, &authzErr)
		assert.Contains(t, authzErr.Message, "free plan")
		assert.Contains(t, authzErr.Message, "starter")
	})

	t.Run("no subscription", func(t *testing.T) {
		err := a.AuthorizeTechnology(nil, tech)
		var authzErr *AuthorizationError
		require.ErrorAs(t, err, &authzErr)
		assert.Contains(t, authzErr.Message, "No active subscription")
	})
}

func TestAuthorizeProtocol(t *testing.T) {
	a, _ := newTestAuthenticator(t)
	tech := &store.Technology{Name: "Django", Slug: "django", TierRequired: tier.Free}
	protocol := &store.Protocol{Title: "Advanced Auth", TierRequired: tier.Pro}

	t.Run("protocol tier may exceed technology tier", func(t *testing.T) {
		sub := &store.Subscription{Plan: store.Plan{Tier: tier.Starter}}
		err := a.AuthorizeProtocol(sub, tech, protocol)
		var authzErr *AuthorizationError
		require.ErrorAs(t, err, &authzErr)
		assert.Contains(t, authzErr.Message, "requires pro tier")
		assert.Contains(t, authzErr.Message, "starter")
	})

	t.Run("technology gate cascades first", func(t *testing.T) {
		gated := &store.Technology{Name: "K8s", Slug: "k8s", TierRequired: tier.Enterprise}
		sub := &store.Subscription{Plan: store.Plan{Tier: tier.Pro}}
		err := a.AuthorizeProtocol(sub, gated, protocol)
		var authzErr *AuthorizationError
		require.ErrorAs(t, err, &authzErr)
		assert.Contains(t, authzErr.Message, "K8s")
	})

	t.Run("enterprise passes everything", func(t *testing.T) {
		sub := &store.Subscription{Plan: store.Plan{Tier: tier.Enterprise}}
		assert.NoError(t, a.AuthorizeProtocol(sub, tech, protocol))
	})
}
