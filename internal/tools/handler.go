package tools

import (
	"context"

	"github.com/vizulabs-com/vizpilot-mcp/internal/audit"
	"github.com/vizulabs-com/vizpilot-mcp/internal/auth"
	"github.com/vizulabs-com/vizpilot-mcp/internal/cache"
	"github.com/vizulabs-com/vizpilot-mcp/internal/ratelimit"
	"github.com/vizulabs-com/vizpilot-mcp/internal/store"
	"github.com/vizulabs-com/vizpilot-mcp/internal/watermark"
	"github.com/vizulabs-com/vizpilot-mcp/pkg/config"
	"github.com/vizulabs-com/vizpilot-mcp/pkg/logger"
)

// Handler executes the tool surface. Every tool runs the same admission
// pipeline before touching content: authenticate the API key, resolve the
// subscription tier, then advance the caller's rate counters. Content
// tools additionally authorize against the requested resource's tier.
type Handler struct {
	store   store.Store
	cache   *cache.Cache
	limiter *ratelimit.Limiter
	marker  *watermark.Engine
	auth    *auth.Authenticator
	audit   *audit.Recorder
	cfg     *config.Config
	logger  *logger.Logger
}

func NewHandler(
	s store.Store,
	c *cache.Cache,
	l *ratelimit.Limiter,
	w *watermark.Engine,
	a *auth.Authenticator,
	rec *audit.Recorder,
	cfg *config.Config,
	log *logger.Logger,
) *Handler {
	return &Handler{
		store:   s,
		cache:   c,
		limiter: l,
		marker:  w,
		auth:    a,
		audit:   rec,
		cfg:     cfg,
		logger:  log,
	}
}

// session is the admitted caller context shared by all tools.
type session struct {
	user     *store.User
	key      *store.APIKey
	sub      *store.Subscription
	tier     string
	decision ratelimit.Decision
}

// admit runs the front half of the pipeline. Rate counters advance even
// when the request is ultimately rejected further down; a denied request
// still spends quota.
func (h *Handler) admit(ctx context.Context, apiKey string) (*session, error) {
	user, key, err := h.auth.Authenticate(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	tier, sub, err := h.auth.ResolveTier(ctx, user)
	if err != nil {
		return nil, err
	}

	decision, err := h.limiter.CheckAndAdvance(ctx, user.ID, tier)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		h.logger.Warnf("Rate limit exceeded for user %s (tier %s)", user.ID, tier)
		return nil, &ratelimit.RateLimitError{Decision: decision}
	}

	return &session{user: user, key: key, sub: sub, tier: tier, decision: decision}, nil
}

func (h *Handler) boundedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.cfg.StoreTimeout)
}
