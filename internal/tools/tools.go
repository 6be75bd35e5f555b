package tools

import (
	"context"
	"time"

	"github.com/vizulabs-com/vizpilot-mcp/internal/store"
	"github.com/vizulabs-com/vizpilot-mcp/internal/tier"
)

// ListTechnologies returns the technology catalog with a per-caller access
// flag. The catalog itself is shared and cached; the access flags are
// stamped per request after the list is loaded, so the cache never holds
// caller-specific data.
func (h *Handler) ListTechnologies(ctx context.Context, apiKey string) (*TechnologiesResult, error) {
	sess, err := h.admit(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	var items []TechnologyItem
	if !h.cache.GetTechnologies(ctx, &items) {
		techs, err := h.store.Technologies(ctx)
		if err != nil {
			return nil, err
		}
		items = make([]TechnologyItem, 0, len(techs))
		for _, t := range techs {
			items = append(items, TechnologyItem{
				Slug:          t.Slug,
				Name:          t.Name,
				Description:   t.Description,
				TierRequired:  t.TierRequired,
				ProtocolCount: t.ProtocolCount,
				IconURL:       t.IconURL,
				Color:         t.Color,
			})
		}
		h.cache.SetTechnologies(ctx, items)
	}

	for i := range items {
		items[i].HasAccess = sess.sub != nil && tier.IsAuthorized(sess.tier, items[i].TierRequired)
	}

	return &TechnologiesResult{
		Success:      true,
		Technologies: items,
		UserTier:     sess.tier,
	}, nil
}

// ListProtocols returns the protocols of one technology visible at the
// caller's tier. Protocols above the tier are filtered out rather than
// rejected, so a starter caller browsing a free technology sees only what
// they can fetch.
func (h *Handler) ListProtocols(ctx context.Context, apiKey, technologySlug string) (*ProtocolsResult, error) {
	if technologySlug == "" {
		return nil, &ArgumentError{Message: "technology_slug is required"}
	}

	sess, err := h.admit(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	tech, err := h.store.TechnologyBySlug(ctx, technologySlug)
	if err != nil {
		return nil, err
	}
	if err := h.auth.AuthorizeTechnology(sess.sub, tech); err != nil {
		return nil, err
	}

	protocols, err := h.store.Protocols(ctx, tech.Slug)
	if err != nil {
		return nil, err
	}

	summaries := make([]ProtocolSummary, 0, len(protocols))
	for _, p := range protocols {
		if !tier.IsAuthorized(sess.tier, p.TierRequired) {
			continue
		}
		summaries = append(summaries, ProtocolSummary{
			ID:                p.ID,
			Slug:              p.Slug,
			Title:             p.Title,
			Description:       p.Description,
			TierRequired:      p.TierRequired,
			Difficulty:        p.Difficulty,
			EstimatedReadTime: p.EstimatedReadTime,
			Tags:              p.Tags,
			IsFeatured:        p.IsFeatured,
			ViewCount:         p.ViewCount,
		})
	}

	return &ProtocolsResult{
		Success:    true,
		Technology: TechnologyRef{Slug: tech.Slug, Name: tech.Name},
		Protocols:  summaries,
		Count:      len(summaries),
	}, nil
}

// GetProtocol fetches one protocol document, watermarked for the caller.
// The protocol is addressed either by id or by technology and protocol
// slugs. Metadata always comes from the store (authorization needs the
// live record); the document content reads through the cache, and the
// cached copy is always pre-watermark.
func (h *Handler) GetProtocol(ctx context.Context, apiKey, protocolID, technologySlug, protocolSlug string) (*ProtocolResult, error) {
	start := time.Now()

	if protocolID == "" && (technologySlug == "" || protocolSlug == "") {
		return nil, &ArgumentError{Message: "Either protocol_id or technology_slug and protocol_slug are required"}
	}

	sess, err := h.admit(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	var p *store.Protocol
	if protocolID != "" {
		p, err = h.store.ProtocolByID(ctx, protocolID)
	} else {
		p, err = h.store.ProtocolBySlug(ctx, technologySlug, protocolSlug)
	}
	if err != nil {
		return nil, err
	}

	tech, err := h.store.TechnologyBySlug(ctx, p.TechnologySlug)
	if err != nil {
		return nil, err
	}
	if err := h.auth.AuthorizeProtocol(sess.sub, tech, p); err != nil {
		return nil, err
	}

	var cached cachedProtocol
	if !h.cache.GetProtocol(ctx, p.ID, &cached) {
		cached = cachedProtocol{
			Content:  p.ContentMarkdown,
			Document: protocolDocument(p),
		}
		h.cache.SetProtocol(ctx, p.ID, cached)
	}

	content, watermarkID := h.marker.EmbedInDocument(cached.Content, sess.user.Email, sess.key.KeyPrefix, p.ID)

	h.audit.RecordView(ctx, sess.user, p, sess.key)
	h.audit.RecordAccess(ctx, sess.user, sess.key, "protocol", p.ID, p.TechnologyID, watermarkID, time.Since(start))

	doc := cached.Document
	doc.Content = content
	return &ProtocolResult{Success: true, Protocol: doc}, nil
}

// GetSteeringRules returns a technology's steering rules visible at the
// caller's tier, with a watermark rule appended. The cache holds the full
// unfiltered rule set; tier filtering happens per request so one caller's
// view never leaks into another's.
func (h *Handler) GetSteeringRules(ctx context.Context, apiKey, technologySlug string) (*SteeringRulesResult, error) {
	start := time.Now()

	if technologySlug == "" {
		return nil, &ArgumentError{Message: "technology_slug is required"}
	}

	sess, err := h.admit(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	tech, err := h.store.TechnologyBySlug(ctx, technologySlug)
	if err != nil {
		return nil, err
	}
	if err := h.auth.AuthorizeTechnology(sess.sub, tech); err != nil {
		return nil, err
	}

	var rules []store.SteeringRule
	if !h.cache.GetSteeringRules(ctx, tech.Slug, &rules) {
		rules, err = h.store.SteeringRules(ctx, tech.Slug)
		if err != nil {
			return nil, err
		}
		h.cache.SetSteeringRules(ctx, tech.Slug, rules)
	}

	visible := make([]store.SteeringRule, 0, len(rules))
	for _, r := range rules {
		if tier.IsAuthorized(sess.tier, r.TierRequired) {
			visible = append(visible, r)
		}
	}

	marked, watermarkID := h.marker.EmbedInRuleList(visible, sess.user.Email, sess.key.KeyPrefix)

	h.audit.RecordAccess(ctx, sess.user, sess.key, "steering", tech.Slug, tech.ID, watermarkID, time.Since(start))

	return &SteeringRulesResult{
		Success:       true,
		Technology:    TechnologyRef{Slug: tech.Slug, Name: tech.Name},
		SteeringRules: marked,
		Count:         len(marked),
	}, nil
}

// SearchProtocols runs a ranked full-text search, optionally scoped to one
// technology, and filters the hits to the caller's tier. Results are never
// cached; queries are too varied for a useful hit rate.
func (h *Handler) SearchProtocols(ctx context.Context, apiKey, query, technologySlug string) (*SearchResult, error) {
	if query == "" {
		return nil, &ArgumentError{Message: "query is required"}
	}

	sess, err := h.admit(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	hits, err := h.store.SearchProtocols(ctx, query, technologySlug, 20)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResultItem, 0, len(hits))
	for _, p := range hits {
		if !tier.IsAuthorized(sess.tier, p.TierRequired) {
			continue
		}
		results = append(results, SearchResultItem{
			ID:           p.ID,
			Slug:         p.Slug,
			Title:        p.Title,
			Description:  p.Description,
			Technology:   TechnologyRef{Slug: p.TechnologySlug, Name: p.TechnologyName},
			TierRequired: p.TierRequired,
			Difficulty:   p.Difficulty,
			Tags:         p.Tags,
		})
	}

	return &SearchResult{
		Success:          true,
		Query:            query,
		TechnologyFilter: technologySlug,
		Results:          results,
		Count:            len(results),
	}, nil
}

// GetUserInfo returns the caller's own profile. The slow-moving
// subscription context is cached briefly; usage counters and rate-limit
// state are always read live, and the rate-limit figures reflect this very
// request since admission already advanced the counters.
func (h *Handler) GetUserInfo(ctx context.Context, apiKey string) (*UserInfoResult, error) {
	sess, err := h.admit(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	var sc SubscriptionContext
	if !h.cache.GetUserInfo(ctx, sess.user.ID, &sc) {
		sc = SubscriptionContext{
			UserID: sess.user.ID,
			Email:  sess.user.Email,
			Tier:   sess.tier,
		}
		if sess.sub != nil {
			sc.HasSubscription = true
			sc.SubscriptionStat = sess.sub.Status
			sc.PlanName = sess.sub.Plan.Name
			sc.BillingCycle = sess.sub.BillingCycle
			sc.CurrentPeriodEnd = sess.sub.CurrentPeriodEnd.UTC().Format(time.RFC3339)
		}
		h.cache.SetUserInfo(ctx, sess.user.ID, sc)
	}

	usage, err := h.store.DailyUsageToday(ctx, sess.user.ID)
	if err != nil && !store.IsNotFound(err) {
		return nil, err
	}

	counters := UsageCounters{}
	if snap, err := h.limiter.Snapshot(ctx, sess.user.ID); err == nil {
		counters.MinuteCount = snap.MinuteCount
		counters.DayCount = snap.DayCount
	} else {
		h.logger.Warnf("Usage snapshot unavailable for user %s: %v", sess.user.ID, err)
	}

	return &UserInfoResult{
		Success: true,
		User: UserInfo{
			SubscriptionContext: sc,
			UsageToday:          usage,
			Counters:            counters,
			RateLimits:          rateLimitInfo(sess.tier, sess.decision),
		},
	}, nil
}

func protocolDocument(p *store.Protocol) ProtocolDocument {
	return ProtocolDocument{
		ID:                p.ID,
		Slug:              p.Slug,
		Title:             p.Title,
		Description:       p.Description,
		Technology:        TechnologyRef{Slug: p.TechnologySlug, Name: p.TechnologyName},
		TierRequired:      p.TierRequired,
		Difficulty:        p.Difficulty,
		EstimatedReadTime: p.EstimatedReadTime,
		Tags:              p.Tags,
		Version:           p.Version,
		UpdatedAt:         p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
