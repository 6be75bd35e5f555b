package tools

import (
	"github.com/vizulabs-com/vizpilot-mcp/internal/ratelimit"
	"github.com/vizulabs-com/vizpilot-mcp/internal/store"
)

// Failure is the envelope returned for every pipeline error. The error
// message is the only detail callers see; internal failures are reduced
// to a generic message before they reach this point.
type Failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// TechnologyRef identifies a technology inside nested payloads.
type TechnologyRef struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// TechnologyItem is one entry in the technology catalog, stamped with
// the caller's access flag after the shared list is loaded.
type TechnologyItem struct {
	Slug          string `json:"slug"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	TierRequired  string `json:"tier_required"`
	ProtocolCount int    `json:"protocol_count"`
	IconURL       string `json:"icon_url,omitempty"`
	Color         string `json:"color,omitempty"`
	HasAccess     bool   `json:"has_access"`
}

type TechnologiesResult struct {
	Success      bool             `json:"success"`
	Technologies []TechnologyItem `json:"technologies"`
	UserTier     string           `json:"user_tier"`
}

// ProtocolSummary is the listing view of a protocol, without content.
type ProtocolSummary struct {
	ID                string   `json:"id"`
	Slug              string   `json:"slug"`
	Title             string   `json:"title"`
	Description       string   `json:"description"`
	TierRequired      string   `json:"tier_required"`
	Difficulty        string   `json:"difficulty,omitempty"`
	EstimatedReadTime int      `json:"estimated_read_time,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	IsFeatured        bool     `json:"is_featured"`
	ViewCount         int      `json:"view_count"`
}

type ProtocolsResult struct {
	Success    bool              `json:"success"`
	Technology TechnologyRef     `json:"technology"`
	Protocols  []ProtocolSummary `json:"protocols"`
	Count      int               `json:"count"`
}

// ProtocolDocument is the full protocol payload including content.
// Content carries the watermarked document in responses; the cached
// copy stores the pre-watermark content separately and leaves this
// field empty.
type ProtocolDocument struct {
	ID                string        `json:"id"`
	Slug              string        `json:"slug"`
	Title             string        `json:"title"`
	Description       string        `json:"description"`
	Technology        TechnologyRef `json:"technology"`
	Content           string        `json:"content,omitempty"`
	TierRequired      string        `json:"tier_required"`
	Difficulty        string        `json:"difficulty,omitempty"`
	EstimatedReadTime int           `json:"estimated_read_time,omitempty"`
	Tags              []string      `json:"tags,omitempty"`
	Version           string        `json:"version,omitempty"`
	UpdatedAt         string        `json:"updated_at,omitempty"`
}

type ProtocolResult struct {
	Success  bool             `json:"success"`
	Protocol ProtocolDocument `json:"protocol"`
}

type SteeringRulesResult struct {
	Success       bool                 `json:"success"`
	Technology    TechnologyRef        `json:"technology"`
	SteeringRules []store.SteeringRule `json:"steering_rules"`
	Count         int                  `json:"count"`
}

// SearchResultItem is a search hit. Unlike ProtocolSummary it carries
// the owning technology, since search spans technologies.
type SearchResultItem struct {
	ID           string        `json:"id"`
	Slug         string        `json:"slug"`
	Title        string        `json:"title"`
	Description  string        `json:"description"`
	Technology   TechnologyRef `json:"technology"`
	TierRequired string        `json:"tier_required"`
	Difficulty   string        `json:"difficulty,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
}

type SearchResult struct {
	Success          bool               `json:"success"`
	Query            string             `json:"query"`
	TechnologyFilter string             `json:"technology_filter,omitempty"`
	Results          []SearchResultItem `json:"results"`
	Count            int                `json:"count"`
}

// RateLimitInfo reports remaining quota. Nil fields mean the window is
// unlimited for the caller's tier.
type RateLimitInfo struct {
	Tier            string `json:"tier"`
	RemainingMinute *int   `json:"remaining_minute"`
	RemainingDay    *int   `json:"remaining_day"`
	ResetMinute     *int   `json:"reset_minute,omitempty"`
	ResetDay        *int   `json:"reset_day,omitempty"`
}

// UsageCounters is the live rate-counter snapshot for the caller.
type UsageCounters struct {
	MinuteCount int `json:"minute_count"`
	DayCount    int `json:"day_count"`
}

// SubscriptionContext is the slow-moving part of a user profile. It is
// the only portion of get_user_info that is cached; usage counters and
// rate-limit state are always read live.
type SubscriptionContext struct {
	UserID           string `json:"user_id"`
	Email            string `json:"email"`
	Tier             string `json:"tier"`
	HasSubscription  bool   `json:"has_subscription"`
	SubscriptionStat string `json:"subscription_status,omitempty"`
	PlanName         string `json:"plan_name,omitempty"`
	BillingCycle     string `json:"billing_cycle,omitempty"`
	CurrentPeriodEnd string `json:"current_period_end,omitempty"`
}

type UserInfo struct {
	SubscriptionContext
	UsageToday *store.DailyUsage `json:"usage_today"`
	Counters   UsageCounters     `json:"usage_counters"`
	RateLimits RateLimitInfo     `json:"rate_limits"`
}

type UserInfoResult struct {
	Success bool     `json:"success"`
	User    UserInfo `json:"user"`
}

// cachedProtocol is the cache layout for protocol content. Document is
// the metadata shell with Content left empty, so the watermark is never
// stored.
type cachedProtocol struct {
	Content  string           `json:"content"`
	Document ProtocolDocument `json:"metadata"`
}

func rateLimitInfo(tier string, d ratelimit.Decision) RateLimitInfo {
	info := RateLimitInfo{Tier: tier}
	if d.RemainingMinute != ratelimit.Unlimited {
		m := d.RemainingMinute
		rm := d.ResetMinuteSeconds
		info.RemainingMinute = &m
		info.ResetMinute = &rm
	}
	if d.RemainingDay != ratelimit.Unlimited {
		dv := d.RemainingDay
		rd := d.ResetDaySeconds
		info.RemainingDay = &dv
		info.ResetDay = &rd
	}
	return info
}
