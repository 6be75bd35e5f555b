package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// User is a catalog account. Immutable from the pipeline's perspective
// except through recorded usage facts.
type User struct {
	ID       string
	Email    string
	IsActive bool
}

// APIKey is a credential record. Only the SHA-256 hash of the secret is
// stored; the plaintext never reaches the catalog.
type APIKey struct {
	ID        string
	UserID    string
	KeyHash   string
	KeyPrefix string
	IsActive  bool
	RevokedAt *time.Time
	ExpiresAt *time.Time
	IDEType   string
}

// Plan defines a subscription tier and its quota limits.
type Plan struct {
	Name   string
	Tier   string
	Limits map[string]interface{}
}

// Subscription binds a user to a plan for a billing period.
type Subscription struct {
	Status           string
	BillingCycle     string
	CurrentPeriodEnd time.Time
	Plan             Plan
}

// Technology is a top-level content category.
type Technology struct {
	ID            string
	Slug          string
	Name          string
	Description   string
	TierRequired  string
	ProtocolCount int
	IconURL       string
	Color         string
}

// Protocol is versioned content belonging to one technology.
type Protocol struct {
	ID                string
	Slug              string
	Title             string
	Description       string
	TechnologyID      string
	TechnologySlug    string
	TechnologyName    string
	TierRequired      string
	Difficulty        string
	EstimatedReadTime int
	Tags              []string
	IsFeatured        bool
	ViewCount         int
	Version           string
	ContentMarkdown   string
	UpdatedAt         time.Time
}

// SteeringRule is a short directive belonging to one technology.
type SteeringRule struct {
	Content      string `json:"content"`
	Category     string `json:"category"`
	Priority     int    `json:"priority"`
	TierRequired string `json:"tier_required,omitempty"`
}

// AccessLogEntry is the immutable fact recorded after every content fetch.
type AccessLogEntry struct {
	UserID         string
	APIKeyID       string
	ContentType    string
	ContentID      string
	TechnologyID   string
	WatermarkID    string
	IPAddress      string
	UserAgent      string
	IDEType        string
	ResponseTimeMS int
}

// DailyUsage is a user's usage aggregate for one calendar day.
type DailyUsage struct {
	APIRequests       int            `json:"api_requests"`
	ProtocolViews     int            `json:"protocol_views"`
	SteeringRuleViews int            `json:"steering_rule_views"`
	UsageByTechnology map[string]int `json:"usage_by_technology"`
	UsageByIDE        map[string]int `json:"usage_by_ide"`
}

// NotFoundError reports that a catalog record does not exist or is not
// servable (inactive, revoked, expired, unpublished).
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Store is the narrow interface to the persisted catalog. Everything the
// access pipeline knows about users, subscriptions and content goes through
// it; any failure other than NotFoundError is an internal error, never an
// authorization decision.
type Store interface {
	// ResolveAPIKey resolves a key hash to its user and key record.
	// Inactive, revoked and expired keys resolve to NotFoundError.
	ResolveAPIKey(ctx context.Context, keyHash string) (*User, *APIKey, error)

	// ActiveSubscription returns the user's active or trialing subscription.
	ActiveSubscription(ctx context.Context, userID string) (*Subscription, error)

	Technologies(ctx context.Context) ([]Technology, error)
	TechnologyBySlug(ctx context.Context, slug string) (*Technology, error)

	Protocols(ctx context.Context, technologySlug string) ([]Protocol, error)
	ProtocolByID(ctx context.Context, id string) (*Protocol, error)
	ProtocolBySlug(ctx context.Context, technologySlug, protocolSlug string) (*Protocol, error)

	SteeringRules(ctx context.Context, technologySlug string) ([]SteeringRule, error)

	// SearchProtocols runs a ranked full-text search, optionally scoped to
	// one technology.
	SearchProtocols(ctx context.Context, query, technologySlug string, limit int) ([]Protocol, error)

	// RecordView increments the protocol's view count and the user's daily
	// usage aggregate, creating the aggregate if absent.
	RecordView(ctx context.Context, user *User, protocol *Protocol, apiKey *APIKey) error

	DailyUsageToday(ctx context.Context, userID string) (*DailyUsage, error)

	// RecordAccessLog appends an access-log entry.
	RecordAccessLog(ctx context.Context, entry *AccessLogEntry) error
}
