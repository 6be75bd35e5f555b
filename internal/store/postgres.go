package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vizulabs-com/vizpilot-mcp/pkg/database"
	"github.com/vizulabs-com/vizpilot-mcp/pkg/logger"
)

// Postgres implements Store against the catalog database.
type Postgres struct {
	db     *database.PostgreSQL
	logger *logger.Logger
}

// NewPostgres creates a catalog store backed by the given connection pool.
func NewPostgres(db *database.PostgreSQL, logger *logger.Logger) *Postgres {
	return &Postgres{
		db:     db,
		logger: logger,
	}
}

func (s *Postgres) ResolveAPIKey(ctx context.Context, keyHash string) (*User, *APIKey, error) {
	var u User
	var k APIKey
	err := s.db.Pool().QueryRow(ctx, `
		SELECT u.id, u.email, u.is_active,
		       k.id, k.user_id, k.key_hash, k.key_prefix, k.is_active,
		       k.revoked_at, k.expires_at, COALESCE(k.ide_type, '')
		FROM api_keys k
		JOIN users u ON u.id = k.user_id
		WHERE k.key_hash = $1
		  AND k.is_active = TRUE
		  AND k.revoked_at IS NULL
	`, keyHash).Scan(
		&u.ID, &u.Email, &u.IsActive,
		&k.ID, &k.UserID, &k.KeyHash, &k.KeyPrefix, &k.IsActive,
		&k.RevokedAt, &k.ExpiresAt, &k.IDEType,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, &NotFoundError{Resource: "api key"}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("resolve api key: %w", err)
	}

	if k.ExpiresAt != nil && k.ExpiresAt.Before(time.Now()) {
		return nil, nil, &NotFoundError{Resource: "api key"}
	}

	return &u, &k, nil
}

func (s *Postgres) ActiveSubscription(ctx context.Context, userID string) (*Subscription, error) {
	var sub Subscription
	var limitsJSON []byte
	err := s.db.Pool().QueryRow(ctx, `
		SELECT s.status, COALESCE(s.billing_cycle, ''), s.current_period_end,
		       p.name, p.tier, COALESCE(p.limits, '{}'::jsonb)
		FROM subscriptions s
		JOIN plans p ON p.id = s.plan_id
		WHERE s.user_id = $1
		  AND s.status IN ('active', 'trialing')
	`, userID).Scan(
		&sub.Status, &sub.BillingCycle, &sub.CurrentPeriodEnd,
		&sub.Plan.Name, &sub.Plan.Tier, &limitsJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Resource: "subscription", Key: userID}
	}
	if err != nil {
		return nil, fmt.Errorf("query subscription: %w", err)
	}

	if err := json.Unmarshal(limitsJSON, &sub.Plan.Limits); err != nil {
		s.logger.Warnf("Malformed plan limits for user %s: %v", userID, err)
		sub.Plan.Limits = map[string]interface{}{}
	}

	return &sub, nil
}

func (s *Postgres) Technologies(ctx context.Context) ([]Technology, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT id, slug, name, COALESCE(description, ''), tier_required,
		       COALESCE(protocol_count, 0), COALESCE(icon_url, ''), COALESCE(color, '')
		FROM technologies
		WHERE is_active = TRUE
		ORDER BY display_order, name
	`)
	if err != nil {
		return nil, fmt.Errorf("query technologies: %w", err)
	}
	defer rows.Close()

	var technologies []Technology
	for rows.Next() {
		var t Technology
		if err := rows.Scan(&t.ID, &t.Slug, &t.Name, &t.Description, &t.TierRequired,
			&t.ProtocolCount, &t.IconURL, &t.Color); err != nil {
			return nil, fmt.Errorf("scan technology: %w", err)
		}
		technologies = append(technologies, t)
	}
	return technologies, rows.Err()
}

func (s *Postgres) TechnologyBySlug(ctx context.Context, slug string) (*Technology, error) {
	var t Technology
	err := s.db.Pool().QueryRow(ctx, `
		SELECT id, slug, name, COALESCE(description, ''), tier_required,
		       COALESCE(protocol_count, 0), COALESCE(icon_url, ''), COALESCE(color, '')
		FROM technologies
		WHERE slug = $1 AND is_active = TRUE
	`, slug).Scan(&t.ID, &t.Slug, &t.Name, &t.Description, &t.TierRequired,
		&t.ProtocolCount, &t.IconURL, &t.Color)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Resource: "technology", Key: slug}
	}
	if err != nil {
		return nil, fmt.Errorf("query technology: %w", err)
	}
	return &t, nil
}

const protocolColumns = `
	p.id, p.slug, p.title, COALESCE(p.description, ''),
	p.technology_id, t.slug, t.name,
	p.tier_required, COALESCE(p.difficulty, ''), COALESCE(p.estimated_read_time, 0),
	COALESCE(p.tags, '{}'), p.is_featured, COALESCE(p.view_count, 0),
	COALESCE(p.version, ''), p.content_markdown, p.updated_at`

func scanProtocol(row pgx.Row) (*Protocol, error) {
	var p Protocol
	err := row.Scan(
		&p.ID, &p.Slug, &p.Title, &p.Description,
		&p.TechnologyID, &p.TechnologySlug, &p.TechnologyName,
		&p.TierRequired, &p.Difficulty, &p.EstimatedReadTime,
		&p.Tags, &p.IsFeatured, &p.ViewCount,
		&p.Version, &p.ContentMarkdown, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) Protocols(ctx context.Context, technologySlug string) ([]Protocol, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT `+protocolColumns+`
		FROM protocols p
		JOIN technologies t ON t.id = p.technology_id
		WHERE t.slug = $1
		  AND p.is_active = TRUE
		  AND p.published_at IS NOT NULL
		ORDER BY p.is_featured DESC, p.published_at DESC
	`, technologySlug)
	if err != nil {
		return nil, fmt.Errorf("query protocols: %w", err)
	}
	defer rows.Close()

	var protocols []Protocol
	for rows.Next() {
		p, err := scanProtocol(rows)
		if err != nil {
			return nil, fmt.Errorf("scan protocol: %w", err)
		}
		protocols = append(protocols, *p)
	}
	return protocols, rows.Err()
}

func (s *Postgres) ProtocolByID(ctx context.Context, id string) (*Protocol, error) {
	p, err := scanProtocol(s.db.Pool().QueryRow(ctx, `
		SELECT `+protocolColumns+`
		FROM protocols p
		JOIN technologies t ON t.id = p.technology_id
		WHERE p.id = $1
		  AND p.is_active = TRUE
		  AND p.published_at IS NOT NULL
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Resource: "protocol", Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("query protocol: %w", err)
	}
	return p, nil
}

func (s *Postgres) ProtocolBySlug(ctx context.Context, technologySlug, protocolSlug string) (*Protocol, error) {
	p, err := scanProtocol(s.db.Pool().QueryRow(ctx, `
		SELECT `+protocolColumns+`
		FROM protocols p
		JOIN technologies t ON t.id = p.technology_id
		WHERE t.slug = $1
		  AND p.slug = $2
		  AND p.is_active = TRUE
		  AND p.published_at IS NOT NULL
	`, technologySlug, protocolSlug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Resource: "protocol", Key: protocolSlug}
	}
	if err != nil {
		return nil, fmt.Errorf("query protocol: %w", err)
	}
	return p, nil
}

func (s *Postgres) SteeringRules(ctx context.Context, technologySlug string) ([]SteeringRule, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT r.content, COALESCE(r.category, ''), COALESCE(r.priority, 0), r.tier_required
		FROM steering_rules r
		JOIN technologies t ON t.id = r.technology_id
		WHERE t.slug = $1 AND r.is_active = TRUE
		ORDER BY r.priority, r.display_order
	`, technologySlug)
	if err != nil {
		return nil, fmt.Errorf("query steering rules: %w", err)
	}
	defer rows.Close()

	var rules []SteeringRule
	for rows.Next() {
		var r SteeringRule
		if err := rows.Scan(&r.Content, &r.Category, &r.Priority, &r.TierRequired); err != nil {
			return nil, fmt.Errorf("scan steering rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *Postgres) SearchProtocols(ctx context.Context, query, technologySlug string, limit int) ([]Protocol, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	// Weighted full-text search: title outranks description outranks body.
	rows, err := s.db.Pool().Query(ctx, `
		SELECT `+protocolColumns+`
		FROM (
			SELECT p.*,
			       ts_rank(
			           setweight(to_tsvector('english', p.title), 'A') ||
			           setweight(to_tsvector('english', COALESCE(p.description, '')), 'B') ||
			           setweight(to_tsvector('english', p.content_markdown), 'C'),
			           plainto_tsquery('english', $1)
			       ) AS rank
			FROM protocols p
			WHERE p.is_active = TRUE AND p.published_at IS NOT NULL
		) p
		JOIN technologies t ON t.id = p.technology_id
		WHERE p.rank >= 0.1
		  AND ($2 = '' OR t.slug = $2)
		ORDER BY p.rank DESC, p.is_featured DESC
		LIMIT $3
	`, query, technologySlug, limit)
	if err != nil {
		return nil, fmt.Errorf("search protocols: %w", err)
	}
	defer rows.Close()

	var protocols []Protocol
	for rows.Next() {
		p, err := scanProtocol(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		protocols = append(protocols, *p)
	}
	return protocols, rows.Err()
}

func (s *Postgres) RecordView(ctx context.Context, user *User, protocol *Protocol, apiKey *APIKey) error {
	tx, err := s.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin view transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO protocol_views (id, user_id, protocol_id, created_at)
		VALUES ($1, $2, $3, NOW())
	`, uuid.NewString(), user.ID, protocol.ID); err != nil {
		return fmt.Errorf("insert protocol view: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE protocols SET view_count = view_count + 1 WHERE id = $1
	`, protocol.ID); err != nil {
		return fmt.Errorf("bump view count: %w", err)
	}

	ideType := ""
	if apiKey != nil {
		ideType = apiKey.IDEType
	}

	// Lazily creates today's aggregate; the jsonb counters track usage per
	// technology and per client IDE.
	if _, err := tx.Exec(ctx, `
		INSERT INTO daily_usage (user_id, date, protocol_views, api_requests, usage_by_technology, usage_by_ide)
		VALUES ($1, CURRENT_DATE, 1, 1,
		        jsonb_build_object($2::text, 1),
		        CASE WHEN $3 = '' THEN '{}'::jsonb ELSE jsonb_build_object($3::text, 1) END)
		ON CONFLICT (user_id, date) DO UPDATE SET
			protocol_views = daily_usage.protocol_views + 1,
			api_requests = daily_usage.api_requests + 1,
			usage_by_technology = jsonb_set(
				COALESCE(daily_usage.usage_by_technology, '{}'::jsonb),
				ARRAY[$2::text],
				to_jsonb(COALESCE((daily_usage.usage_by_technology ->> $2::text)::int, 0) + 1)),
			usage_by_ide = CASE WHEN $3 = '' THEN daily_usage.usage_by_ide ELSE jsonb_set(
				COALESCE(daily_usage.usage_by_ide, '{}'::jsonb),
				ARRAY[$3::text],
				to_jsonb(COALESCE((daily_usage.usage_by_ide ->> $3::text)::int, 0) + 1)) END
	`, user.ID, protocol.TechnologySlug, ideType); err != nil {
		return fmt.Errorf("upsert daily usage: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *Postgres) DailyUsageToday(ctx context.Context, userID string) (*DailyUsage, error) {
	var usage DailyUsage
	var byTech, byIDE []byte
	err := s.db.Pool().QueryRow(ctx, `
		SELECT api_requests, protocol_views, COALESCE(steering_rule_views, 0),
		       COALESCE(usage_by_technology, '{}'::jsonb), COALESCE(usage_by_ide, '{}'::jsonb)
		FROM daily_usage
		WHERE user_id = $1 AND date = CURRENT_DATE
	`, userID).Scan(&usage.APIRequests, &usage.ProtocolViews, &usage.SteeringRuleViews, &byTech, &byIDE)
	if errors.Is(err, pgx.ErrNoRows) {
		return &DailyUsage{
			UsageByTechnology: map[string]int{},
			UsageByIDE:        map[string]int{},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query daily usage: %w", err)
	}

	if err := json.Unmarshal(byTech, &usage.UsageByTechnology); err != nil {
		usage.UsageByTechnology = map[string]int{}
	}
	if err := json.Unmarshal(byIDE, &usage.UsageByIDE); err != nil {
		usage.UsageByIDE = map[string]int{}
	}
	return &usage, nil
}

func (s *Postgres) RecordAccessLog(ctx context.Context, entry *AccessLogEntry) error {
	_, err := s.db.Pool().Exec(ctx, `
		INSERT INTO access_logs (
			id, user_id, api_key_id, content_type, content_id,
			technology_id, watermark_id, ip_address, user_agent,
			ide_type, response_time_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	`, uuid.NewString(), entry.UserID, entry.APIKeyID, entry.ContentType, entry.ContentID,
		entry.TechnologyID, entry.WatermarkID, entry.IPAddress, entry.UserAgent,
		entry.IDEType, entry.ResponseTimeMS)
	if err != nil {
		return fmt.Errorf("insert access log: %w", err)
	}
	return nil
}
