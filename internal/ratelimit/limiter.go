package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vizulabs-com/vizpilot-mcp/pkg/config"
	"github.com/vizulabs-com/vizpilot-mcp/pkg/logger"
)

// Unlimited marks a window with no cap in a Decision.
const Unlimited = -1

// Key layout in the counter store. Buckets are UTC calendar minute and day,
// so a counter expires exactly at its window boundary.
const (
	minuteKeyFormat = "ratelimit:minute:%s:%s"
	dayKeyFormat    = "ratelimit:day:%s:%s"
	minuteBucket    = "200601021504"
	dayBucket       = "20060102"
)

// counterScript increments a window counter and sets its expiry in the same
// atomic round-trip. Two concurrent callers can never both observe spare
// capacity before either increments.
var counterScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// Decision is the outcome of one admission check. Remaining fields are
// Unlimited (-1) for windows without a cap; reset fields are seconds until
// the corresponding window boundary.
type Decision struct {
	Allowed            bool
	Tier               string
	RemainingMinute    int
	RemainingDay       int
	ResetMinuteSeconds int
	ResetDaySeconds    int
}

// Usage is a read-only snapshot of a user's current window counters.
type Usage struct {
	MinuteCount int
	DayCount    int
}

// Limiter enforces per-tier admission control over shared Redis counters.
// Multiple process instances may run against the same counter store; all
// coordination happens through the store's atomic operations.
type Limiter struct {
	client     *redis.Client
	limits     map[string]config.TierLimits
	failClosed bool
	logger     *logger.Logger

	// injectable clock for window-boundary tests
	now func() time.Time
}

// New creates a limiter using the quota table from cfg.
func New(client *redis.Client, cfg *config.Config, logger *logger.Logger) *Limiter {
	return &Limiter{
		client:     client,
		limits:     cfg.RateLimits,
		failClosed: cfg.RateLimitFailClosed,
		logger:     logger,
		now:        time.Now,
	}
}

// CheckAndAdvance decides whether a request from userID at tier is
// admissible and advances both window counters as part of the same decision.
// Counters advance even for windows without a cap so that usage snapshots
// stay accurate, and even when the decision is a rejection: a rejected or
// later-failing request still costs its quota slot.
func (l *Limiter) CheckAndAdvance(ctx context.Context, userID, tier string) (Decision, error) {
	limits, ok := l.limits[tier]
	if !ok {
		limits = l.limits["free"]
	}

	now := l.now().UTC()
	decision := Decision{
		Allowed:            true,
		Tier:               tier,
		RemainingMinute:    Unlimited,
		RemainingDay:       Unlimited,
		ResetMinuteSeconds: secondsUntilNextMinute(now),
		ResetDaySeconds:    secondsUntilNextDay(now),
	}

	minuteKey := fmt.Sprintf(minuteKeyFormat, userID, now.Format(minuteBucket))
	dayKey := fmt.Sprintf(dayKeyFormat, userID, now.Format(dayBucket))

	minuteCount, err := l.advance(ctx, minuteKey, untilNextMinute(now))
	if err != nil {
		return l.storeFailure(tier, err)
	}
	dayCount, err := l.advance(ctx, dayKey, untilNextDay(now))
	if err != nil {
		return l.storeFailure(tier, err)
	}

	if limits.PerMinute != config.Unlimited {
		decision.RemainingMinute = clamp(limits.PerMinute - int(minuteCount))
		if int(minuteCount) > limits.PerMinute {
			decision.Allowed = false
		}
	}
	if limits.PerDay != config.Unlimited {
		decision.RemainingDay = clamp(limits.PerDay - int(dayCount))
		if int(dayCount) > limits.PerDay {
			decision.Allowed = false
		}
	}

	return decision, nil
}

// Snapshot returns the current counters without advancing them. Used for
// reporting, never for gating.
func (l *Limiter) Snapshot(ctx context.Context, userID string) (Usage, error) {
	now := l.now().UTC()
	minuteKey := fmt.Sprintf(minuteKeyFormat, userID, now.Format(minuteBucket))
	dayKey := fmt.Sprintf(dayKeyFormat, userID, now.Format(dayBucket))

	var usage Usage
	counts, err := l.client.MGet(ctx, minuteKey, dayKey).Result()
	if err != nil {
		return usage, fmt.Errorf("read usage counters: %w", err)
	}

	usage.MinuteCount = parseCount(counts[0])
	usage.DayCount = parseCount(counts[1])
	return usage, nil
}

// ResetAll drops every counter for a user immediately. Administrative
// override for support and testing, never on the hot path.
func (l *Limiter) ResetAll(ctx context.Context, userID string) error {
	patterns := []string{
		fmt.Sprintf("ratelimit:minute:%s:*", userID),
		fmt.Sprintf("ratelimit:day:%s:*", userID),
	}

	for _, pattern := range patterns {
		iter := l.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := l.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("delete counter %s: %w", iter.Val(), err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan counters: %w", err)
		}
	}
	return nil
}

func (l *Limiter) advance(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return counterScript.Run(ctx, l.client, []string{key}, ttl.Milliseconds()).Int64()
}

// storeFailure applies the configured policy when the counter store is
// unreachable: fail closed surfaces an internal error, fail open admits the
// request with a warning.
func (l *Limiter) storeFailure(tier string, err error) (Decision, error) {
	if l.failClosed {
		return Decision{}, fmt.Errorf("rate limit store unavailable: %w", err)
	}
	l.logger.Warnf("Rate limit store unavailable, admitting request: %v", err)
	return Decision{
		Allowed:         true,
		Tier:            tier,
		RemainingMinute: Unlimited,
		RemainingDay:    Unlimited,
	}, nil
}

// Reset seconds round up: a caller told to wait n seconds must find the
// window open after waiting, so a partial second counts as a whole one.
func secondsUntilNextMinute(now time.Time) int {
	return ceilSeconds(untilNextMinute(now))
}

func secondsUntilNextDay(now time.Time) int {
	return ceilSeconds(untilNextDay(now))
}

func ceilSeconds(d time.Duration) int {
	return int((d + time.Second - 1) / time.Second)
}

func untilNextMinute(now time.Time) time.Duration {
	next := now.Truncate(time.Minute).Add(time.Minute)
	return next.Sub(now)
}

func untilNextDay(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return next.Sub(now)
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func parseCount(v interface{}) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var n int
	fmt.Sscanf(s, "%d", &n)
	return n
}
