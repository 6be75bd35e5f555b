package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vizulabs-com/vizpilot-mcp/pkg/config"
	"github.com/vizulabs-com/vizpilot-mcp/pkg/logger"
)

func newTestLimiter(t *testing.T, failClosed bool) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := config.Load()
	cfg.RateLimitFailClosed = failClosed

	l := New(client, cfg, logger.New("ratelimit-test", "test"))
	l.now = func() time.Time {
		return time.Date(2025, 6, 15, 10, 30, 12, 0, time.UTC)
	}
	return l, mr
}

func TestCheckAndAdvanceWithinCap(t *testing.T) {
	l, _ := newTestLimiter(t, false)
	ctx := context.Background()

	// free tier: 5/minute, 100/day
	for i := 1; i <= 5; i++ {
		d, err := l.CheckAndAdvance(ctx, "user-1", "free")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be admitted", i)
		assert.Equal(t, 5-i, d.RemainingMinute)
		assert.Equal(t, 100-i, d.RemainingDay)
	}
}

func TestCheckAndAdvanceRejectsOverCap(t *testing.T) {
	l, _ := newTestLimiter(t, false)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := l.CheckAndAdvance(ctx, "user-1", "free")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := l.CheckAndAdvance(ctx, "user-1", "free")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.RemainingMinute)
	assert.Greater(t, d.ResetMinuteSeconds, 0)
	assert.LessOrEqual(t, d.ResetMinuteSeconds, 60)
}

func TestResetSecondsRoundUpNearBoundary(t *testing.T) {
	l, _ := newTestLimiter(t, false)
	// Half a second before the minute rolls over.
	l.now = func() time.Time {
		return time.Date(2025, 6, 15, 10, 30, 59, 500_000_000, time.UTC)
	}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := l.CheckAndAdvance(ctx, "user-1", "free")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	d, err := l.CheckAndAdvance(ctx, "user-1", "free")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// A rejected caller is never told to wait 0 seconds while still limited.
	assert.GreaterOrEqual(t, d.ResetMinuteSeconds, 1)
	assert.LessOrEqual(t, d.ResetMinuteSeconds, 60)
	assert.GreaterOrEqual(t, d.ResetDaySeconds, 1)
}

func TestCheckAndAdvanceConcurrentCallers(t *testing.T) {
	l, _ := newTestLimiter(t, false)
	ctx := context.Background()

	// The counter advances atomically in the store, so interleaved callers
	// can never stretch the cap: exactly 5 of these get through.
	const callers = 40
	var admitted int64
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			d, err := l.CheckAndAdvance(ctx, "user-1", "free")
			if err == nil && d.Allowed {
				atomic.AddInt64(&admitted, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), atomic.LoadInt64(&admitted))
}

func TestCheckAndAdvanceUnlimitedWindows(t *testing.T) {
	l, _ := newTestLimiter(t, false)
	ctx := context.Background()

	// enterprise has no caps; counters still advance for snapshots
	for i := 0; i < 200; i++ {
		d, err := l.CheckAndAdvance(ctx, "user-ent", "enterprise")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, Unlimited, d.RemainingMinute)
		assert.Equal(t, Unlimited, d.RemainingDay)
	}

	usage, err := l.Snapshot(ctx, "user-ent")
	require.NoError(t, err)
	assert.Equal(t, 200, usage.MinuteCount)
	assert.Equal(t, 200, usage.DayCount)
}

func TestCheckAndAdvanceUnknownTierFallsBackToFree(t *testing.T) {
	l, _ := newTestLimiter(t, false)
	ctx := context.Background()

	d, err := l.CheckAndAdvance(ctx, "user-1", "platinum")
	require.NoError(t, err)
	assert.Equal(t, 4, d.RemainingMinute)
}

func TestWindowBoundaryResetsCounter(t *testing.T) {
	l, _ := newTestLimiter(t, false)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		l.CheckAndAdvance(ctx, "user-1", "free")
	}
	d, err := l.CheckAndAdvance(ctx, "user-1", "free")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	// Advance into the next calendar minute: a fresh window key applies.
	l.now = func() time.Time {
		return time.Date(2025, 6, 15, 10, 31, 2, 0, time.UTC)
	}

	d, err = l.CheckAndAdvance(ctx, "user-1", "free")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.RemainingMinute)
	// The day window keeps accumulating across minutes.
	assert.Equal(t, 100-8, d.RemainingDay)
}

func TestCounterExpirySetAtWindowBoundary(t *testing.T) {
	l, mr := newTestLimiter(t, false)
	ctx := context.Background()

	_, err := l.CheckAndAdvance(ctx, "user-1", "free")
	require.NoError(t, err)

	// now is 10:30:12, so the minute counter must expire in 48s.
	minuteTTL := mr.TTL("ratelimit:minute:user-1:202506151030")
	assert.Equal(t, 48*time.Second, minuteTTL)

	dayTTL := mr.TTL("ratelimit:day:user-1:20250615")
	assert.Equal(t, 13*time.Hour+29*time.Minute+48*time.Second, dayTTL)
}

func TestSnapshotDoesNotAdvance(t *testing.T) {
	l, _ := newTestLimiter(t, false)
	ctx := context.Background()

	l.CheckAndAdvance(ctx, "user-1", "free")
	l.CheckAndAdvance(ctx, "user-1", "free")

	for i := 0; i < 3; i++ {
		usage, err := l.Snapshot(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 2, usage.MinuteCount)
		assert.Equal(t, 2, usage.DayCount)
	}
}

func TestSnapshotEmpty(t *testing.T) {
	l, _ := newTestLimiter(t, false)

	usage, err := l.Snapshot(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, 0, usage.MinuteCount)
	assert.Equal(t, 0, usage.DayCount)
}

func TestResetAll(t *testing.T) {
	l, _ := newTestLimiter(t, false)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		l.CheckAndAdvance(ctx, "user-1", "free")
	}
	d, _ := l.CheckAndAdvance(ctx, "user-1", "free")
	require.False(t, d.Allowed)

	require.NoError(t, l.ResetAll(ctx, "user-1"))

	d, err := l.CheckAndAdvance(ctx, "user-1", "free")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.RemainingMinute)
}

func TestStoreFailureFailOpen(t *testing.T) {
	l, mr := newTestLimiter(t, false)
	mr.Close()

	d, err := l.CheckAndAdvance(context.Background(), "user-1", "free")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestStoreFailureFailClosed(t *testing.T) {
	l, mr := newTestLimiter(t, true)
	mr.Close()

	_, err := l.CheckAndAdvance(context.Background(), "user-1", "free")
	assert.Error(t, err)
}

func TestRateLimitErrorMessage(t *testing.T) {
	t.Run("minute window", func(t *testing.T) {
		err := &RateLimitError{Decision: Decision{
			RemainingMinute:    0,
			RemainingDay:       50,
			ResetMinuteSeconds: 42,
		}}
		assert.Equal(t, "Rate limit exceeded. Per-minute limit reached. Reset in 42 seconds.", err.Error())
	})

	t.Run("day window", func(t *testing.T) {
		err := &RateLimitError{Decision: Decision{
			RemainingMinute: 3,
			RemainingDay:    0,
			ResetDaySeconds: 3600,
		}}
		assert.Equal(t, "Rate limit exceeded. Daily limit reached. Reset in 3600 seconds.", err.Error())
	})

	t.Run("unlimited windows never named", func(t *testing.T) {
		err := &RateLimitError{Decision: Decision{
			RemainingMinute: Unlimited,
			RemainingDay:    Unlimited,
		}}
		assert.Equal(t, "Rate limit exceeded.", err.Error())
	})
}
