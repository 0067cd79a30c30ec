package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veiloq/broker-connector/pkg/interfaces"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PerSecond = 5
	cfg.PerMinute = 20
	cfg.PerDay = 1000
	return cfg
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.PerSecond = 0
	require.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.MarginMinute = 1.0
	require.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.MarginDay = -0.1
	require.Error(t, bad.Validate())
}

func TestEffectiveLimit(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 9, cfg.EffectiveLimit(interfaces.TierSecond))
	assert.Equal(t, 180, cfg.EffectiveLimit(interfaces.TierMinute))
	assert.Equal(t, 95000, cfg.EffectiveLimit(interfaces.TierDay))
}

func TestAcquireSecondTier(t *testing.T) {
	limiter, err := NewLimiter(testConfig(), nil)
	require.NoError(t, err)

	// The full per-second budget passes inside one wall-clock second.
	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Acquire(), "acquire %d should pass", i)
		limiter.Record()
	}

	// The next call in the same second is rejected on the second tier.
	err = limiter.Acquire()
	require.Error(t, err)

	var rle *interfaces.RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, interfaces.TierSecond, rle.Tier)
	assert.Greater(t, rle.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, rle.RetryAfter, time.Second)
}

func TestAcquireMinuteTier(t *testing.T) {
	cfg := testConfig()
	cfg.PerSecond = 100 // keep the second tier out of the way
	cfg.PerMinute = 10
	limiter, err := NewLimiter(cfg, nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, limiter.Acquire())
		limiter.Record()
	}

	err = limiter.Acquire()
	var rle *interfaces.RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, interfaces.TierMinute, rle.Tier)
	assert.Greater(t, rle.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, rle.RetryAfter, time.Minute)
}

func TestSecondWindowSlides(t *testing.T) {
	cfg := testConfig()
	cfg.PerSecond = 2
	limiter, err := NewLimiter(cfg, nil)
	require.NoError(t, err)

	require.NoError(t, limiter.Acquire())
	limiter.Record()
	require.NoError(t, limiter.Acquire())
	limiter.Record()
	require.Error(t, limiter.Acquire())

	// After the window slides past the oldest entry the slot frees up.
	time.Sleep(1100 * time.Millisecond)
	require.NoError(t, limiter.Acquire())
}

func TestDayLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counter.json")

	// Persist a counter one call short of the day cap for today.
	st := persistedState{
		RecordDate:      time.Now().Format(dateLayout),
		TotalCalls:      99999,
		SuccessfulCalls: 99999,
		LastUpdated:     time.Now(),
	}
	require.NoError(t, saveState(path, st))

	cfg := DefaultConfig()
	cfg.PersistPath = path
	limiter, err := NewLimiter(cfg, nil)
	require.NoError(t, err)
	assert.False(t, limiter.DayLimitReached())

	require.NoError(t, limiter.Acquire())
	limiter.Record()
	assert.True(t, limiter.DayLimitReached())

	err = limiter.Acquire()
	var rle *interfaces.RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, interfaces.TierDay, rle.Tier)

	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	assert.InDelta(t, midnight.Sub(now).Seconds(), rle.RetryAfter.Seconds(), 1.0)
}

func TestStaleStateZeroed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counter.json")

	st := persistedState{
		RecordDate:      "2020-01-01",
		TotalCalls:      99999,
		SuccessfulCalls: 99999,
		LastUpdated:     time.Now(),
	}
	require.NoError(t, saveState(path, st))

	cfg := DefaultConfig()
	cfg.PersistPath = path
	limiter, err := NewLimiter(cfg, nil)
	require.NoError(t, err)

	stats := limiter.GetStats()
	assert.Equal(t, 0, stats.DayCount)
	assert.False(t, limiter.DayLimitReached())
}

func TestPersistEveryNthCall(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "counter.json")

	cfg := testConfig()
	cfg.PerSecond = 100
	cfg.PerMinute = 100
	cfg.PersistPath = path
	cfg.PersistEvery = 3
	limiter, err := NewLimiter(cfg, nil)
	require.NoError(t, err)

	limiter.Record()
	limiter.Record()
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "no persist expected before the interval")

	limiter.Record()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var st persistedState
	require.NoError(t, json.Unmarshal(data, &st))
	assert.Equal(t, 3, st.TotalCalls)
	assert.Equal(t, time.Now().Format(dateLayout), st.RecordDate)
}

func TestForcePersist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "counter.json")

	cfg := testConfig()
	cfg.PersistPath = path
	limiter, err := NewLimiter(cfg, nil)
	require.NoError(t, err)

	limiter.Record()
	limiter.RecordFailure()
	limiter.ForcePersist()

	st, err := loadState(path)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalCalls)
	assert.Equal(t, 1, st.SuccessfulCalls)
}

func TestWaitIfNeeded(t *testing.T) {
	cfg := testConfig()
	cfg.PerSecond = 2
	limiter, err := NewLimiter(cfg, nil)
	require.NoError(t, err)

	limiter.Record()
	limiter.Record()

	// The second tier is exhausted; WaitIfNeeded should sleep through the
	// shortfall rather than fail.
	start := time.Now()
	require.NoError(t, limiter.WaitIfNeeded(context.Background()))
	assert.Greater(t, time.Since(start), 500*time.Millisecond)
}

func TestWaitIfNeededContextCancel(t *testing.T) {
	cfg := testConfig()
	cfg.PerSecond = 1
	limiter, err := NewLimiter(cfg, nil)
	require.NoError(t, err)

	limiter.Record()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = limiter.WaitIfNeeded(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitIfNeededDayTierFailsFast(t *testing.T) {
	cfg := testConfig()
	cfg.PerDay = 1
	limiter, err := NewLimiter(cfg, nil)
	require.NoError(t, err)

	limiter.Record()

	start := time.Now()
	err = limiter.WaitIfNeeded(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "day tier must not be awaited")

	var rle *interfaces.RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, interfaces.TierDay, rle.Tier)
}

func TestConcurrentAcquireNeverOvershoots(t *testing.T) {
	cfg := testConfig()
	cfg.PerSecond = 10
	cfg.PerMinute = 10
	limiter, err := NewLimiter(cfg, nil)
	require.NoError(t, err)

	passed := make(chan struct{}, 100)
	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func() {
			if limiter.Acquire() == nil {
				limiter.Record()
				passed <- struct{}{}
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < 20; i++ {
		<-done
	}

	assert.LessOrEqual(t, len(passed), 10, "concurrent callers must not jointly exceed the cap")
}

func TestSmoother(t *testing.T) {
	limiter, err := NewLimiter(testConfig(), nil)
	require.NoError(t, err)

	pacer := limiter.Smoother()
	require.NotNil(t, pacer)

	// Two takes should be spaced by roughly the effective per-second rate.
	pacer.Take()
	first := time.Now()
	pacer.Take()
	assert.GreaterOrEqual(t, time.Since(first), 100*time.Millisecond)
}
