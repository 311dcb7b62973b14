package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-agent/internal/models"
	"outreach-agent/internal/repositories"
)

func newThrottle(t *testing.T, policy WarmupPolicy) (*WarmupThrottle, *AgentStateManager) {
	t.Helper()
	state := NewAgentStateManager(repositories.NewMemoryStore().AgentState())
	throttle, err := NewWarmupThrottle(policy, DefaultWorkWindow(), state)
	require.NoError(t, err)
	return throttle, state
}

func defaultPolicy(start *time.Time) WarmupPolicy {
	return WarmupPolicy{
		Enabled:    true,
		StartDate:  start,
		Steps:      DefaultWarmupSteps(),
		FinalLimit: DefaultWarmupFinalLimit,
	}
}

func TestLimitForDaysTable(t *testing.T) {
	p := defaultPolicy(nil)
	cases := map[int]int{-1: 0, 0: 5, 3: 5, 4: 10, 7: 10, 8: 15, 14: 15, 15: 20, 21: 20, 22: 25, 365: 25}
	for days, want := range cases {
		assert.Equal(t, want, p.LimitForDays(days), "days=%d", days)
	}
}

func TestLimitForDaysIsMonotonic(t *testing.T) {
	p := defaultPolicy(nil)
	prev := p.LimitForDays(-30)
	assert.Equal(t, 0, prev)
	for days := -29; days <= 400; days++ {
		limit := p.LimitForDays(days)
		assert.GreaterOrEqual(t, limit, prev, "days=%d", days)
		if days < 0 {
			assert.Equal(t, 0, limit)
		}
		prev = limit
	}
}

func TestWarmupPolicyValidate(t *testing.T) {
	assert.NoError(t, defaultPolicy(nil).Validate())

	bad := defaultPolicy(nil)
	bad.Steps = []WarmupStep{{MaxDays: 3, Limit: 10}, {MaxDays: 7, Limit: 5}}
	assert.Error(t, bad.Validate())

	bad = defaultPolicy(nil)
	bad.Steps = []WarmupStep{{MaxDays: 7, Limit: 5}, {MaxDays: 3, Limit: 10}}
	assert.Error(t, bad.Validate())

	bad = defaultPolicy(nil)
	bad.FinalLimit = 1
	assert.Error(t, bad.Validate())

	_, err := NewWarmupThrottle(bad, DefaultWorkWindow(), nil)
	assert.Error(t, err)
}

func TestDailyLimit(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, saoPaulo)

	disabled, _ := newThrottle(t, WarmupPolicy{Steps: DefaultWarmupSteps(), FinalLimit: 25, StartDate: &start})
	assert.Equal(t, UnthrottledDailyLimit, disabled.DailyLimit(monday10))

	noStart, _ := newThrottle(t, defaultPolicy(nil))
	assert.Equal(t, UnthrottledDailyLimit, noStart.DailyLimit(monday10))

	throttle, _ := newThrottle(t, defaultPolicy(&start))
	assert.Equal(t, 0, throttle.DailyLimit(start.Add(-time.Hour)))
	assert.Equal(t, 5, throttle.DailyLimit(monday10))
	assert.Equal(t, 10, throttle.DailyLimit(monday10.AddDate(0, 0, 4)))
	assert.Equal(t, 25, throttle.DailyLimit(monday10.AddDate(0, 0, 30)))
}

func TestCanSendNowNeverTrueOutsideWindow(t *testing.T) {
	throttle, _ := newThrottle(t, defaultPolicy(nil))
	ctx := context.Background()
	window := DefaultWorkWindow()

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, saoPaulo)
	for now := start; now.Before(start.AddDate(0, 0, 8)); now = now.Add(7 * time.Minute) {
		ok, err := throttle.CanSendNow(ctx, now)
		require.NoError(t, err)
		if !window.IsWithinWorkWindow(now) {
			require.False(t, ok, "allowed at %s", now)
		} else {
			require.True(t, ok, "blocked at %s", now)
		}
	}
}

func TestRecordSendCountsAndRollsOverOnce(t *testing.T) {
	throttle, state := newThrottle(t, defaultPolicy(nil))
	ctx := context.Background()

	const k = 7
	for i := 0; i < k; i++ {
		_, err := throttle.RecordSend(ctx, monday10.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
	s, err := state.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, k, s.MessagesSentToday)
	assert.Equal(t, "2026-03-02", s.CurrentDay)
	require.NotNil(t, s.LastActive)

	tuesday := monday10.AddDate(0, 0, 1)
	ok, err := throttle.CanSendNow(ctx, tuesday)
	require.NoError(t, err)
	assert.True(t, ok)

	afterReset, err := state.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, afterReset.MessagesSentToday)
	assert.Equal(t, "2026-03-03", afterReset.CurrentDay)

	// Further reads around the boundary do not reset again.
	for i := 0; i < 5; i++ {
		_, err := throttle.CanSendNow(ctx, tuesday.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		_, _, err = throttle.Status(ctx, tuesday)
		require.NoError(t, err)
	}
	// A late read stamped with the previous day is ignored too.
	_, err = throttle.CanSendNow(ctx, monday10)
	require.NoError(t, err)

	again, err := state.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, afterReset.Version, again.Version)
	assert.Equal(t, "2026-03-03", again.CurrentDay)

	_, err = throttle.RecordSend(ctx, tuesday)
	require.NoError(t, err)
	s, err = state.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.MessagesSentToday)
}

func TestRecordSendRollsOverStaleDay(t *testing.T) {
	throttle, state := newThrottle(t, defaultPolicy(nil))
	ctx := context.Background()

	_, err := throttle.RecordSend(ctx, monday10)
	require.NoError(t, err)
	_, err = throttle.RecordSend(ctx, monday10.AddDate(0, 0, 1))
	require.NoError(t, err)

	s, err := state.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, s.MessagesSentToday)
	assert.Equal(t, "2026-03-03", s.CurrentDay)
}

func TestConcurrentRecordSendDoesNotLoseIncrements(t *testing.T) {
	const workers = 8
	state := NewAgentStateManager(repositories.NewMemoryStore().AgentState()).WithMaxAttempts(workers + 1)
	throttle, err := NewWarmupThrottle(defaultPolicy(nil), DefaultWorkWindow(), state)
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := throttle.RecordSend(ctx, monday10)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	s, err := state.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, workers, s.MessagesSentToday)
}

func TestCanSendNowAtLimit(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, saoPaulo)
	throttle, state := newThrottle(t, defaultPolicy(&start))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := throttle.CanSendNow(ctx, monday10)
		require.NoError(t, err)
		require.True(t, ok)
		_, err = throttle.RecordSend(ctx, monday10)
		require.NoError(t, err)
	}
	ok, err := throttle.CanSendNow(ctx, monday10)
	require.NoError(t, err)
	assert.False(t, ok)

	s, err := state.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, s.MessagesSentToday)
}

func TestAgentStatePauseResume(t *testing.T) {
	_, state := newThrottle(t, defaultPolicy(nil))
	ctx := context.Background()

	s, err := state.Pause(ctx)
	require.NoError(t, err)
	assert.False(t, s.IsActive)
	version := s.Version

	s, err = state.Pause(ctx)
	require.NoError(t, err)
	assert.Equal(t, version, s.Version, "pausing twice does not write")

	s, err = state.Resume(ctx)
	require.NoError(t, err)
	assert.True(t, s.IsActive)

	require.NoError(t, state.Heartbeat(ctx, monday10))
	s, err = state.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, s.LastHeartbeat)
	assert.True(t, s.LastHeartbeat.Equal(monday10))
}

type conflictingRepo struct {
	models.AgentStateRepository
}

func (conflictingRepo) CompareAndSwap(ctx context.Context, expectedVersion int64, next *models.AgentState) (bool, error) {
	return false, nil
}

func TestAgentStateUpdateGivesUpOnConflict(t *testing.T) {
	repo := conflictingRepo{repositories.NewMemoryStore().AgentState()}
	state := NewAgentStateManager(repo)
	_, err := state.Update(context.Background(), func(s *models.AgentState) bool {
		s.MessagesSentToday++
		return true
	})
	assert.ErrorIs(t, err, models.ErrStateConflict)
}
