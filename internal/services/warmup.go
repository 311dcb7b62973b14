package services

import (
	"context"
	"fmt"
	"time"

	"outreach-agent/internal/models"
)

// UnthrottledDailyLimit bounds the daily volume when warm-up is off.
const UnthrottledDailyLimit = 1000

// WarmupStep allows Limit sends per day while days since start is at most MaxDays.
type WarmupStep struct {
	MaxDays int `yaml:"max_days"`
	Limit   int `yaml:"limit"`
}

// WarmupPolicy maps days since the start date to a daily ceiling.
type WarmupPolicy struct {
	Enabled    bool
	StartDate  *time.Time
	Steps      []WarmupStep
	FinalLimit int
}

func DefaultWarmupSteps() []WarmupStep {
	return []WarmupStep{
		{MaxDays: 3, Limit: 5},
		{MaxDays: 7, Limit: 10},
		{MaxDays: 14, Limit: 15},
		{MaxDays: 21, Limit: 20},
	}
}

const DefaultWarmupFinalLimit = 25

// Validate rejects tables that are not ascending in days and non-decreasing in limit.
func (p WarmupPolicy) Validate() error {
	prevDays, prevLimit := -1, 0
	for i, step := range p.Steps {
		if step.MaxDays <= prevDays {
			return fmt.Errorf("warm-up step %d: max_days must increase", i)
		}
		if step.Limit < prevLimit || step.Limit < 0 {
			return fmt.Errorf("warm-up step %d: limit must not decrease", i)
		}
		prevDays, prevLimit = step.MaxDays, step.Limit
	}
	if p.FinalLimit < prevLimit {
		return fmt.Errorf("warm-up final limit %d is below the last step", p.FinalLimit)
	}
	return nil
}

// LimitForDays is the ceiling for a given day offset. Negative offsets are 0.
func (p WarmupPolicy) LimitForDays(days int) int {
	if days < 0 {
		return 0
	}
	for _, step := range p.Steps {
		if days <= step.MaxDays {
			return step.Limit
		}
	}
	return p.FinalLimit
}

// WarmupThrottle gates outreach on the work window and the daily ceiling, and
// is the only writer of the daily counter.
type WarmupThrottle struct {
	policy WarmupPolicy
	window *WorkWindow
	state  *AgentStateManager
}

func NewWarmupThrottle(policy WarmupPolicy, window *WorkWindow, state *AgentStateManager) (*WarmupThrottle, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &WarmupThrottle{policy: policy, window: window, state: state}, nil
}

func (t *WarmupThrottle) DailyLimit(today time.Time) int {
	if !t.policy.Enabled || t.policy.StartDate == nil {
		return UnthrottledDailyLimit
	}
	return t.policy.LimitForDays(t.daysSinceStart(today))
}

// daysSinceStart counts calendar days between the start date and today in the
// window's location, so DST shifts do not skew the count.
func (t *WarmupThrottle) daysSinceStart(today time.Time) int {
	loc := t.window.location()
	y, m, d := today.In(loc).Date()
	sy, sm, sd := t.policy.StartDate.In(loc).Date()
	a := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	b := time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC)
	return int(a.Sub(b).Hours() / 24)
}

// CanSendNow is false outside the work window. Otherwise it rolls the counter
// over when the stored day is stale and compares it with today's limit.
func (t *WarmupThrottle) CanSendNow(ctx context.Context, now time.Time) (bool, error) {
	if !t.window.IsWithinWorkWindow(now) {
		return false, nil
	}
	state, err := t.rollover(ctx, now)
	if err != nil {
		return false, err
	}
	return state.MessagesSentToday < t.DailyLimit(now), nil
}

// RecordSend counts one delivered message. Call it once per real send.
func (t *WarmupThrottle) RecordSend(ctx context.Context, now time.Time) (*models.AgentState, error) {
	today := t.window.Day(now)
	return t.state.Update(ctx, func(s *models.AgentState) bool {
		if s.CurrentDay < today {
			s.CurrentDay = today
			s.MessagesSentToday = 0
		}
		s.MessagesSentToday++
		active := now.UTC()
		s.LastActive = &active
		return true
	})
}

// Status reports the current counter after any pending rollover.
func (t *WarmupThrottle) Status(ctx context.Context, now time.Time) (*models.AgentState, int, error) {
	state, err := t.rollover(ctx, now)
	if err != nil {
		return nil, 0, err
	}
	return state, t.DailyLimit(now), nil
}

func (t *WarmupThrottle) rollover(ctx context.Context, now time.Time) (*models.AgentState, error) {
	today := t.window.Day(now)
	return t.state.Update(ctx, func(s *models.AgentState) bool {
		// YYYY-MM-DD compares lexically; the day only moves forward.
		if s.CurrentDay >= today {
			return false
		}
		s.CurrentDay = today
		s.MessagesSentToday = 0
		return true
	})
}
