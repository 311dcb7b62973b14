package services

import (
	"context"
	"fmt"
	"time"

	"outreach-agent/internal/models"
	"outreach-agent/internal/utils"
)

const defaultStateAttempts = 5

// AgentStateManager owns every write to the agent state singleton. Each write
// is a read, a mutation of a private copy and a compare-and-swap on Version,
// repeated while other writers keep winning.
type AgentStateManager struct {
	repo     models.AgentStateRepository
	attempts int
}

func NewAgentStateManager(repo models.AgentStateRepository) *AgentStateManager {
	return &AgentStateManager{repo: repo, attempts: defaultStateAttempts}
}

// WithMaxAttempts sets how many compare-and-swap rounds Update tries.
func (m *AgentStateManager) WithMaxAttempts(n int) *AgentStateManager {
	if n > 0 {
		m.attempts = n
	}
	return m
}

func (m *AgentStateManager) Get(ctx context.Context) (*models.AgentState, error) {
	return m.repo.Get(ctx)
}

// Update applies fn until it lands on an unchanged version. fn may return
// false to skip the write; the current state is returned as is.
func (m *AgentStateManager) Update(ctx context.Context, fn func(state *models.AgentState) bool) (*models.AgentState, error) {
	for attempt := 0; attempt < m.attempts; attempt++ {
		current, err := m.repo.Get(ctx)
		if err != nil {
			return nil, err
		}
		next := current.Clone()
		if !fn(next) {
			return current, nil
		}
		ok, err := m.repo.CompareAndSwap(ctx, current.Version, next)
		if err != nil {
			return nil, err
		}
		if ok {
			return next, nil
		}
		utils.LogDebug("Conflito de versão no estado do agente (tentativa %d)", attempt+1)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", m.attempts, models.ErrStateConflict)
}

func (m *AgentStateManager) Heartbeat(ctx context.Context, now time.Time) error {
	_, err := m.Update(ctx, func(s *models.AgentState) bool {
		t := now.UTC()
		s.LastHeartbeat = &t
		return true
	})
	return err
}

func (m *AgentStateManager) SetActive(ctx context.Context, active bool) (*models.AgentState, error) {
	return m.Update(ctx, func(s *models.AgentState) bool {
		if s.IsActive == active {
			return false
		}
		s.IsActive = active
		return true
	})
}

func (m *AgentStateManager) Pause(ctx context.Context) (*models.AgentState, error) {
	return m.SetActive(ctx, false)
}

func (m *AgentStateManager) Resume(ctx context.Context) (*models.AgentState, error) {
	return m.SetActive(ctx, true)
}
