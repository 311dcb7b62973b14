package models

import (
	"context"
	"time"
)

// AgentState is the process-wide singleton row. Version increases on every write.
type AgentState struct {
	MessagesSentToday int        `json:"messages_sent_today"`
	CurrentDay        string     `json:"current_day"`
	LastHeartbeat     *time.Time `json:"last_heartbeat,omitempty"`
	LastActive        *time.Time `json:"last_active,omitempty"`
	IsActive          bool       `json:"is_active"`
	Version           int64      `json:"version"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (s *AgentState) Clone() *AgentState {
	if s == nil {
		return nil
	}
	c := *s
	c.LastHeartbeat = cloneTime(s.LastHeartbeat)
	c.LastActive = cloneTime(s.LastActive)
	return &c
}

type AgentStateRepository interface {
	// Get returns the singleton, creating it on first use.
	Get(ctx context.Context) (*AgentState, error)
	// CompareAndSwap stores next only if the stored version still equals
	// expectedVersion. It reports false, nil when another writer won.
	CompareAndSwap(ctx context.Context, expectedVersion int64, next *AgentState) (bool, error)
}
