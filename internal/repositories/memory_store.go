package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"outreach-agent/internal/models"
)

// MemoryStore keeps prospects, message logs and the agent state in process
// memory. It satisfies the same contracts as the SQL repositories and backs
// tests and dry runs.
type MemoryStore struct {
	mu        sync.Mutex
	now       func() time.Time
	prospects map[string]*models.Prospect
	byPhone   map[string]string
	logs      []*models.MessageLog
	state     *models.AgentState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:       time.Now,
		prospects: make(map[string]*models.Prospect),
		byPhone:   make(map[string]string),
	}
}

// SetClock overrides the clock used for server-assigned timestamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Prospects() models.ProspectRepository     { return memoryProspects{s} }
func (s *MemoryStore) MessageLogs() models.MessageLogRepository { return memoryLogs{s} }
func (s *MemoryStore) AgentState() models.AgentStateRepository  { return memoryAgentState{s} }

type memoryProspects struct{ s *MemoryStore }

func (m memoryProspects) Create(ctx context.Context, prospect *models.Prospect) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byPhone[prospect.Phone]; exists {
		return fmt.Errorf("prospect %s: %w", prospect.Phone, models.ErrAlreadyExists)
	}
	if prospect.ID == "" {
		prospect.ID = uuid.NewString()
	}
	if _, exists := s.prospects[prospect.ID]; exists {
		return fmt.Errorf("prospect %s: %w", prospect.ID, models.ErrAlreadyExists)
	}
	if prospect.Status == "" {
		prospect.Status = models.StatusNew
	}
	now := dbTime(s.now())
	if prospect.CreatedAt.IsZero() {
		prospect.CreatedAt = now
	}
	prospect.CreatedAt = dbTime(prospect.CreatedAt)
	prospect.UpdatedAt = now

	s.prospects[prospect.ID] = prospect.Clone()
	s.byPhone[prospect.Phone] = prospect.ID
	return nil
}

func (m memoryProspects) GetByID(ctx context.Context, id string) (*models.Prospect, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.prospects[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return p.Clone(), nil
}

func (m memoryProspects) GetByPhone(ctx context.Context, phone string) (*models.Prospect, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	id, ok := m.s.byPhone[phone]
	if !ok {
		return nil, models.ErrNotFound
	}
	return m.s.prospects[id].Clone(), nil
}

func (m memoryProspects) UpdateFields(ctx context.Context, id string, update models.ProspectUpdate) error {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.prospects[id]
	if !ok {
		return models.ErrNotFound
	}
	update.ApplyTo(p)
	p.UpdatedAt = dbTime(s.now())
	return nil
}

func (m memoryProspects) SelectCandidates(ctx context.Context, q models.CandidateQuery) ([]*models.Prospect, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var out []*models.Prospect
	for _, p := range m.s.prospects {
		if p.Status != q.Status {
			continue
		}
		if q.DueBy != nil && (p.NextContactAt == nil || p.NextContactAt.After(*q.DueBy)) {
			continue
		}
		out = append(out, p.Clone())
	}

	key := func(p *models.Prospect) time.Time {
		if q.OrderBy == models.OrderByNextContactAt && p.NextContactAt != nil {
			return *p.NextContactAt
		}
		return p.CreatedAt
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := key(out[i]), key(out[j])
		if !ki.Equal(kj) {
			return ki.Before(kj)
		}
		return out[i].ID < out[j].ID
	})

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m memoryProspects) List(ctx context.Context, q models.ListQuery) ([]*models.Prospect, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	var out []*models.Prospect
	for _, p := range m.s.prospects {
		if q.Status != "" && p.Status != q.Status {
			continue
		}
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	if q.Offset >= len(out) {
		return nil, nil
	}
	out = out[q.Offset:]
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryLogs struct{ s *MemoryStore }

func (m memoryLogs) Append(ctx context.Context, prospectID string, direction models.Direction, content string) (*models.MessageLog, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.prospects[prospectID]; !ok {
		return nil, fmt.Errorf("message log for %s: %w", prospectID, models.ErrNotFound)
	}
	entry := &models.MessageLog{
		ID:         uuid.NewString(),
		ProspectID: prospectID,
		Direction:  direction,
		Content:    content,
		SentAt:     dbTime(s.now()),
	}
	s.logs = append(s.logs, entry)
	copied := *entry
	return &copied, nil
}

func (m memoryLogs) ListByProspect(ctx context.Context, prospectID string, limit int) ([]*models.MessageLog, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []*models.MessageLog
	for i := len(m.s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.s.logs[i].ProspectID == prospectID {
			copied := *m.s.logs[i]
			out = append(out, &copied)
		}
	}
	return out, nil
}

type memoryAgentState struct{ s *MemoryStore }

func (m memoryAgentState) Get(ctx context.Context) (*models.AgentState, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		s.state = &models.AgentState{IsActive: true, UpdatedAt: dbTime(s.now())}
	}
	return s.state.Clone(), nil
}

func (m memoryAgentState) CompareAndSwap(ctx context.Context, expectedVersion int64, next *models.AgentState) (bool, error) {
	s := m.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		s.state = &models.AgentState{IsActive: true, UpdatedAt: dbTime(s.now())}
	}
	if s.state.Version != expectedVersion {
		return false, nil
	}
	stored := next.Clone()
	stored.Version = expectedVersion + 1
	stored.UpdatedAt = dbTime(s.now())
	s.state = stored

	next.Version = stored.Version
	next.UpdatedAt = stored.UpdatedAt
	return true, nil
}
