package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"outreach-agent/internal/models"
	"outreach-agent/internal/repositories"
	"outreach-agent/internal/utils"
)

var saoPaulo = mustLocation("America/Sao_Paulo")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// monday10 is inside the morning window.
var monday10 = time.Date(2026, 3, 2, 10, 0, 0, 0, saoPaulo)

type sentMessage struct {
	Phone string
	Text  string
	Paced bool
}

type fakeGateway struct {
	mu        sync.Mutex
	sent      []sentMessage
	err       error
	failAfter int // paced: chunks delivered before failing, 0 disables
	reachable map[string]bool
}

func (g *fakeGateway) SendText(ctx context.Context, phone, text string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	g.sent = append(g.sent, sentMessage{Phone: phone, Text: text})
	return fmt.Sprintf("msg-%d", len(g.sent)), nil
}

func (g *fakeGateway) SendTextPaced(ctx context.Context, phone, text string) ([]models.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var results []models.SendResult
	for i, chunk := range utils.SplitText(text, utils.DefaultChunkSize) {
		if g.err != nil || (g.failAfter > 0 && i >= g.failAfter) {
			err := g.err
			if err == nil {
				err = errors.New("gateway unavailable")
			}
			results = append(results, models.SendResult{Chunk: chunk, Error: err.Error()})
			return results, err
		}
		g.sent = append(g.sent, sentMessage{Phone: phone, Text: chunk, Paced: true})
		results = append(results, models.SendResult{Chunk: chunk, MessageID: fmt.Sprintf("msg-%d", len(g.sent))})
	}
	return results, nil
}

func (g *fakeGateway) NumberIsReachable(ctx context.Context, phone string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return false, g.err
	}
	return g.reachable[phone], nil
}

func (g *fakeGateway) Sent() []sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentMessage(nil), g.sent...)
}

type fakeChecker struct {
	contacts map[string]string
	declined map[string]bool
	err      error
	calls    int
}

func (c *fakeChecker) FindByPhone(ctx context.Context, phone string) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.contacts[phone], nil
}

func (c *fakeChecker) RecentMessages(ctx context.Context, contactID string) ([]models.ExternalMessage, error) {
	return nil, c.err
}

func (c *fakeChecker) HasDeclineSignal(ctx context.Context, contactID string) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	return c.declined[contactID], nil
}

type recordingHook struct {
	mu          sync.Mutex
	transitions []models.Transition
}

func (h *recordingHook) OnTransition(ctx context.Context, p *models.Prospect, t models.Transition) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transitions = append(h.transitions, t)
}

func (h *recordingHook) Transitions() []models.Transition {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Transition(nil), h.transitions...)
}

type harness struct {
	t        *testing.T
	now      time.Time
	store    *repositories.MemoryStore
	state    *AgentStateManager
	throttle *WarmupThrottle
	gateway  *fakeGateway
	checker  *fakeChecker
	hook     *recordingHook
	orch     *Orchestrator
}

type harnessOption func(*harnessSetup)

type harnessSetup struct {
	policy     WarmupPolicy
	noChecker  bool
	outreachFn func(*OutreachConfig)
}

func withPolicy(p WarmupPolicy) harnessOption {
	return func(s *harnessSetup) { s.policy = p }
}

func withOutreach(fn func(*OutreachConfig)) harnessOption {
	return func(s *harnessSetup) { s.outreachFn = fn }
}

func withoutChecker() harnessOption {
	return func(s *harnessSetup) { s.noChecker = true }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	setup := harnessSetup{
		policy: WarmupPolicy{Steps: DefaultWarmupSteps(), FinalLimit: DefaultWarmupFinalLimit},
	}
	for _, opt := range opts {
		opt(&setup)
	}

	h := &harness{
		t:       t,
		now:     monday10,
		store:   repositories.NewMemoryStore(),
		gateway: &fakeGateway{},
		checker: &fakeChecker{contacts: map[string]string{}, declined: map[string]bool{}},
		hook:    &recordingHook{},
	}
	h.store.SetClock(func() time.Time { return h.now })

	window := DefaultWorkWindow()
	h.state = NewAgentStateManager(h.store.AgentState())
	throttle, err := NewWarmupThrottle(setup.policy, window, h.state)
	require.NoError(t, err)
	h.throttle = throttle

	renderer, err := NewTemplateRenderer(DefaultFirstContactTemplates(), DefaultFollowUpTemplates())
	require.NoError(t, err)

	cfg := DefaultOutreachConfig()
	if setup.outreachFn != nil {
		setup.outreachFn(&cfg)
	}

	deps := OutreachDeps{
		Prospects: h.store.Prospects(),
		Messages:  h.store.MessageLogs(),
		State:     h.state,
		Throttle:  h.throttle,
		Gateway:   h.gateway,
		Renderer:  renderer,
		Hooks:     []models.TransitionHook{h.hook},
		Now:       func() time.Time { return h.now },
	}
	if !setup.noChecker {
		deps.Checker = h.checker
	}
	orch, err := NewOrchestrator(deps, cfg)
	require.NoError(t, err)
	h.orch = orch
	return h
}

func (h *harness) addProspect(phone string, status models.Status, created time.Time, mutate func(*models.Prospect)) *models.Prospect {
	h.t.Helper()
	p := &models.Prospect{
		Phone:     phone,
		Name:      "Carla",
		Company:   "Ótica Central",
		Sector:    "varejo",
		City:      "Foz do Iguaçu",
		Status:    status,
		CreatedAt: created,
	}
	if mutate != nil {
		mutate(p)
	}
	require.NoError(h.t, h.store.Prospects().Create(context.Background(), p))
	return p
}

func (h *harness) get(id string) *models.Prospect {
	h.t.Helper()
	p, err := h.store.Prospects().GetByID(context.Background(), id)
	require.NoError(h.t, err)
	return p
}

func (h *harness) logs(id string) []*models.MessageLog {
	h.t.Helper()
	logs, err := h.store.MessageLogs().ListByProspect(context.Background(), id, 100)
	require.NoError(h.t, err)
	return logs
}

func (h *harness) sentToday() int {
	h.t.Helper()
	s, err := h.state.Get(context.Background())
	require.NoError(h.t, err)
	return s.MessagesSentToday
}
