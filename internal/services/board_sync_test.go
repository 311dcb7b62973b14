package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-agent/internal/models"
)

type boardCall struct {
	Op     string
	CardID string
	ListID string
	Text   string
}

type fakeBoard struct {
	mu     sync.Mutex
	calls  []boardCall
	cards  map[string]*models.Card
	nextID int
	err    error
}

func newFakeBoard() *fakeBoard {
	return &fakeBoard{cards: map[string]*models.Card{}}
}

func (b *fakeBoard) record(c boardCall) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, c)
}

func (b *fakeBoard) CreateCard(ctx context.Context, listID, name, desc string) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	b.mu.Lock()
	b.nextID++
	id := "card-" + string(rune('0'+b.nextID))
	b.cards[id] = &models.Card{ID: id, Name: name, Desc: desc, ListID: listID}
	b.mu.Unlock()
	b.record(boardCall{Op: "create", CardID: id, ListID: listID, Text: name})
	return id, nil
}

func (b *fakeBoard) MoveCard(ctx context.Context, cardID, listID string) error {
	if b.err != nil {
		return b.err
	}
	b.record(boardCall{Op: "move", CardID: cardID, ListID: listID})
	return nil
}

func (b *fakeBoard) AddComment(ctx context.Context, cardID, text string) error {
	if b.err != nil {
		return b.err
	}
	b.record(boardCall{Op: "comment", CardID: cardID, Text: text})
	return nil
}

func (b *fakeBoard) FindCardMatchingText(ctx context.Context, text string) (*models.Card, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.cards {
		if strings.Contains(c.Desc, text) {
			return c, nil
		}
	}
	return nil, nil
}

func (b *fakeBoard) Calls() []boardCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]boardCall(nil), b.calls...)
}

var testLists = BoardLists{Cold: "cold", Connection: "connection", Interested: "interested", Archived: "archived"}

func TestBoardSyncFollowsLifecycle(t *testing.T) {
	h := newHarness(t)
	board := newFakeBoard()
	h.orch.AddHook(NewBoardSync(board, h.store.Prospects(), testLists, saoPaulo))
	p := h.addProspect("5545991110001", models.StatusNew, monday10.Add(-2*time.Hour), nil)

	report, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeSent, report.Outcome)

	stored := h.get(p.ID)
	assert.Equal(t, "card-1", stored.BoardCardID)

	_, err = h.orch.HandleInbound(context.Background(), p.Phone, "Oi, pode me explicar melhor?")
	require.NoError(t, err)

	calls := board.Calls()
	require.Len(t, calls, 4)
	assert.Equal(t, boardCall{Op: "create", CardID: "card-1", ListID: "cold", Text: "Ótica Central - Carla"}, calls[0])
	assert.Equal(t, "comment", calls[1].Op)
	assert.Equal(t, boardCall{Op: "move", CardID: "card-1", ListID: "connection"}, calls[2])
	assert.Equal(t, "Cliente respondeu em 02/03/2026 10:00", calls[3].Text)

	desc := board.cards["card-1"].Desc
	assert.Contains(t, desc, "**Telefone:** 5545991110001")
	assert.Contains(t, desc, "**Website:** N/A")
	assert.Contains(t, desc, "**Data Contato:** 02/03/2026")
}

func TestBoardSyncFindsCardByPhone(t *testing.T) {
	h := newHarness(t)
	board := newFakeBoard()
	board.cards["legacy"] = &models.Card{ID: "legacy", Desc: "**Telefone:** 5545991110002", ListID: "cold"}
	h.orch.AddHook(NewBoardSync(board, h.store.Prospects(), testLists, saoPaulo))
	p := h.addProspect("5545991110002", models.StatusFollowUpScheduled, monday10.Add(-72*time.Hour), func(p *models.Prospect) {
		p.ContactCount = 1
		next := monday10.Add(time.Hour)
		p.NextContactAt = &next
	})

	_, err := h.orch.Decline(context.Background(), p.ID, "operator")
	require.NoError(t, err)

	calls := board.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, boardCall{Op: "move", CardID: "legacy", ListID: "archived"}, calls[0])
	assert.Contains(t, calls[1].Text, "Motivo: operator")
	assert.Equal(t, "legacy", h.get(p.ID).BoardCardID)
}

func TestBoardSyncErrorsDoNotAffectLifecycle(t *testing.T) {
	h := newHarness(t)
	board := newFakeBoard()
	board.err = errors.New("trello down")
	h.orch.AddHook(NewBoardSync(board, h.store.Prospects(), testLists, saoPaulo))
	p := h.addProspect("5545991110003", models.StatusNew, monday10.Add(-2*time.Hour), nil)

	report, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, report.Outcome)
	stored := h.get(p.ID)
	assert.Equal(t, models.StatusFollowUpScheduled, stored.Status)
	assert.Empty(t, stored.BoardCardID)
}

func TestBoardSyncSkipsUnconfiguredLists(t *testing.T) {
	h := newHarness(t)
	board := newFakeBoard()
	h.orch.AddHook(NewBoardSync(board, h.store.Prospects(), BoardLists{}, saoPaulo))
	h.addProspect("5545991110004", models.StatusNew, monday10.Add(-2*time.Hour), nil)

	_, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, board.Calls())
}
