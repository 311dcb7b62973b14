package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"outreach-agent/internal/models"
	"outreach-agent/internal/utils"
)

// BoardLists names the task-board lists a prospect card moves through. An
// empty id disables the move into that list.
type BoardLists struct {
	Cold       string `yaml:"cold"`
	Connection string `yaml:"connection"`
	Interested string `yaml:"interested"`
	Archived   string `yaml:"archived"`
}

// BoardSync mirrors lifecycle transitions onto a task board.
type BoardSync struct {
	board     models.TaskBoard
	prospects models.ProspectRepository
	lists     BoardLists
	timeout   time.Duration
	location  *time.Location
}

var _ models.TransitionHook = (*BoardSync)(nil)

func NewBoardSync(board models.TaskBoard, prospects models.ProspectRepository, lists BoardLists, location *time.Location) *BoardSync {
	if location == nil {
		location = time.UTC
	}
	return &BoardSync{
		board:     board,
		prospects: prospects,
		lists:     lists,
		timeout:   30 * time.Second,
		location:  location,
	}
}

func (b *BoardSync) OnTransition(ctx context.Context, p *models.Prospect, t models.Transition) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()

	var err error
	switch {
	case t.From == models.StatusNew && t.To == models.StatusContacted:
		err = b.createCard(ctx, p, t)
	case t.To == models.StatusResponded:
		err = b.moveCard(ctx, p, b.lists.Connection,
			fmt.Sprintf("Cliente respondeu em %s", t.At.In(b.location).Format("02/01/2006 15:04")))
	case t.To == models.StatusInteractedExternally:
		err = b.moveCard(ctx, p, b.lists.Interested, "Conversa em andamento no atendimento humano")
	case t.To == models.StatusDeclined:
		reason := t.Reason
		if reason == "" {
			reason = "desconhecido"
		}
		err = b.moveCard(ctx, p, b.lists.Archived,
			fmt.Sprintf("Cliente recusou ou pediu para parar. Motivo: %s", reason))
	}
	if err != nil {
		utils.LogWarning("Falha ao sincronizar quadro para %s (%s): %v", t.Phone, t.To, err)
	}
}

func (b *BoardSync) createCard(ctx context.Context, p *models.Prospect, t models.Transition) error {
	if b.lists.Cold == "" {
		utils.LogDebug("Lista fria não configurada, card não criado")
		return nil
	}
	if p.BoardCardID != "" {
		return nil
	}

	id, err := b.board.CreateCard(ctx, b.lists.Cold, cardName(p), cardDescription(p, t.At.In(b.location)))
	if err != nil {
		return err
	}
	if err := b.prospects.UpdateFields(ctx, p.ID, models.ProspectUpdate{BoardCardID: &id}); err != nil {
		utils.LogWarning("Card %s criado mas não vinculado ao prospect %s: %v", id, p.ID, err)
	}
	p.BoardCardID = id
	return b.board.AddComment(ctx, id, "Primeiro contato enviado pelo agente")
}

func (b *BoardSync) moveCard(ctx context.Context, p *models.Prospect, listID, comment string) error {
	if listID == "" {
		return nil
	}
	cardID, err := b.cardID(ctx, p)
	if err != nil || cardID == "" {
		return err
	}
	if err := b.board.MoveCard(ctx, cardID, listID); err != nil {
		return err
	}
	return b.board.AddComment(ctx, cardID, comment)
}

// cardID prefers the stored id and falls back to searching the board for the
// phone, linking the card it finds.
func (b *BoardSync) cardID(ctx context.Context, p *models.Prospect) (string, error) {
	if p.BoardCardID != "" {
		return p.BoardCardID, nil
	}
	card, err := b.board.FindCardMatchingText(ctx, p.Phone)
	if err != nil {
		return "", err
	}
	if card == nil {
		utils.LogDebug("Nenhum card encontrado para %s", p.Phone)
		return "", nil
	}
	if err := b.prospects.UpdateFields(ctx, p.ID, models.ProspectUpdate{BoardCardID: &card.ID}); err != nil {
		utils.LogWarning("Erro ao vincular card %s ao prospect %s: %v", card.ID, p.ID, err)
	}
	p.BoardCardID = card.ID
	return card.ID, nil
}

func cardName(p *models.Prospect) string {
	switch {
	case p.Company != "" && p.Name != "":
		return p.Company + " - " + p.Name
	case p.Company != "":
		return p.Company
	case p.Name != "":
		return p.Name
	}
	return p.Phone
}

func cardDescription(p *models.Prospect, contactedAt time.Time) string {
	orNA := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "N/A"
		}
		return s
	}
	return fmt.Sprintf("**Telefone:** %s\n**Cidade:** %s\n**Setor:** %s\n**Website:** %s\n**Data Contato:** %s",
		p.Phone, orNA(p.City), orNA(p.Sector), orNA(p.Website), contactedAt.Format("02/01/2006"))
}
