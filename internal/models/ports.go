package models

import (
	"context"
	"time"
)

const (
	SenderRoleContact = "contact"
	SenderRoleAgent   = "agent"
)

// ExternalMessage is one message of a conversation held in the external
// conversation system.
type ExternalMessage struct {
	Content    string    `json:"content"`
	SenderRole string    `json:"sender_role"`
	CreatedAt  time.Time `json:"created_at"`
}

// EngagementChecker answers whether a phone already has a human-handled
// conversation elsewhere, and whether that person declined.
type EngagementChecker interface {
	// FindByPhone returns the external contact id, or "" when there is none.
	FindByPhone(ctx context.Context, phone string) (string, error)
	// RecentMessages returns a bounded list, most recent first.
	RecentMessages(ctx context.Context, contactID string) ([]ExternalMessage, error)
	HasDeclineSignal(ctx context.Context, contactID string) (bool, error)
}

// SendResult describes one delivered (or failed) bubble.
type SendResult struct {
	Chunk     string `json:"chunk"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (r SendResult) OK() bool {
	return r.Error == ""
}

type MessagingGateway interface {
	SendText(ctx context.Context, phone, text string) (string, error)
	// SendTextPaced splits text into bubbles and sends them with a pause between
	// each. It returns one result per attempted chunk and stops at the first failure.
	SendTextPaced(ctx context.Context, phone, text string) ([]SendResult, error)
	NumberIsReachable(ctx context.Context, phone string) (bool, error)
}

type Card struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Desc     string `json:"desc"`
	ListID   string `json:"idList"`
	ShortURL string `json:"shortUrl"`
}

type TaskBoard interface {
	CreateCard(ctx context.Context, listID, name, description string) (string, error)
	MoveCard(ctx context.Context, cardID, listID string) error
	AddComment(ctx context.Context, cardID, text string) error
	FindCardMatchingText(ctx context.Context, text string) (*Card, error)
}

// Transition is published after a lifecycle change has been committed.
type Transition struct {
	ProspectID string    `json:"prospect_id"`
	Phone      string    `json:"phone"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	Event      Event     `json:"event"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// TransitionHook reacts to committed transitions. Hooks are best effort:
// they log their own failures and never affect the lifecycle.
type TransitionHook interface {
	OnTransition(ctx context.Context, prospect *Prospect, t Transition)
}
