package models

import (
	"context"
	"time"
)

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageLog is one sent or received text. Entries are never mutated.
type MessageLog struct {
	ID         string    `json:"id"`
	ProspectID string    `json:"prospect_id"`
	Direction  Direction `json:"direction"`
	Content    string    `json:"content"`
	SentAt     time.Time `json:"sent_at"`
}

type MessageLogRepository interface {
	Append(ctx context.Context, prospectID string, direction Direction, content string) (*MessageLog, error)
	// ListByProspect returns the newest entries first.
	ListByProspect(ctx context.Context, prospectID string, limit int) ([]*MessageLog, error)
}
