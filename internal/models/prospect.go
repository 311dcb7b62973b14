package models

import (
	"context"
	"time"
)

type Prospect struct {
	ID                string     `json:"id"`
	Phone             string     `json:"phone"`
	Name              string     `json:"name"`
	Company           string     `json:"company"`
	Sector            string     `json:"sector"`
	City              string     `json:"city"`
	Website           string     `json:"website"`
	Status            Status     `json:"status"`
	ContactCount      int        `json:"contact_count"`
	NextContactAt     *time.Time `json:"next_contact_at,omitempty"`
	LastTemplate      string     `json:"last_template,omitempty"`
	ExternalContactID string     `json:"external_contact_id,omitempty"`
	BoardCardID       string     `json:"board_card_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	FirstContactAt    *time.Time `json:"first_contact_at,omitempty"`
	LastContactAt     *time.Time `json:"last_contact_at,omitempty"`
	RespondedAt       *time.Time `json:"responded_at,omitempty"`
	DeclinedAt        *time.Time `json:"declined_at,omitempty"`
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (p *Prospect) Clone() *Prospect {
	if p == nil {
		return nil
	}
	c := *p
	c.NextContactAt = cloneTime(p.NextContactAt)
	c.FirstContactAt = cloneTime(p.FirstContactAt)
	c.LastContactAt = cloneTime(p.LastContactAt)
	c.RespondedAt = cloneTime(p.RespondedAt)
	c.DeclinedAt = cloneTime(p.DeclinedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ProspectUpdate is a partial merge: nil fields are left untouched.
// UpdatedAt is always assigned by the repository.
type ProspectUpdate struct {
	Status             *Status
	ContactCount       *int
	NextContactAt      *time.Time
	ClearNextContactAt bool
	LastTemplate       *string
	ExternalContactID  *string
	BoardCardID        *string
	FirstContactAt     *time.Time
	LastContactAt      *time.Time
	RespondedAt        *time.Time
	DeclinedAt         *time.Time
}

func (u ProspectUpdate) IsEmpty() bool {
	return u.Status == nil &&
		u.ContactCount == nil &&
		u.NextContactAt == nil &&
		!u.ClearNextContactAt &&
		u.LastTemplate == nil &&
		u.ExternalContactID == nil &&
		u.BoardCardID == nil &&
		u.FirstContactAt == nil &&
		u.LastContactAt == nil &&
		u.RespondedAt == nil &&
		u.DeclinedAt == nil
}

// ApplyTo merges u into p in place.
func (u ProspectUpdate) ApplyTo(p *Prospect) {
	if u.Status != nil {
		p.Status = *u.Status
	}
	if u.ContactCount != nil {
		p.ContactCount = *u.ContactCount
	}
	if u.ClearNextContactAt {
		p.NextContactAt = nil
	}
	if u.NextContactAt != nil {
		p.NextContactAt = cloneTime(u.NextContactAt)
	}
	if u.LastTemplate != nil {
		p.LastTemplate = *u.LastTemplate
	}
	if u.ExternalContactID != nil {
		p.ExternalContactID = *u.ExternalContactID
	}
	if u.BoardCardID != nil {
		p.BoardCardID = *u.BoardCardID
	}
	if u.FirstContactAt != nil {
		p.FirstContactAt = cloneTime(u.FirstContactAt)
	}
	if u.LastContactAt != nil {
		p.LastContactAt = cloneTime(u.LastContactAt)
	}
	if u.RespondedAt != nil {
		p.RespondedAt = cloneTime(u.RespondedAt)
	}
	if u.DeclinedAt != nil {
		p.DeclinedAt = cloneTime(u.DeclinedAt)
	}
}

type CandidateOrder string

const (
	OrderByCreatedAt     CandidateOrder = "created_at"
	OrderByNextContactAt CandidateOrder = "next_contact_at"
)

// CandidateQuery selects prospects of one status, optionally only those whose
// next_contact_at is at or before DueBy, oldest first by OrderBy (ties by id).
type CandidateQuery struct {
	Status  Status
	DueBy   *time.Time
	OrderBy CandidateOrder
	Limit   int
}

type ListQuery struct {
	Status Status
	Limit  int
	Offset int
}

type ProspectRepository interface {
	Create(ctx context.Context, prospect *Prospect) error
	GetByID(ctx context.Context, id string) (*Prospect, error)
	GetByPhone(ctx context.Context, phone string) (*Prospect, error)
	UpdateFields(ctx context.Context, id string, update ProspectUpdate) error
	SelectCandidates(ctx context.Context, query CandidateQuery) ([]*Prospect, error)
	List(ctx context.Context, query ListQuery) ([]*Prospect, error)
}
