package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"outreach-agent/internal/models"
)

const (
	Producer        = "outreach-agent"
	DefaultExchange = "outreach"
)

type Meta struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Time     time.Time `json:"time"`
	Producer string    `json:"producer"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// TransitionData is the payload of a prospect.<status>.v1 event.
type TransitionData struct {
	Prospect   *models.Prospect  `json:"prospect"`
	Transition models.Transition `json:"transition"`
}

// RoutingKey names the topic a transition is published under.
func RoutingKey(to models.Status) string {
	return fmt.Sprintf("prospect.%s.v1", to)
}

func NewTransitionEnvelope(p *models.Prospect, t models.Transition) Envelope {
	return Envelope{
		Meta: Meta{
			ID:       uuid.NewString(),
			Type:     RoutingKey(t.To),
			Time:     t.At.UTC(),
			Producer: Producer,
		},
		Data: TransitionData{Prospect: p, Transition: t},
	}
}
