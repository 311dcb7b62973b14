package models

import "fmt"

// Status is the outreach lifecycle stage of a prospect.
type Status string

const (
	StatusNew                  Status = "new"
	StatusContacted            Status = "contacted"
	StatusFollowUpScheduled    Status = "follow_up_scheduled"
	StatusResponded            Status = "responded"
	StatusDeclined             Status = "declined"
	StatusInteractedExternally Status = "interacted_externally"
)

var allStatuses = []Status{
	StatusNew,
	StatusContacted,
	StatusFollowUpScheduled,
	StatusResponded,
	StatusDeclined,
	StatusInteractedExternally,
}

// Statuses returns every known status in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether automation must leave the prospect alone.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusResponded, StatusDeclined, StatusInteractedExternally:
		return true
	}
	return false
}

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("status desconhecido: %q", raw)
	}
	return s, nil
}

// Event is something that happened to a prospect and may move its status.
type Event string

const (
	EventFirstContactSent  Event = "first_contact_sent"
	EventFollowUpSent      Event = "follow_up_sent"
	EventFollowUpScheduled Event = "follow_up_scheduled"
	EventReplied           Event = "replied"
	EventOptedOut          Event = "opted_out"
	EventEngagedExternally Event = "engaged_externally"
	EventManualMessageSent Event = "manual_message_sent"
	EventOperatorReopened  Event = "operator_reopened"
)

type transitionKey struct {
	from  Status
	event Event
}

// transitions is the complete lifecycle table. Anything absent is illegal.
var transitions = map[transitionKey]Status{
	{StatusNew, EventFirstContactSent}:           StatusContacted,
	{StatusFollowUpScheduled, EventFollowUpSent}: StatusContacted,
	{StatusContacted, EventFollowUpScheduled}:    StatusFollowUpScheduled,

	{StatusNew, EventReplied}:               StatusResponded,
	{StatusContacted, EventReplied}:         StatusResponded,
	{StatusFollowUpScheduled, EventReplied}: StatusResponded,
	{StatusResponded, EventReplied}:         StatusResponded,

	{StatusNew, EventOptedOut}:                  StatusDeclined,
	{StatusContacted, EventOptedOut}:            StatusDeclined,
	{StatusFollowUpScheduled, EventOptedOut}:    StatusDeclined,
	{StatusResponded, EventOptedOut}:            StatusDeclined,
	{StatusInteractedExternally, EventOptedOut}: StatusDeclined,
	{StatusDeclined, EventOptedOut}:             StatusDeclined,

	{StatusNew, EventEngagedExternally}:               StatusInteractedExternally,
	{StatusFollowUpScheduled, EventEngagedExternally}: StatusInteractedExternally,

	{StatusNew, EventManualMessageSent}:                  StatusContacted,
	{StatusContacted, EventManualMessageSent}:            StatusContacted,
	{StatusFollowUpScheduled, EventManualMessageSent}:    StatusFollowUpScheduled,
	{StatusResponded, EventManualMessageSent}:            StatusResponded,
	{StatusInteractedExternally, EventManualMessageSent}: StatusInteractedExternally,

	{StatusInteractedExternally, EventOperatorReopened}: StatusNew,
	{StatusDeclined, EventOperatorReopened}:             StatusNew,
}

// Apply returns the status reached by applying e to s, or a *TransitionError
// wrapping ErrIllegalTransition.
func (s Status) Apply(e Event) (Status, error) {
	if next, ok := transitions[transitionKey{from: s, event: e}]; ok {
		return next, nil
	}
	return s, &TransitionError{From: s, Event: e}
}

// CanApply is Apply without the result.
func (s Status) CanApply(e Event) bool {
	_, ok := transitions[transitionKey{from: s, event: e}]
	return ok
}

// TransitionError reports an event that the lifecycle does not accept.
type TransitionError struct {
	From  Status
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transição ilegal: %s não aceita %s", e.From, e.Event)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}
