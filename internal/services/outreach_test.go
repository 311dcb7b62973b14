package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-agent/internal/models"
)

const (
	phoneA = "5545991110001"
	phoneB = "5545991110002"
	phoneC = "5545991110003"
	phoneD = "5545991110004"
)

func TestSelectionOrdering(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	past := h.now.Add(-time.Hour)
	future := h.now.Add(time.Hour)

	b := h.addProspect(phoneB, models.StatusNew, h.now.Add(-time.Hour), nil)
	a := h.addProspect(phoneA, models.StatusNew, h.now.Add(-2*time.Hour), nil)
	c := h.addProspect(phoneC, models.StatusFollowUpScheduled, h.now.Add(-72*time.Hour), func(p *models.Prospect) {
		p.NextContactAt = &past
		p.ContactCount = 1
	})
	h.addProspect(phoneD, models.StatusFollowUpScheduled, h.now.Add(-96*time.Hour), func(p *models.Prospect) {
		p.NextContactAt = &future
		p.ContactCount = 1
	})

	next, err := h.orch.SelectNextCandidate(ctx, h.now)
	require.NoError(t, err)
	assert.Equal(t, a.ID, next.ID)

	all, err := h.orch.SelectCandidates(ctx, h.now, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, []string{all[0].ID, all[1].ID, all[2].ID})

	limited, err := h.orch.SelectCandidates(ctx, h.now, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID}, []string{limited[0].ID, limited[1].ID})

	responded := models.StatusResponded
	for _, id := range []string{a.ID, b.ID} {
		require.NoError(t, h.store.Prospects().UpdateFields(ctx, id, models.ProspectUpdate{Status: &responded}))
	}
	next, err = h.orch.SelectNextCandidate(ctx, h.now)
	require.NoError(t, err)
	assert.Equal(t, c.ID, next.ID)

	require.NoError(t, h.store.Prospects().UpdateFields(ctx, c.ID, models.ProspectUpdate{Status: &responded}))
	next, err = h.orch.SelectNextCandidate(ctx, h.now)
	require.NoError(t, err)
	assert.Nil(t, next, "a follow-up due in the future is never selected")
}

func TestFirstContactScenario(t *testing.T) {
	h := newHarness(t)
	p := h.addProspect(phoneA, models.StatusNew, h.now.Add(-time.Hour), nil)

	report, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, report.Outcome)
	assert.Equal(t, p.ID, report.ProspectID)

	got := h.get(p.ID)
	assert.Equal(t, 1, got.ContactCount)
	assert.Equal(t, models.StatusFollowUpScheduled, got.Status)
	require.NotNil(t, got.NextContactAt)
	assert.WithinDuration(t, h.now.Add(48*time.Hour), *got.NextContactAt, time.Second)
	require.NotNil(t, got.FirstContactAt)
	assert.Contains(t, []string{"A", "B", "C"}, got.LastTemplate)

	logs := h.logs(p.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, models.DirectionOutbound, logs[0].Direction)
	assert.Contains(t, logs[0].Content, "Carla")

	sent := h.gateway.Sent()
	require.NotEmpty(t, sent)
	for _, m := range sent {
		assert.Equal(t, phoneA, m.Phone)
		assert.True(t, m.Paced)
		assert.LessOrEqual(t, len([]rune(m.Text)), 200)
	}

	transitions := h.hook.Transitions()
	require.Len(t, transitions, 2)
	assert.Equal(t, models.StatusNew, transitions[0].From)
	assert.Equal(t, models.StatusContacted, transitions[0].To)
	assert.Equal(t, models.EventFirstContactSent, transitions[0].Event)
	assert.Equal(t, models.StatusFollowUpScheduled, transitions[1].To)

	assert.Equal(t, 1, h.sentToday())
}

func TestDueFollowUpWithExternalDecline(t *testing.T) {
	h := newHarness(t)
	past := h.now.Add(-time.Hour)
	p := h.addProspect(phoneA, models.StatusFollowUpScheduled, h.now.Add(-72*time.Hour), func(p *models.Prospect) {
		p.NextContactAt = &past
		p.ContactCount = 1
	})
	h.checker.contacts[phoneA] = "cw-77"
	h.checker.declined["cw-77"] = true

	report, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoCandidate, report.Outcome)
	assert.Equal(t, 1, report.Declined)

	got := h.get(p.ID)
	assert.Equal(t, models.StatusDeclined, got.Status)
	assert.Nil(t, got.NextContactAt)
	assert.NotNil(t, got.DeclinedAt)
	assert.Equal(t, "cw-77", got.ExternalContactID)
	assert.Equal(t, 1, got.ContactCount)

	assert.Empty(t, h.gateway.Sent())
	assert.Empty(t, h.logs(p.ID))
	assert.Equal(t, 0, h.sentToday())
}

func TestExternallyEngagedProspectIsSkipped(t *testing.T) {
	h := newHarness(t)
	engaged := h.addProspect(phoneA, models.StatusNew, h.now.Add(-2*time.Hour), nil)
	fresh := h.addProspect(phoneB, models.StatusNew, h.now.Add(-time.Hour), nil)
	h.checker.contacts[phoneA] = "cw-1"

	report, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, report.Outcome)
	assert.Equal(t, fresh.ID, report.ProspectID)
	assert.Equal(t, 1, report.Engaged)

	got := h.get(engaged.ID)
	assert.Equal(t, models.StatusInteractedExternally, got.Status)
	assert.Equal(t, "cw-1", got.ExternalContactID)
	assert.Empty(t, h.logs(engaged.ID))

	for _, m := range h.gateway.Sent() {
		assert.Equal(t, phoneB, m.Phone)
	}
}

func TestCheckerFailureFailsClosed(t *testing.T) {
	h := newHarness(t)
	p := h.addProspect(phoneA, models.StatusNew, h.now.Add(-time.Hour), nil)
	h.checker.err = errors.New("chatwoot down")

	report, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoCandidate, report.Outcome)
	assert.Equal(t, 1, report.Skipped)

	got := h.get(p.ID)
	assert.Equal(t, models.StatusNew, got.Status)
	assert.Empty(t, h.gateway.Sent())

	// The same prospect is checked again on the next cycle.
	h.checker.err = nil
	report, err = h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, report.Outcome)
}

func TestRevalidationIsBoundedPerCycle(t *testing.T) {
	h := newHarness(t, withOutreach(func(c *OutreachConfig) { c.MaxCandidatesPerCycle = 3 }))
	h.checker.err = errors.New("timeout")
	for i := 0; i < 6; i++ {
		phone := "55459911100" + string(rune('1'+i)) + "0"
		h.addProspect(phone, models.StatusNew, h.now.Add(-time.Duration(10-i)*time.Minute), nil)
	}

	report, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 3, h.checker.calls)
}

func TestNoCheckerConfiguredStillSends(t *testing.T) {
	h := newHarness(t, withoutChecker())
	h.addProspect(phoneA, models.StatusNew, h.now.Add(-time.Hour), nil)

	report, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, report.Outcome)
}

func TestSendFailureLeavesProspectUntouched(t *testing.T) {
	h := newHarness(t)
	p := h.addProspect(phoneA, models.StatusNew, h.now.Add(-time.Hour), nil)
	h.gateway.err = errors.New("evolution 503")

	report, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSendFailed, report.Outcome)

	got := h.get(p.ID)
	assert.Equal(t, models.StatusNew, got.Status)
	assert.Equal(t, 0, got.ContactCount)
	assert.Nil(t, got.NextContactAt)
	assert.Empty(t, h.logs(p.ID))
	assert.Empty(t, h.hook.Transitions())
	assert.Equal(t, 0, h.sentToday())
}

func TestPartialPacedSendCountsAsSent(t *testing.T) {
	h := newHarness(t)
	p := h.addProspect(phoneA, models.StatusNew, h.now.Add(-time.Hour), nil)
	h.gateway.failAfter = 1

	report, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, report.Outcome)

	sent := h.gateway.Sent()
	require.Len(t, sent, 1)
	logs := h.logs(p.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, sent[0].Text, logs[0].Content)
	assert.Equal(t, 1, h.get(p.ID).ContactCount)
	assert.Equal(t, 1, h.sentToday())
}

func TestFollowUpSendsOrdinalTemplate(t *testing.T) {
	h := newHarness(t)
	past := h.now.Add(-time.Minute)
	p := h.addProspect(phoneA, models.StatusFollowUpScheduled, h.now.Add(-72*time.Hour), func(p *models.Prospect) {
		p.NextContactAt = &past
		p.ContactCount = 1
	})

	report, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, report.Outcome)

	sent := h.gateway.Sent()
	require.Len(t, sent, 1)
	assert.False(t, sent[0].Paced)
	assert.Equal(t, "Oi Carla, conseguiu dar uma olhada na minha mensagem anterior?", sent[0].Text)

	got := h.get(p.ID)
	assert.Equal(t, 2, got.ContactCount)
	assert.Equal(t, models.StatusFollowUpScheduled, got.Status)
	assert.Equal(t, "followup-1", got.LastTemplate)
	require.NotNil(t, got.NextContactAt)
	assert.WithinDuration(t, h.now.Add(72*time.Hour), *got.NextContactAt, time.Second)

	transitions := h.hook.Transitions()
	require.Len(t, transitions, 2)
	assert.Equal(t, models.EventFollowUpSent, transitions[0].Event)
	assert.Equal(t, models.StatusContacted, transitions[0].To)
}

func TestFollowUpBudgetExhausted(t *testing.T) {
	h := newHarness(t)
	past := h.now.Add(-time.Minute)
	p := h.addProspect(phoneA, models.StatusFollowUpScheduled, h.now.Add(-200*time.Hour), func(p *models.Prospect) {
		p.NextContactAt = &past
		p.ContactCount = 3
	})

	_, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)

	sent := h.gateway.Sent()
	require.Len(t, sent, 1)
	assert.True(t, strings.Contains(sent[0].Text, "última tentativa"))

	got := h.get(p.ID)
	assert.Equal(t, models.StatusContacted, got.Status)
	assert.Equal(t, 4, got.ContactCount)
	assert.Nil(t, got.NextContactAt)

	// Nothing left to do for this prospect.
	next, err := h.orch.SelectNextCandidate(context.Background(), h.now.Add(365*24*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestCycleAtDailyLimitDoesNothing(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, saoPaulo)
	h := newHarness(t, withPolicy(defaultPolicy(&start)))
	ctx := context.Background()
	p := h.addProspect(phoneA, models.StatusNew, h.now.Add(-time.Hour), nil)

	for i := 0; i < h.throttle.DailyLimit(h.now); i++ {
		_, err := h.throttle.RecordSend(ctx, h.now)
		require.NoError(t, err)
	}
	ok, err := h.throttle.CanSendNow(ctx, h.now)
	require.NoError(t, err)
	assert.False(t, ok)

	before := h.get(p.ID)
	report, err := h.orch.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, OutcomeThrottled, report.Outcome)

	assert.Empty(t, h.gateway.Sent())
	assert.Empty(t, h.logs(p.ID))
	assert.Equal(t, before, h.get(p.ID))
	assert.Equal(t, 5, h.sentToday())
	assert.Zero(t, h.checker.calls)
}

func TestCycleOutsideWindowDoesNothing(t *testing.T) {
	h := newHarness(t)
	h.now = time.Date(2026, 3, 7, 10, 0, 0, 0, saoPaulo)
	h.addProspect(phoneA, models.StatusNew, h.now.Add(-time.Hour), nil)

	report, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeThrottled, report.Outcome)
	assert.Empty(t, h.gateway.Sent())
}

func TestPausedAgentSkipsCycle(t *testing.T) {
	h := newHarness(t)
	h.addProspect(phoneA, models.StatusNew, h.now.Add(-time.Hour), nil)
	_, err := h.state.Pause(context.Background())
	require.NoError(t, err)

	report, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomePaused, report.Outcome)
	assert.Empty(t, h.gateway.Sent())
}

func TestInvalidPhoneIsSkipped(t *testing.T) {
	h := newHarness(t)
	bad := h.addProspect("123", models.StatusNew, h.now.Add(-2*time.Hour), nil)
	good := h.addProspect(phoneA, models.StatusNew, h.now.Add(-time.Hour), nil)

	report, err := h.orch.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, report.Outcome)
	assert.Equal(t, good.ID, report.ProspectID)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, models.StatusNew, h.get(bad.ID).Status)
}

func TestInboundMessages(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	stop := h.addProspect(phoneA, models.StatusContacted, h.now.Add(-time.Hour), nil)
	reply := h.addProspect(phoneB, models.StatusContacted, h.now.Add(-time.Hour), nil)

	got, err := h.orch.HandleInbound(ctx, phoneA+"@s.whatsapp.net", "pare")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, got.Status)
	assert.NotNil(t, h.get(stop.ID).DeclinedAt)

	got, err = h.orch.HandleInbound(ctx, "+55 (45) 99111-0002", "ok, me interessei")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResponded, got.Status)
	assert.NotNil(t, h.get(reply.ID).RespondedAt)

	for _, id := range []string{stop.ID, reply.ID} {
		logs := h.logs(id)
		require.Len(t, logs, 1)
		assert.Equal(t, models.DirectionInbound, logs[0].Direction)
	}
}

func TestInboundStopKeywordMatchesWholeWords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addProspect(phoneA, models.StatusFollowUpScheduled, h.now.Add(-time.Hour), func(p *models.Prospect) {
		next := h.now.Add(time.Hour)
		p.NextContactAt = &next
	})
	h.addProspect(phoneB, models.StatusContacted, h.now.Add(-time.Hour), nil)

	got, err := h.orch.HandleInbound(ctx, phoneA, "Parece interessante, me conta mais")
	require.NoError(t, err)
	assert.Equal(t, models.StatusResponded, got.Status)
	assert.Nil(t, got.NextContactAt)

	got, err = h.orch.HandleInbound(ctx, phoneB, "Não quero, obrigado")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, got.Status)
}

func TestInboundFromUnknownPhoneIsIgnored(t *testing.T) {
	h := newHarness(t)
	got, err := h.orch.HandleInbound(context.Background(), phoneD, "oi")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestInboundAfterTerminalStateIsNoop(t *testing.T) {
	h := newHarness(t)
	p := h.addProspect(phoneA, models.StatusInteractedExternally, h.now.Add(-time.Hour), nil)

	got, err := h.orch.HandleInbound(context.Background(), phoneA, "oi, tudo bem?")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInteractedExternally, got.Status)
	assert.Empty(t, h.hook.Transitions())
	assert.Len(t, h.logs(p.ID), 1)
}

func TestDeclineIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.addProspect(phoneA, models.StatusContacted, h.now.Add(-time.Hour), nil)

	first, err := h.orch.Decline(ctx, p.ID, "operator")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, first.Status)
	declinedAt := h.get(p.ID).DeclinedAt

	h.now = h.now.Add(time.Hour)
	second, err := h.orch.Decline(ctx, p.ID, "operator")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeclined, second.Status)

	got := h.get(p.ID)
	assert.Equal(t, declinedAt, got.DeclinedAt)
	assert.Len(t, h.hook.Transitions(), 1)
	assert.Empty(t, h.logs(p.ID))

	// Two inbound stop messages: one log per message, one transition in total.
	q := h.addProspect(phoneB, models.StatusContacted, h.now.Add(-time.Hour), nil)
	_, err = h.orch.HandleInbound(ctx, phoneB, "pare")
	require.NoError(t, err)
	_, err = h.orch.HandleInbound(ctx, phoneB, "pare")
	require.NoError(t, err)
	assert.Len(t, h.logs(q.ID), 2)
	assert.Len(t, h.hook.Transitions(), 2)
}

func TestSendManual(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.now = time.Date(2026, 3, 7, 20, 0, 0, 0, saoPaulo) // Saturday night
	p := h.addProspect(phoneA, models.StatusNew, h.now.Add(-time.Hour), nil)

	got, err := h.orch.SendManual(ctx, p.ID, "Oi Carla, aqui é o time comercial.")
	require.NoError(t, err)
	assert.Equal(t, models.StatusContacted, got.Status)
	assert.Equal(t, 1, got.ContactCount)
	assert.Equal(t, "manual", got.LastTemplate)
	assert.Len(t, h.logs(p.ID), 1)
	assert.Equal(t, 1, h.sentToday())

	declined := h.addProspect(phoneB, models.StatusDeclined, h.now.Add(-time.Hour), nil)
	_, err = h.orch.SendManual(ctx, declined.ID, "oi")
	assert.ErrorIs(t, err, models.ErrIllegalTransition)

	_, err = h.orch.SendManual(ctx, "missing", "oi")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = h.orch.SendManual(ctx, p.ID, "   ")
	assert.Error(t, err)
}

func TestSendManualKeepsScheduledFollowUp(t *testing.T) {
	h := newHarness(t)
	next := h.now.Add(24 * time.Hour)
	p := h.addProspect(phoneA, models.StatusFollowUpScheduled, h.now.Add(-time.Hour), func(p *models.Prospect) {
		p.NextContactAt = &next
		p.ContactCount = 1
	})

	got, err := h.orch.SendManual(context.Background(), p.ID, "Passando para lembrar da proposta.")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFollowUpScheduled, got.Status)
	assert.Equal(t, 2, got.ContactCount)
	require.NotNil(t, h.get(p.ID).NextContactAt)
	assert.Empty(t, h.hook.Transitions())
}

func TestReopen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.addProspect(phoneA, models.StatusInteractedExternally, h.now.Add(-time.Hour), func(p *models.Prospect) {
		p.ContactCount = 2
	})

	got, err := h.orch.Reopen(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, got.Status)
	assert.Equal(t, 2, got.ContactCount)

	_, err = h.orch.Reopen(ctx, p.ID)
	assert.ErrorIs(t, err, models.ErrIllegalTransition)
}
