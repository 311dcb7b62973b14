package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"outreach-agent/internal/models"
	"outreach-agent/internal/utils"
)

// DefaultStopKeywords end automated outreach when a prospect writes them.
var DefaultStopKeywords = []string{"pare", "stop", "nao quero", "não quero", "remover", "sair", "descadastrar"}

type OutreachConfig struct {
	MaxCandidatesPerCycle int
	FirstFollowUpDelay    time.Duration
	FollowUpDelay         time.Duration
	FollowUpBudget        int
	StopKeywords          []string
	StoreTimeout          time.Duration
	CheckerTimeout        time.Duration
	GatewayTimeout        time.Duration
}

func DefaultOutreachConfig() OutreachConfig {
	return OutreachConfig{
		MaxCandidatesPerCycle: 10,
		FirstFollowUpDelay:    48 * time.Hour,
		FollowUpDelay:         72 * time.Hour,
		FollowUpBudget:        3,
		StopKeywords:          DefaultStopKeywords,
		StoreTimeout:          10 * time.Second,
		CheckerTimeout:        10 * time.Second,
		GatewayTimeout:        20 * time.Second,
	}
}

// OutreachDeps are the collaborators of the Orchestrator. Checker may be nil,
// in which case engagement re-validation is skipped.
type OutreachDeps struct {
	Prospects models.ProspectRepository
	Messages  models.MessageLogRepository
	State     *AgentStateManager
	Throttle  *WarmupThrottle
	Checker   models.EngagementChecker
	Gateway   models.MessagingGateway
	Renderer  *TemplateRenderer
	Hooks     []models.TransitionHook
	Now       func() time.Time
}

type CycleOutcome string

const (
	OutcomePaused      CycleOutcome = "paused"
	OutcomeThrottled   CycleOutcome = "throttled"
	OutcomeNoCandidate CycleOutcome = "no_candidate"
	OutcomeSent        CycleOutcome = "sent"
	OutcomeSendFailed  CycleOutcome = "send_failed"
)

// CycleReport summarizes one outreach cycle.
type CycleReport struct {
	Outcome    CycleOutcome `json:"outcome"`
	ProspectID string       `json:"prospect_id,omitempty"`
	Checked    int          `json:"checked"`
	Declined   int          `json:"declined"`
	Engaged    int          `json:"engaged"`
	Skipped    int          `json:"skipped"`
}

type Orchestrator struct {
	deps OutreachDeps
	cfg  OutreachConfig
}

func NewOrchestrator(deps OutreachDeps, cfg OutreachConfig) (*Orchestrator, error) {
	if deps.Prospects == nil || deps.Messages == nil {
		return nil, fmt.Errorf("prospect store is required")
	}
	if deps.State == nil || deps.Throttle == nil {
		return nil, fmt.Errorf("agent state and throttle are required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("messaging gateway is required")
	}
	if deps.Renderer == nil {
		return nil, fmt.Errorf("template renderer is required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.MaxCandidatesPerCycle <= 0 {
		cfg.MaxCandidatesPerCycle = 10
	}
	if cfg.FollowUpBudget < 0 {
		cfg.FollowUpBudget = 0
	}
	if deps.Checker == nil {
		utils.LogWarning("Verificador de engajamento externo não configurado; candidatos não serão revalidados")
	}
	return &Orchestrator{deps: deps, cfg: cfg}, nil
}

// AddHook registers a transition hook. Call before the scheduler starts.
func (o *Orchestrator) AddHook(h models.TransitionHook) {
	o.deps.Hooks = append(o.deps.Hooks, h)
}

func (o *Orchestrator) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// SelectCandidates lists up to limit prospects in contact order: new ones by
// creation time, then follow-ups already due by their due time.
func (o *Orchestrator) SelectCandidates(ctx context.Context, now time.Time, limit int) ([]*models.Prospect, error) {
	ctx, cancel := o.withTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()

	fresh, err := o.deps.Prospects.SelectCandidates(ctx, models.CandidateQuery{
		Status:  models.StatusNew,
		OrderBy: models.OrderByCreatedAt,
		Limit:   limit,
	})
	if err != nil {
		return nil, fmt.Errorf("select new prospects: %w", err)
	}
	if len(fresh) >= limit {
		return fresh[:limit], nil
	}

	due, err := o.deps.Prospects.SelectCandidates(ctx, models.CandidateQuery{
		Status:  models.StatusFollowUpScheduled,
		DueBy:   &now,
		OrderBy: models.OrderByNextContactAt,
		Limit:   limit - len(fresh),
	})
	if err != nil {
		return nil, fmt.Errorf("select due follow-ups: %w", err)
	}
	return append(fresh, due...), nil
}

// SelectNextCandidate returns the single next prospect to contact, or nil.
func (o *Orchestrator) SelectNextCandidate(ctx context.Context, now time.Time) (*models.Prospect, error) {
	candidates, err := o.SelectCandidates(ctx, now, 1)
	if err != nil || len(candidates) == 0 {
		return nil, err
	}
	return candidates[0], nil
}

// RunCycle performs at most one automated send.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleReport, error) {
	defer utils.TimeTrack(time.Now(), "ciclo de prospecção")
	now := o.deps.Now()
	report := &CycleReport{}

	state, err := o.deps.State.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("read agent state: %w", err)
	}
	if !state.IsActive {
		utils.LogInfo("Agente pausado, ciclo ignorado")
		report.Outcome = OutcomePaused
		return report, nil
	}

	ok, err := o.deps.Throttle.CanSendNow(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("check throttle: %w", err)
	}
	if !ok {
		utils.LogInfo("Fora da janela de trabalho ou limite diário atingido")
		report.Outcome = OutcomeThrottled
		return report, nil
	}

	candidates, err := o.SelectCandidates(ctx, now, o.cfg.MaxCandidatesPerCycle)
	if err != nil {
		return nil, err
	}

	for _, p := range candidates {
		report.Checked++

		if !utils.ValidatePhone(p.Phone) {
			utils.LogWarning("Prospect %s com telefone inválido (%q), ignorado", p.ID, p.Phone)
			report.Skipped++
			continue
		}

		switch o.revalidate(ctx, p, now) {
		case engagementDeclined:
			report.Declined++
			continue
		case engagementActive:
			report.Engaged++
			continue
		case engagementUnknown:
			report.Skipped++
			continue
		}

		report.ProspectID = p.ID
		if err := o.contact(ctx, p, now); err != nil {
			utils.LogError("Falha ao enviar para %s: %v", p.Phone, err)
			report.Outcome = OutcomeSendFailed
			return report, nil
		}
		report.Outcome = OutcomeSent
		return report, nil
	}

	utils.LogInfo("Nenhum prospect disponível para contato (%d verificados)", report.Checked)
	report.Outcome = OutcomeNoCandidate
	return report, nil
}

type engagement int

const (
	engagementNone engagement = iota
	engagementDeclined
	engagementActive
	engagementUnknown
)

// revalidate consults the external conversation system and applies the
// resulting transition. Checker failures leave the prospect untouched.
func (o *Orchestrator) revalidate(ctx context.Context, p *models.Prospect, now time.Time) engagement {
	if o.deps.Checker == nil {
		return engagementNone
	}

	cctx, cancel := o.withTimeout(ctx, o.cfg.CheckerTimeout)
	defer cancel()

	contactID, err := o.deps.Checker.FindByPhone(cctx, p.Phone)
	if err != nil {
		utils.LogError("Erro ao verificar %s no sistema externo: %v", p.Phone, err)
		return engagementUnknown
	}
	if contactID == "" {
		return engagementNone
	}

	declined, err := o.deps.Checker.HasDeclineSignal(cctx, contactID)
	if err != nil {
		utils.LogError("Erro ao ler histórico externo de %s: %v", p.Phone, err)
		return engagementUnknown
	}

	if declined {
		utils.LogInfo("Prospect %s recusou no sistema externo (contato %s)", p.Phone, contactID)
		if _, err := o.transition(ctx, p, models.EventOptedOut, "external_decline", now, func(u *models.ProspectUpdate) {
			u.ExternalContactID = &contactID
		}); err != nil {
			utils.LogError("Erro ao marcar %s como recusado: %v", p.Phone, err)
		}
		return engagementDeclined
	}

	utils.LogInfo("Prospect %s já em atendimento externo (contato %s)", p.Phone, contactID)
	if _, err := o.transition(ctx, p, models.EventEngagedExternally, "external_thread", now, func(u *models.ProspectUpdate) {
		u.ExternalContactID = &contactID
	}); err != nil {
		utils.LogError("Erro ao marcar %s como atendido externamente: %v", p.Phone, err)
	}
	return engagementActive
}

// contact renders, sends and commits one automated message.
func (o *Orchestrator) contact(ctx context.Context, p *models.Prospect, now time.Time) error {
	var (
		event      models.Event
		templateID string
		text       string
		delay      time.Duration
		schedule   bool
	)

	if p.Status == models.StatusNew {
		event = models.EventFirstContactSent
		templateID, text = o.deps.Renderer.FirstContact(p)
		delay = o.cfg.FirstFollowUpDelay
		schedule = o.cfg.FollowUpBudget > 0
	} else {
		ordinal := p.ContactCount
		if ordinal < 1 {
			ordinal = 1
		}
		event = models.EventFollowUpSent
		templateID, text = o.deps.Renderer.FollowUp(p, ordinal)
		delay = o.cfg.FollowUpDelay
		schedule = ordinal < o.cfg.FollowUpBudget
	}

	sent, err := o.send(ctx, p.Phone, text, event == models.EventFirstContactSent)
	if err != nil {
		return err
	}

	contacted, err := p.Status.Apply(event)
	if err != nil {
		return err
	}

	count := p.ContactCount + 1
	at := now.UTC()
	update := models.ProspectUpdate{
		Status:        &contacted,
		ContactCount:  &count,
		LastTemplate:  &templateID,
		LastContactAt: &at,
	}
	if p.FirstContactAt == nil {
		update.FirstContactAt = &at
	}

	transitions := []models.Transition{o.newTransition(p, p.Status, contacted, event, templateID, at)}
	if schedule {
		scheduled, err := contacted.Apply(models.EventFollowUpScheduled)
		if err != nil {
			return err
		}
		next := at.Add(delay)
		update.Status = &scheduled
		update.NextContactAt = &next
		transitions = append(transitions, o.newTransition(p, contacted, scheduled, models.EventFollowUpScheduled, "", at))
	} else {
		update.ClearNextContactAt = true
	}

	o.commitSend(ctx, p, sent, update, now)

	updated := p.Clone()
	update.ApplyTo(updated)
	for _, t := range transitions {
		o.publish(ctx, updated, t)
	}
	utils.LogInfo("Mensagem (%s) enviada para %s, contato nº %d", templateID, p.Phone, count)
	return nil
}

// send delivers text and returns what actually reached the prospect. A paced
// send counts once at least one bubble is delivered.
func (o *Orchestrator) send(ctx context.Context, phone, text string, paced bool) (string, error) {
	timeout := o.cfg.GatewayTimeout
	if paced {
		// each bubble gets its own budget
		timeout *= time.Duration(max(1, len(utils.SplitText(text, utils.DefaultChunkSize))))
	}
	sctx, cancel := o.withTimeout(ctx, timeout)
	defer cancel()

	if !paced {
		if _, err := o.deps.Gateway.SendText(sctx, phone, text); err != nil {
			return "", err
		}
		return text, nil
	}

	results, err := o.deps.Gateway.SendTextPaced(sctx, phone, text)
	var delivered []string
	for _, r := range results {
		if r.OK() {
			delivered = append(delivered, r.Chunk)
		}
	}
	if len(delivered) == 0 {
		if err == nil {
			err = errors.New("no chunk delivered")
		}
		return "", err
	}
	if err != nil || len(delivered) < len(results) {
		utils.LogWarning("Envio parcial para %s: %d/%d partes entregues", phone, len(delivered), len(results))
		return strings.Join(delivered, "\n"), nil
	}
	return text, nil
}

// commitSend logs the delivered text, applies the update and counts the send.
// A failed log or update after a delivered message is reported but the send
// is still counted.
func (o *Orchestrator) commitSend(ctx context.Context, p *models.Prospect, content string, update models.ProspectUpdate, now time.Time) {
	sctx, cancel := o.withTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()

	if _, err := o.deps.Messages.Append(sctx, p.ID, models.DirectionOutbound, content); err != nil {
		utils.LogError("INCONSISTÊNCIA: mensagem enviada para %s mas não registrada: %v", p.Phone, err)
	}
	if err := o.deps.Prospects.UpdateFields(sctx, p.ID, update); err != nil {
		utils.LogError("INCONSISTÊNCIA: mensagem enviada para %s mas estado não atualizado: %v", p.Phone, err)
	}
	if _, err := o.deps.Throttle.RecordSend(sctx, now); err != nil {
		utils.LogError("Erro ao contabilizar envio para %s: %v", p.Phone, err)
	}
}

// transition applies a non-send event. It returns the stored prospect, or p
// unchanged when the event leaves the status as it is.
func (o *Orchestrator) transition(ctx context.Context, p *models.Prospect, event models.Event, reason string, now time.Time, extra func(*models.ProspectUpdate)) (*models.Prospect, error) {
	next, err := p.Status.Apply(event)
	if err != nil {
		return p, err
	}
	if next == p.Status {
		return p, nil
	}

	at := now.UTC()
	update := models.ProspectUpdate{Status: &next}
	switch next {
	case models.StatusResponded:
		update.RespondedAt = &at
	case models.StatusDeclined:
		update.DeclinedAt = &at
	}
	if next != models.StatusFollowUpScheduled {
		update.ClearNextContactAt = true
	}
	if extra != nil {
		extra(&update)
	}

	sctx, cancel := o.withTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()
	if err := o.deps.Prospects.UpdateFields(sctx, p.ID, update); err != nil {
		return p, err
	}

	updated := p.Clone()
	update.ApplyTo(updated)
	o.publish(ctx, updated, o.newTransition(p, p.Status, next, event, reason, at))
	return updated, nil
}

// HandleInbound records a message written by a prospect and moves it to
// declined (stop keyword) or responded. Unknown phones are ignored and a nil
// prospect is returned.
func (o *Orchestrator) HandleInbound(ctx context.Context, phone, text string) (*models.Prospect, error) {
	phone = utils.NormalizePhone(phone)
	now := o.deps.Now()

	sctx, cancel := o.withTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()

	p, err := o.deps.Prospects.GetByPhone(sctx, phone)
	if errors.Is(err, models.ErrNotFound) {
		utils.LogInfo("Mensagem recebida de número desconhecido %s, ignorada", phone)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", phone, err)
	}

	if _, err := o.deps.Messages.Append(sctx, p.ID, models.DirectionInbound, text); err != nil {
		return nil, fmt.Errorf("log inbound message: %w", err)
	}

	event, reason := models.EventReplied, "inbound_reply"
	if utils.ContainsAnyPhrase(text, o.cfg.StopKeywords) {
		event, reason = models.EventOptedOut, "stop_keyword"
	}

	updated, err := o.transition(ctx, p, event, reason, now, nil)
	var terr *models.TransitionError
	if errors.As(err, &terr) {
		utils.LogDebug("Mensagem de %s não altera o status %s", phone, p.Status)
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update prospect %s: %w", phone, err)
	}
	if event == models.EventOptedOut {
		utils.LogInfo("Prospect %s pediu para parar", phone)
	} else {
		utils.LogInfo("Prospect %s respondeu", phone)
	}
	return updated, nil
}

// Decline marks a prospect as declined. Declining twice is a no-op.
func (o *Orchestrator) Decline(ctx context.Context, prospectID, reason string) (*models.Prospect, error) {
	p, err := o.getProspect(ctx, prospectID)
	if err != nil {
		return nil, err
	}
	return o.transition(ctx, p, models.EventOptedOut, reason, o.deps.Now(), nil)
}

// Reopen returns an externally engaged or declined prospect to the queue.
func (o *Orchestrator) Reopen(ctx context.Context, prospectID string) (*models.Prospect, error) {
	p, err := o.getProspect(ctx, prospectID)
	if err != nil {
		return nil, err
	}
	return o.transition(ctx, p, models.EventOperatorReopened, "operator", o.deps.Now(), nil)
}

// SendManual sends operator-written text outside the automated schedule. It
// goes through the same commit path and counts against the daily limit, but
// ignores the work window.
func (o *Orchestrator) SendManual(ctx context.Context, prospectID, text string) (*models.Prospect, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("message is empty")
	}
	p, err := o.getProspect(ctx, prospectID)
	if err != nil {
		return nil, err
	}
	next, err := p.Status.Apply(models.EventManualMessageSent)
	if err != nil {
		return nil, err
	}

	now := o.deps.Now()
	sent, err := o.send(ctx, p.Phone, text, true)
	if err != nil {
		return nil, fmt.Errorf("send to %s: %w", p.Phone, err)
	}

	count := p.ContactCount + 1
	at := now.UTC()
	manual := "manual"
	update := models.ProspectUpdate{
		Status:        &next,
		ContactCount:  &count,
		LastTemplate:  &manual,
		LastContactAt: &at,
	}
	if p.FirstContactAt == nil {
		update.FirstContactAt = &at
	}
	o.commitSend(ctx, p, sent, update, now)

	updated := p.Clone()
	update.ApplyTo(updated)
	if next != p.Status {
		o.publish(ctx, updated, o.newTransition(p, p.Status, next, models.EventManualMessageSent, manual, at))
	}
	utils.LogInfo("Mensagem manual enviada para %s", p.Phone)
	return updated, nil
}

func (o *Orchestrator) getProspect(ctx context.Context, id string) (*models.Prospect, error) {
	sctx, cancel := o.withTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()
	return o.deps.Prospects.GetByID(sctx, id)
}

func (o *Orchestrator) newTransition(p *models.Prospect, from, to models.Status, event models.Event, reason string, at time.Time) models.Transition {
	return models.Transition{
		ProspectID: p.ID,
		Phone:      p.Phone,
		From:       from,
		To:         to,
		Event:      event,
		Reason:     reason,
		At:         at,
	}
}

func (o *Orchestrator) publish(ctx context.Context, p *models.Prospect, t models.Transition) {
	for _, h := range o.deps.Hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					utils.LogError("Hook de transição falhou: %v", r)
				}
			}()
			h.OnTransition(ctx, p, t)
		}()
	}
}
