package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"outreach-agent/config"
	"outreach-agent/internal/clients"
	"outreach-agent/internal/events"
	"outreach-agent/internal/models"
	"outreach-agent/internal/repositories"
	"outreach-agent/internal/services"
	"outreach-agent/internal/utils"
)

// app holds the collaborators shared by every command.
type app struct {
	cfg       *config.Config
	db        *sql.DB
	prospects models.ProspectRepository
	messages  models.MessageLogRepository
	state     *services.AgentStateManager
	window    *services.WorkWindow
	throttle  *services.WarmupThrottle
	closers   []func()
}

func openApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	utils.SetLogLevel(cfg.LogLevel)

	dialect, err := repositories.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	db, err := config.ConnectDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := repositories.Migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, err
	}

	window, err := services.NewWorkWindow(cfg.Schedule.WorkHours, cfg.Schedule.ExcludedDays, cfg.Location())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("config: %w", err)
	}

	a := &app{
		cfg:       cfg,
		db:        db,
		prospects: repositories.NewSQLProspectRepository(db),
		messages:  repositories.NewSQLMessageLogRepository(db),
		window:    window,
	}
	a.state = services.NewAgentStateManager(repositories.NewSQLAgentStateRepository(db, dialect))
	a.throttle, err = services.NewWarmupThrottle(warmupPolicy(cfg), window, a.state)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("config: %w", err)
	}
	a.onClose(func() { db.Close() })
	return a, nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close runs the registered closers in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func warmupPolicy(cfg *config.Config) services.WarmupPolicy {
	policy := services.WarmupPolicy{
		Enabled:    cfg.Warmup.Enabled,
		Steps:      services.DefaultWarmupSteps(),
		FinalLimit: services.DefaultWarmupFinalLimit,
	}
	if start, err := cfg.WarmupStart(); err == nil {
		policy.StartDate = start
	}
	if len(cfg.Warmup.Steps) > 0 {
		policy.Steps = policy.Steps[:0]
		for _, s := range cfg.Warmup.Steps {
			policy.Steps = append(policy.Steps, services.WarmupStep{MaxDays: s.MaxDays, Limit: s.Limit})
		}
	}
	if cfg.Warmup.FinalLimit > 0 {
		policy.FinalLimit = cfg.Warmup.FinalLimit
	}
	return policy
}

func outreachConfig(cfg *config.Config) services.OutreachConfig {
	out := services.DefaultOutreachConfig()
	out.MaxCandidatesPerCycle = cfg.Outreach.MaxCandidatesPerCycle
	out.FollowUpBudget = cfg.Outreach.FollowUpBudget
	if cfg.Outreach.FirstFollowUpHours > 0 {
		out.FirstFollowUpDelay = time.Duration(cfg.Outreach.FirstFollowUpHours) * time.Hour
	}
	if cfg.Outreach.FollowUpHours > 0 {
		out.FollowUpDelay = time.Duration(cfg.Outreach.FollowUpHours) * time.Hour
	}
	if len(cfg.Outreach.StopKeywords) > 0 {
		out.StopKeywords = cfg.Outreach.StopKeywords
	}
	if cfg.Evolution.TimeoutSeconds > 0 {
		out.GatewayTimeout = time.Duration(cfg.Evolution.TimeoutSeconds) * time.Second
	}
	return out
}

// gateway returns the configured messaging gateway. For whatsmeow it also
// returns the service so callers can reach the pairing QR code and inbound
// events; it is nil for the Evolution API.
func (a *app) gateway(ctx context.Context) (models.MessagingGateway, *services.WhatsAppService, error) {
	cfg := a.cfg
	pause := time.Duration(cfg.Evolution.ChunkPauseMs) * time.Millisecond
	typing := time.Duration(cfg.Evolution.TypingDelayMs) * time.Millisecond

	if cfg.Gateway == config.GatewayWhatsmeow {
		wa := services.NewWhatsAppService(services.WhatsAppOptions{
			SessionDSN:  cfg.WhatsApp.SessionDSN,
			ChunkPause:  pause,
			TypingDelay: typing,
		})
		if err := wa.Connect(ctx); err != nil {
			return nil, nil, fmt.Errorf("whatsapp: %w", err)
		}
		a.onClose(wa.Disconnect)
		return wa, wa, nil
	}

	evo, err := clients.NewEvolutionClient(clients.EvolutionConfig{
		BaseURL:     cfg.Evolution.URL,
		APIKey:      cfg.Evolution.APIKey,
		Instance:    cfg.Evolution.Instance,
		Timeout:     time.Duration(cfg.Evolution.TimeoutSeconds) * time.Second,
		TypingDelay: typing,
		ChunkPause:  pause,
	})
	if err != nil {
		return nil, nil, err
	}
	return evo, nil, nil
}

// checker is nil when Chatwoot is not configured.
func (a *app) checker() models.EngagementChecker {
	cfg := a.cfg.Chatwoot
	cw, err := clients.NewChatwootClient(clients.ChatwootConfig{
		BaseURL:         cfg.URL,
		Token:           cfg.Token,
		AccountID:       cfg.AccountID,
		DeclineKeywords: cfg.DeclineKeywords,
	})
	if err != nil {
		utils.LogWarning("Chatwoot desabilitado: %v", err)
		return nil
	}
	return cw
}

// hooks builds the optional transition hooks. Each integration that is not
// configured is skipped with a warning.
func (a *app) hooks(ctx context.Context) []models.TransitionHook {
	var hooks []models.TransitionHook

	trello, err := clients.NewTrelloClient(clients.TrelloConfig{
		APIKey:  a.cfg.Trello.APIKey,
		Token:   a.cfg.Trello.Token,
		BoardID: a.cfg.Trello.BoardID,
	})
	if err != nil {
		utils.LogWarning("Trello desabilitado: %v", err)
	} else {
		lists := services.BoardLists{
			Cold:       a.cfg.Trello.ListCold,
			Connection: a.cfg.Trello.ListConnection,
			Interested: a.cfg.Trello.ListInterested,
			Archived:   a.cfg.Trello.ListArchived,
		}
		hooks = append(hooks, services.NewBoardSync(trello, a.prospects, lists, a.cfg.Location()))
	}

	sender, err := events.NewRabbitSender(ctx, events.ConnectionOptions{
		URL:           a.cfg.AMQP.URL,
		RetryAttempts: 5,
		Delay:         2 * time.Second,
		MaxDelay:      30 * time.Second,
	}, a.cfg.AMQP.Exchange)
	switch {
	case errors.Is(err, models.ErrNotConfigured):
		utils.LogWarning("Barramento de eventos desabilitado: AMQP_URL não definido")
	case err != nil:
		utils.LogError("Barramento de eventos indisponível, seguindo sem publicar: %v", err)
	default:
		publisher := events.NewPublisher(sender, 5*time.Second)
		a.onClose(func() {
			if err := publisher.Close(); err != nil {
				utils.LogWarning("Erro ao fechar publicador de eventos: %v", err)
			}
		})
		hooks = append(hooks, publisher)
	}
	return hooks
}

// objects is nil when the S3 session cannot be created.
func (a *app) objects() services.ObjectOpener {
	s3, err := services.NewS3Service(&a.cfg.S3)
	if err != nil {
		utils.LogWarning("S3 indisponível: %v", err)
		return nil
	}
	return s3
}
