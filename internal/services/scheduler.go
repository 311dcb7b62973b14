package services

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"outreach-agent/internal/utils"
)

type CycleRunner interface {
	RunCycle(ctx context.Context) (*CycleReport, error)
}

type Heartbeater interface {
	Heartbeat(ctx context.Context, now time.Time) error
}

type SchedulerConfig struct {
	HeartbeatInterval time.Duration
	CycleInterval     time.Duration
	ErrorBackoff      time.Duration
	HeartbeatTimeout  time.Duration
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		HeartbeatInterval: 5 * time.Minute,
		CycleInterval:     30 * time.Minute,
		ErrorBackoff:      60 * time.Second,
		HeartbeatTimeout:  10 * time.Second,
	}
}

// Scheduler drives the outreach cycle and the heartbeat from a single
// goroutine, so at most one cycle runs at a time.
type Scheduler struct {
	runner    CycleRunner
	heartbeat Heartbeater
	cfg       SchedulerConfig
	now       func() time.Time
}

func NewScheduler(runner CycleRunner, heartbeat Heartbeater, cfg SchedulerConfig) *Scheduler {
	def := DefaultSchedulerConfig()
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = def.CycleInterval
	}
	if cfg.ErrorBackoff < 0 {
		cfg.ErrorBackoff = 0
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = def.HeartbeatTimeout
	}
	return &Scheduler{runner: runner, heartbeat: heartbeat, cfg: cfg, now: time.Now}
}

// Run blocks until ctx is cancelled. The first cycle starts immediately. A
// cycle in progress is never interrupted by cancellation; Run returns once it
// finishes.
func (s *Scheduler) Run(ctx context.Context) error {
	utils.LogInfo("Scheduler iniciado: ciclo a cada %s, heartbeat a cada %s", s.cfg.CycleInterval, s.cfg.HeartbeatInterval)

	s.beat(ctx)
	s.cycle(ctx)

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	outreach := time.NewTicker(s.cfg.CycleInterval)
	defer outreach.Stop()

	for {
		select {
		case <-ctx.Done():
			utils.LogInfo("Scheduler encerrado")
			return nil
		case <-heartbeat.C:
			s.beat(ctx)
		case <-outreach.C:
			s.cycle(ctx)
		}
	}
}

func (s *Scheduler) beat(ctx context.Context) {
	if s.heartbeat == nil {
		return
	}
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.HeartbeatTimeout)
	defer cancel()
	if err := s.heartbeat.Heartbeat(hctx, s.now()); err != nil {
		utils.LogWarning("Falha no heartbeat: %v", err)
	}
}

func (s *Scheduler) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := s.runOnce(context.WithoutCancel(ctx)); err != nil {
		utils.LogError("Erro no ciclo de prospecção: %v", err)
		s.backoff(ctx)
	}
}

// runOnce converts a panic inside the cycle into an error.
func (s *Scheduler) runOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	report, err := s.runner.RunCycle(ctx)
	if err != nil {
		return err
	}
	if report != nil {
		utils.LogDebug("Ciclo concluído: %s (verificados=%d recusados=%d externos=%d ignorados=%d)",
			report.Outcome, report.Checked, report.Declined, report.Engaged, report.Skipped)
	}
	return nil
}

func (s *Scheduler) backoff(ctx context.Context) {
	if s.cfg.ErrorBackoff == 0 {
		return
	}
	timer := time.NewTimer(s.cfg.ErrorBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
