package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRunner struct {
	calls  atomic.Int32
	called chan struct{}
	script func(n int32) (*CycleReport, error)
}

func (r *scriptedRunner) RunCycle(ctx context.Context) (*CycleReport, error) {
	n := r.calls.Add(1)
	select {
	case r.called <- struct{}{}:
	default:
	}
	if r.script != nil {
		return r.script(n)
	}
	return &CycleReport{Outcome: OutcomeNoCandidate}, nil
}

type countingHeartbeat struct {
	beats atomic.Int32
	err   error
}

func (h *countingHeartbeat) Heartbeat(ctx context.Context, now time.Time) error {
	h.beats.Add(1)
	return h.err
}

func runScheduler(t *testing.T, s *Scheduler) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return cancel, done
}

func TestSchedulerRunsCycleImmediately(t *testing.T) {
	runner := &scriptedRunner{called: make(chan struct{}, 1)}
	heartbeat := &countingHeartbeat{}
	s := NewScheduler(runner, heartbeat, SchedulerConfig{
		HeartbeatInterval: time.Hour,
		CycleInterval:     time.Hour,
	})

	cancel, done := runScheduler(t, s)
	select {
	case <-runner.called:
	case <-time.After(2 * time.Second):
		t.Fatal("first cycle did not run at start")
	}
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, int32(1), runner.calls.Load())
	assert.Equal(t, int32(1), heartbeat.beats.Load())
}

func TestSchedulerSurvivesPanicsAndErrors(t *testing.T) {
	runner := &scriptedRunner{
		called: make(chan struct{}, 10),
		script: func(n int32) (*CycleReport, error) {
			switch n {
			case 1:
				panic("boom")
			case 2:
				return nil, errors.New("store unavailable")
			}
			return &CycleReport{Outcome: OutcomeSent}, nil
		},
	}
	heartbeat := &countingHeartbeat{err: errors.New("heartbeat failed")}
	s := NewScheduler(runner, heartbeat, SchedulerConfig{
		HeartbeatInterval: 5 * time.Millisecond,
		CycleInterval:     5 * time.Millisecond,
		ErrorBackoff:      time.Millisecond,
	})

	cancel, done := runScheduler(t, s)
	defer cancel()

	require.Eventually(t, func() bool { return runner.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return heartbeat.beats.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerFinishesCycleOnShutdown(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var sawCancel atomic.Bool
	s := NewScheduler(cycleFunc(func(ctx context.Context) (*CycleReport, error) {
		close(started)
		<-release
		sawCancel.Store(ctx.Err() != nil)
		return &CycleReport{Outcome: OutcomeSent}, nil
	}), nil, SchedulerConfig{HeartbeatInterval: time.Hour, CycleInterval: time.Hour})

	cancel, done := runScheduler(t, s)
	<-started
	cancel()
	close(release)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.False(t, sawCancel.Load(), "cycle context must not be cancelled mid-cycle")
}

type cycleFunc func(ctx context.Context) (*CycleReport, error)

func (f cycleFunc) RunCycle(ctx context.Context) (*CycleReport, error) { return f(ctx) }
