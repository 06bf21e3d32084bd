// Package scheduler triggers pipeline runs on a cron schedule and on demand. At most one run
// is in flight; a trigger that arrives while a run is active is rejected.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/tender-ingest/internal/pipeline"
)

// ErrRunInProgress is returned by Trigger while a run is active.
var ErrRunInProgress = errors.New("a run is already in progress")

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context) (pipeline.RunState, error)
}

// Scheduler owns the cron trigger and run serialization.
type Scheduler struct {
	cron    *cron.Cron
	spec    string
	runner  Runner
	logger  *zap.Logger
	running atomic.Bool
	wg      sync.WaitGroup

	mu  sync.Mutex
	ctx context.Context
}

// New parses spec (standard 5-field cron) and builds a stopped Scheduler.
func New(spec string, runner Runner, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		return nil, errors.New("scheduler: runner is required")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", spec, err)
	}
	return &Scheduler{
		cron:   cron.New(),
		spec:   spec,
		runner: runner,
		logger: logger.Named("scheduler"),
		ctx:    context.Background(),
	}, nil
}

// Start registers the cron entry and starts the cron loop. Runs inherit ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if _, err := s.cron.AddFunc(s.spec, func() {
		if err := s.Trigger(); err != nil {
			s.logger.Warn("scheduled run skipped", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule run: %w", err)
	}
	s.cron.Start()

	entries := s.cron.Entries()
	if len(entries) > 0 {
		s.logger.Info("scheduler started",
			zap.String("schedule", s.spec),
			zap.Time("next_run", entries[0].Next),
		)
	}
	return nil
}

// Stop halts the cron loop and waits for an active run to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	<-s.cron.Stop().Done()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for active run: %w", ctx.Err())
	}
}

// Trigger starts a run in the background.
func (s *Scheduler) Trigger() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		s.execute(ctx)
	}()
	return nil
}

// Running reports whether a run is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) execute(ctx context.Context) {
	start := time.Now()
	state, err := s.runner.Run(ctx)
	if err != nil {
		s.logger.Error("run could not start", zap.Error(err))
		return
	}
	s.logger.Info("run completed",
		zap.String("run_id", state.RunID),
		zap.String("status", string(state.Status)),
		zap.Duration("elapsed", time.Since(start)),
	)
}
