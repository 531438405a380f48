// Package scheduler is the wall-clock trigger for the enforcement engine.
// The engine itself stays trigger-agnostic; early, late or overlapping
// invocations are absorbed by its critical section.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/codespace-tools/warden/internal/log"
)

// Enforcer is the engine entry point the scheduler drives.
type Enforcer interface {
	PeriodicCheck(ctx context.Context) error
}

// Pruner trims aged records after each tick. Satisfied by *outcome.Log.
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) error
}

// Scheduler invokes the enforcer on a jittered interval.
type Scheduler struct {
	interval  time.Duration
	jitter    time.Duration
	retention time.Duration

	enforcer Enforcer
	pruner   Pruner
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates a Scheduler. pruner may be nil.
func New(interval, jitter, retention time.Duration, enforcer Enforcer, pruner Pruner) *Scheduler {
	return &Scheduler{
		interval:  interval,
		jitter:    jitter,
		retention: retention,
		enforcer:  enforcer,
		pruner:    pruner,
		logger:    log.WithComponent("scheduler"),
		stopCh:    make(chan struct{}),
	}
}

// Start begins the tick loop. The first enforcement pass runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("starting scheduler", "interval", s.interval, "jitter", s.jitter)
	s.wg.Add(1)
	go s.tickLoop(ctx)
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	// Initial tick immediately.
	s.tick(ctx)

	timer := time.NewTimer(jitteredInterval(s.interval, s.jitter))
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			s.tick(ctx)
			timer.Reset(jitteredInterval(s.interval, s.jitter))
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.logger.Warn("scheduler context cancelled, stopping tick loop")
			return
		}
	}
}

// tick performs a single enforcement pass plus housekeeping.
func (s *Scheduler) tick(ctx context.Context) {
	s.logger.Debug("scheduler tick")

	if err := s.enforcer.PeriodicCheck(ctx); err != nil {
		// Already classified and reported by the engine; the loop survives.
		s.logger.Debug("enforcement pass returned error", "error", err)
	}

	if s.pruner != nil && s.retention > 0 {
		if err := s.pruner.Prune(ctx, s.retention); err != nil {
			s.logger.Error("failed to prune outcome log", "error", err)
		}
	}
}

// jitteredInterval adds a random jitter to the base interval so wardens on
// many machines don't align their provider calls.
func jitteredInterval(base, jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(jitter.Nanoseconds()))
}
