package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingEnforcer struct {
	calls atomic.Int64
	err   error
}

func (c *countingEnforcer) PeriodicCheck(ctx context.Context) error {
	c.calls.Add(1)
	return c.err
}

type countingPruner struct {
	calls     atomic.Int64
	retention atomic.Int64
}

func (c *countingPruner) Prune(ctx context.Context, retention time.Duration) error {
	c.calls.Add(1)
	c.retention.Store(int64(retention))
	return nil
}

func TestJitteredInterval(t *testing.T) {
	tests := []struct {
		name   string
		base   time.Duration
		jitter time.Duration
	}{
		{name: "no jitter", base: 1 * time.Minute, jitter: 0},
		{name: "positive jitter", base: 5 * time.Minute, jitter: 30 * time.Second},
		{name: "large jitter", base: 1 * time.Hour, jitter: 15 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for range 100 {
				got := jitteredInterval(tt.base, tt.jitter)
				if tt.jitter == 0 {
					assert.Equal(t, tt.base, got)
				} else {
					assert.GreaterOrEqual(t, got, tt.base)
					assert.LessOrEqual(t, got, tt.base+tt.jitter)
				}
			}
		})
	}
}

func TestSchedulerRunsImmediateTick(t *testing.T) {
	enforcer := &countingEnforcer{}
	pruner := &countingPruner{}
	s := New(time.Hour, 0, 24*time.Hour, enforcer, pruner)

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return enforcer.calls.Load() == 1
	}, time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return pruner.calls.Load() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(24*time.Hour), pruner.retention.Load())
}

func TestSchedulerTicksOnInterval(t *testing.T) {
	enforcer := &countingEnforcer{}
	s := New(20*time.Millisecond, 0, 0, enforcer, nil)

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return enforcer.calls.Load() >= 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerSurvivesEnforcerErrors(t *testing.T) {
	enforcer := &countingEnforcer{err: errors.New("provider down")}
	s := New(15*time.Millisecond, 0, 0, enforcer, nil)

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return enforcer.calls.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerStopsOnContextCancel(t *testing.T) {
	enforcer := &countingEnforcer{}
	s := New(10*time.Millisecond, 0, 0, enforcer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	// wg.Wait returns once the loop observes cancellation.
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tick loop did not stop on context cancellation")
	}
}

func TestSchedulerZeroRetentionSkipsPruner(t *testing.T) {
	enforcer := &countingEnforcer{}
	pruner := &countingPruner{}
	s := New(time.Hour, 0, 0, enforcer, pruner)

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return enforcer.calls.Load() == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), pruner.calls.Load())
}
