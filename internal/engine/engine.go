// Package engine implements the lifecycle enforcement loop: fetch the
// account's workspaces, decide which ones must stop, stop them, and report
// what happened. All entry points share one critical section so that reads
// and writes of the access ledger never interleave across cycles.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codespace-tools/warden/internal/events"
	"github.com/codespace-tools/warden/internal/gh"
	"github.com/codespace-tools/warden/internal/log"
	"github.com/codespace-tools/warden/internal/outcome"
	"github.com/codespace-tools/warden/internal/policy"
	"github.com/codespace-tools/warden/internal/retry"
)

// CycleStats summarizes the most recent enforcement cycle for the status API.
type CycleStats struct {
	CycleID     string    `json:"cycle_id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Listed      int       `json:"listed"`
	Running     int       `json:"running"`
	Stopped     int       `json:"stopped"`
	Failed      int       `json:"failed"`
	Skipped     bool      `json:"skipped"`
}

// Engine orchestrates enforcement cycles. PeriodicCheck, ActivityEvent and
// ManualStop are serialized against each other; a cycle runs to completion
// before the next entry point proceeds.
type Engine struct {
	mu sync.Mutex

	remote   RemoteService
	ledger   AccessLedger
	cfg      ConfigSource
	retrier  *retry.Retrier
	hub      *events.Hub
	outcomes *outcome.Log
	logger   *slog.Logger

	// now is swappable in tests.
	now func() time.Time

	statsMu sync.Mutex
	stats   CycleStats
}

// New creates an Engine. outcomes may be nil when no durable trail is wanted
// (one-shot sweeps against a throwaway database still pass one in).
func New(remote RemoteService, led AccessLedger, cfg ConfigSource, retrier *retry.Retrier, hub *events.Hub, outcomes *outcome.Log) *Engine {
	if hub == nil {
		hub = events.NewHub(128)
	}
	return &Engine{
		remote:   remote,
		ledger:   led,
		cfg:      cfg,
		retrier:  retrier,
		hub:      hub,
		outcomes: outcomes,
		logger:   log.WithComponent("engine"),
		now:      time.Now,
	}
}

// Hub exposes the event hub carrying outcome events.
func (e *Engine) Hub() *events.Hub {
	return e.hub
}

// Stats returns a copy of the most recent cycle summary.
func (e *Engine) Stats() CycleStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// PeriodicCheck runs one full enforcement cycle. Invoked by the scheduler
// tick and by the sweep API; overlapping invocations queue on the mutex.
func (e *Engine) PeriodicCheck(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runCycle(ctx)
}

// ActivityEvent records activity on a workspace and immediately re-runs the
// eviction check: a newly active workspace may push the running count over
// the cap.
func (e *Engine) ActivityEvent(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("workspace id is empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ledger.Touch(ctx, id, e.now())
	e.hub.Publish("engine.activity", map[string]any{"workspace_id": id})
	return e.runCycle(ctx)
}

// ManualStop stops a single workspace outside of a policy cycle. The ledger
// entry is dropped even when the provider reports the workspace already
// gone; only credential failures leave it in place.
func (e *Engine) ManualStop(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("workspace id is empty")
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cycleID := uuid.NewString()
	token := e.cfg.ResolveToken()

	err := e.retrier.Do(ctx, "stop workspace", func(ctx context.Context) error {
		return e.remote.Stop(ctx, id, token)
	})
	switch {
	case err == nil:
		e.ledger.Forget(ctx, id)
		e.emit(ctx, outcome.Outcome{
			CycleID:     cycleID,
			Type:        outcome.TypeStopped,
			WorkspaceID: id,
			Reason:      "manual",
		})
		return nil
	case gh.IsNotFound(err):
		// Already stopped or deleted. Not an error from the user's side.
		e.logger.Info("manual stop found workspace already gone", "workspace", id)
		e.ledger.Forget(ctx, id)
		e.emit(ctx, outcome.Outcome{
			CycleID:     cycleID,
			Type:        outcome.TypeStopped,
			WorkspaceID: id,
			Reason:      "manual",
			Detail:      "already stopped",
		})
		return nil
	case gh.IsAuthError(err):
		e.emit(ctx, outcome.Outcome{
			CycleID:     cycleID,
			Type:        outcome.TypeAuthError,
			WorkspaceID: id,
			Detail:      err.Error(),
		})
		return err
	default:
		e.ledger.Forget(ctx, id)
		e.emit(ctx, outcome.Outcome{
			CycleID:     cycleID,
			Type:        outcome.TypeStopFailed,
			WorkspaceID: id,
			Detail:      err.Error(),
		})
		return err
	}
}

// runCycle executes the fetch-decide-act sequence. Caller holds e.mu.
func (e *Engine) runCycle(ctx context.Context) error {
	cycleID := uuid.NewString()
	startedAt := e.now()
	logger := e.logger.With("cycle_id", cycleID)

	rules := e.cfg.Rules()
	token := e.cfg.ResolveToken()

	if !rules.Enabled || token == "" {
		detail := "policy disabled"
		if rules.Enabled {
			detail = "no credential configured"
		}
		logger.Debug("cycle skipped", "detail", detail)
		e.emit(ctx, outcome.Outcome{CycleID: cycleID, Type: outcome.TypeSkipped, Detail: detail})
		e.recordStats(CycleStats{CycleID: cycleID, StartedAt: startedAt, CompletedAt: e.now(), Skipped: true})
		return nil
	}

	e.hub.Publish("engine.cycle_started", map[string]any{"cycle_id": cycleID})

	listed, err := retry.DoValue(ctx, e.retrier, "list workspaces", func(ctx context.Context) ([]gh.Workspace, error) {
		return e.remote.List(ctx, token)
	})
	if err != nil {
		// A partial workspace view is never acted on.
		if gh.IsAuthError(err) {
			logger.Error("cycle aborted on auth failure", "error", err)
			e.emit(ctx, outcome.Outcome{CycleID: cycleID, Type: outcome.TypeAuthError, Detail: err.Error()})
		} else {
			logger.Error("cycle aborted, provider unavailable", "error", err)
			e.emit(ctx, outcome.Outcome{CycleID: cycleID, Type: outcome.TypeUnavailable, Detail: err.Error()})
		}
		e.recordStats(CycleStats{CycleID: cycleID, StartedAt: startedAt, CompletedAt: e.now()})
		return err
	}

	running := make([]gh.Workspace, 0, len(listed))
	for _, ws := range listed {
		if ws.Running() {
			running = append(running, ws)
		}
	}

	// Every ledger miss in a cycle shares this timestamp so never-seen
	// workspaces tie and selection falls back to identifier order.
	cycleNow := e.now()
	decisions := policy.Evaluate(running, rules, func(id string) time.Time {
		if t, ok := e.ledger.LastAccess(ctx, id); ok {
			return t
		}
		return cycleNow
	}, cycleNow)

	logger.Info("cycle evaluated",
		"listed", len(listed), "running", len(running), "decisions", len(decisions))

	stopped, failed := 0, 0
	for _, d := range decisions {
		if e.stopOne(ctx, cycleID, token, d) {
			stopped++
		} else {
			failed++
		}
	}

	stats := CycleStats{
		CycleID:     cycleID,
		StartedAt:   startedAt,
		CompletedAt: e.now(),
		Listed:      len(listed),
		Running:     len(running),
		Stopped:     stopped,
		Failed:      failed,
	}
	e.recordStats(stats)
	e.hub.Publish("engine.cycle_completed", stats)
	return nil
}

// stopOne executes a single eviction decision. Failures are isolated: one
// failed stop never aborts the remaining decisions.
func (e *Engine) stopOne(ctx context.Context, cycleID, token string, d policy.Decision) bool {
	ws := d.Workspace
	logger := e.logger.With("cycle_id", cycleID, "workspace", ws.ID, "repo", ws.RepoFullName, "reason", string(d.Reason))

	err := e.retrier.Do(ctx, "stop workspace", func(ctx context.Context) error {
		return e.remote.Stop(ctx, ws.ID, token)
	})
	switch {
	case err == nil:
		logger.Info("workspace stopped")
		e.ledger.Forget(ctx, ws.ID)
		e.emit(ctx, outcome.Outcome{
			CycleID:     cycleID,
			Type:        outcome.TypeStopped,
			WorkspaceID: ws.ID,
			Repo:        ws.RepoFullName,
			Reason:      string(d.Reason),
		})
		return true
	case gh.IsNotFound(err):
		// Vanished mid-cycle. Treat as already handled.
		logger.Info("workspace already gone, skipping")
		e.ledger.Forget(ctx, ws.ID)
		return true
	default:
		logger.Warn("failed to stop workspace", "error", err)
		e.emit(ctx, outcome.Outcome{
			CycleID:     cycleID,
			Type:        outcome.TypeStopFailed,
			WorkspaceID: ws.ID,
			Repo:        ws.RepoFullName,
			Reason:      string(d.Reason),
			Detail:      err.Error(),
		})
		return false
	}
}

// emit publishes an outcome to live subscribers and appends it to the
// durable log. Log failures never fail the cycle.
func (e *Engine) emit(ctx context.Context, o outcome.Outcome) {
	o.ID = uuid.NewString()
	o.CreatedAt = e.now().UTC()

	e.hub.PublishOutcome(o)
	if e.outcomes != nil {
		if err := e.outcomes.Append(ctx, o); err != nil {
			e.logger.Warn("failed to persist outcome", "type", string(o.Type), "error", err)
		}
	}
}

func (e *Engine) recordStats(s CycleStats) {
	e.statsMu.Lock()
	e.stats = s
	e.statsMu.Unlock()
}
