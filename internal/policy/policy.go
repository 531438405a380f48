// Package policy computes which workspaces must be stopped in a single
// enforcement cycle. Evaluate is pure and deterministic: same inputs, same
// decision, no hidden state.
package policy

import (
	"sort"
	"strings"
	"time"

	"github.com/codespace-tools/warden/internal/gh"
)

// Reason labels why a workspace was selected for stopping.
type Reason string

const (
	// ReasonMaxExceeded marks an oldest-first eviction over the
	// concurrency cap.
	ReasonMaxExceeded Reason = "max_exceeded"
	// ReasonIdleTimeout marks eviction for exceeding the idle threshold.
	ReasonIdleTimeout Reason = "idle_timeout"
)

// Rules is the immutable policy snapshot for one cycle.
type Rules struct {
	Enabled       bool
	MaxConcurrent int
	IdleThreshold time.Duration // 0 disables idle eviction
	ExcludedRepos []string
}

// Decision is one workspace selected for stopping, in stop order.
type Decision struct {
	Workspace gh.Workspace
	Reason    Reason
}

// Evaluate selects workspaces to stop given the current running set, the
// policy rules, and a last-access lookup. Decisions come back oldest-first
// so stop sequencing is deterministic. Each workspace appears at most once;
// when it qualifies under both passes the MaxExceeded label wins.
//
// lastAccess is consulted exactly once per workspace so that read-miss
// defaults (lookup returning "now") stay consistent within the cycle.
func Evaluate(workspaces []gh.Workspace, rules Rules, lastAccess func(id string) time.Time, now time.Time) []Decision {
	if !rules.Enabled {
		return nil
	}

	filtered := make([]gh.Workspace, 0, len(workspaces))
	for _, ws := range workspaces {
		if excluded(ws.RepoFullName, rules.ExcludedRepos) {
			continue
		}
		filtered = append(filtered, ws)
	}
	if len(filtered) == 0 {
		return nil
	}

	accessed := make(map[string]time.Time, len(filtered))
	for _, ws := range filtered {
		accessed[ws.ID] = lastAccess(ws.ID)
	}

	idle := make(map[string]bool, len(filtered))
	if rules.IdleThreshold > 0 {
		for _, ws := range filtered {
			if now.Sub(accessed[ws.ID]) > rules.IdleThreshold {
				idle[ws.ID] = true
			}
		}
	}

	// Oldest first; ties broken by identifier for determinism.
	sort.Slice(filtered, func(i, j int) bool {
		ti, tj := accessed[filtered[i].ID], accessed[filtered[j].ID]
		if ti.Equal(tj) {
			return filtered[i].ID < filtered[j].ID
		}
		return ti.Before(tj)
	})

	// Workspaces already idle-flagged still count toward the excess so
	// they are not double-scheduled.
	excess := len(filtered) - rules.MaxConcurrent

	decisions := make([]Decision, 0, len(filtered))
	for i, ws := range filtered {
		switch {
		case i < excess:
			decisions = append(decisions, Decision{Workspace: ws, Reason: ReasonMaxExceeded})
		case idle[ws.ID]:
			decisions = append(decisions, Decision{Workspace: ws, Reason: ReasonIdleTimeout})
		}
	}
	return decisions
}

// excluded matches repo against the exclusion patterns by exact equality or
// substring containment. Substring matching means "org/repo" also excludes
// "org/repo-fork"; permissive on purpose, flagged in the doctor.
func excluded(repo string, patterns []string) bool {
	if repo == "" {
		return false
	}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		if repo == p || strings.Contains(repo, p) {
			return true
		}
	}
	return false
}
