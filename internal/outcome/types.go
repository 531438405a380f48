package outcome

import "time"

// Type classifies the result of an enforcement action or cycle.
type Type string

const (
	// TypeStopped reports a workspace stopped by policy or by hand.
	TypeStopped Type = "stopped"
	// TypeStopFailed reports a stop that failed after retries. Other
	// decisions in the same cycle still proceed.
	TypeStopFailed Type = "stop_failed"
	// TypeAuthError reports a credential or scope failure that aborted
	// the cycle. User-visible.
	TypeAuthError Type = "auth_error"
	// TypeSkipped reports a cycle that did not run (policy disabled or
	// no credential configured). Not an error.
	TypeSkipped Type = "skipped"
	// TypeUnavailable reports a cycle abandoned because the provider
	// stayed unreachable through the retry budget.
	TypeUnavailable Type = "unavailable"
)

// Outcome is one structured result event emitted by the engine. Outcomes
// flow to the event hub for live subscribers and to the outcome log for
// later inspection.
type Outcome struct {
	ID          string    `json:"id"`
	CycleID     string    `json:"cycle_id"`
	Type        Type      `json:"type"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	Repo        string    `json:"repo,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
