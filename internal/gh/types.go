package gh

import "time"

// State is the lifecycle state of a remote workspace as reported by the
// provider.
type State string

const (
	StateStarting  State = "starting"
	StateAvailable State = "available"
	StateStopping  State = "stopping"
	StateStopped   State = "stopped"
	StateError     State = "error"
	StateUnknown   State = "unknown"
)

// Workspace is a transient view of a remote development environment.
// It is sourced fresh from the provider on every cycle and never persisted.
type Workspace struct {
	ID           string
	DisplayName  string
	RepoFullName string
	State        State
	CreatedAt    time.Time
}

// Running reports whether the workspace counts against the concurrency cap.
func (w Workspace) Running() bool {
	return w.State == StateAvailable
}

// AuthInfo is the result of a credential check.
type AuthInfo struct {
	Login  string
	Scopes []string
}

// HasScope reports whether the token carries the named OAuth scope.
func (a AuthInfo) HasScope(scope string) bool {
	for _, s := range a.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// mapState normalizes provider state strings into the State enum.
func mapState(raw string) State {
	switch raw {
	case "Starting", "Queued", "Provisioning", "Created", "Awaiting":
		return StateStarting
	case "Available", "InProgress":
		return StateAvailable
	case "ShuttingDown":
		return StateStopping
	case "Shutdown", "Archived":
		return StateStopped
	case "Failed", "Unavailable", "Deleted":
		return StateError
	default:
		return StateUnknown
	}
}
