package engine

import (
	"context"
	"time"

	"github.com/codespace-tools/warden/internal/gh"
	"github.com/codespace-tools/warden/internal/policy"
)

//go:generate mockgen -destination=mocks/mock_remote.go -package=mocks github.com/codespace-tools/warden/internal/engine RemoteService

// RemoteService is the slice of the provider client the engine consumes.
type RemoteService interface {
	List(ctx context.Context, token string) ([]gh.Workspace, error)
	Stop(ctx context.Context, id string, token string) error
}

// AccessLedger records and reads per-workspace last-access timestamps.
// Implementations must degrade instead of failing: reads report ok=false on
// a miss or a storage error, writes are best-effort.
type AccessLedger interface {
	Touch(ctx context.Context, id string, t time.Time)
	LastAccess(ctx context.Context, id string) (time.Time, bool)
	Forget(ctx context.Context, id string)
}

// ConfigSource yields the per-cycle policy snapshot and credential. The
// engine never caches either across cycles.
type ConfigSource interface {
	Rules() policy.Rules
	ResolveToken() string
}
