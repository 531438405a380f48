// Package ledger tracks per-workspace last-access timestamps. It is the
// engine's idleness memory: entries are created on observed activity,
// consulted by the eviction policy, and dropped after a confirmed stop.
//
// The ledger must never fail an enforcement cycle. A read failure degrades
// to "accessed just now" (safe: never makes a workspace look idle) and a
// write failure is logged and swallowed.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/codespace-tools/warden/internal/log"
)

type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// now is swappable in tests.
	now func() time.Time
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:     db,
		logger: log.WithComponent("ledger"),
		now:    time.Now,
	}
}

// Touch records activity on a workspace at time t. Idempotent; failures are
// logged, never escalated.
func (s *Store) Touch(ctx context.Context, id string, t time.Time) {
	if id == "" {
		return
	}
	updatedAt := s.now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO workspace_access(workspace_id, last_access_ms, updated_at)
VALUES(?, ?, ?)
ON CONFLICT(workspace_id) DO UPDATE SET
  last_access_ms = excluded.last_access_ms,
  updated_at     = excluded.updated_at;
`, id, t.UnixMilli(), updatedAt)
	if err != nil {
		s.logger.Warn("failed to record workspace activity", "workspace", id, "error", err)
	}
}

// LastAccess returns the recorded last-access time for a workspace. A
// workspace with no record, or a failing read, reports ok=false; the caller
// substitutes its own clock so that all misses in one evaluation share a
// single timestamp and sort deterministically.
func (s *Store) LastAccess(ctx context.Context, id string) (time.Time, bool) {
	var ms int64
	err := s.db.QueryRowContext(ctx,
		"SELECT last_access_ms FROM workspace_access WHERE workspace_id = ?;", id).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false
	}
	if err != nil {
		s.logger.Warn("failed to read workspace last access, treating as just accessed",
			"workspace", id, "error", err)
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// Forget drops the ledger entry after a confirmed stop. Removing the row
// also keeps a later reuse of the identifier from inheriting a stale
// timestamp. Idempotent; failures are logged, never escalated.
func (s *Store) Forget(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM workspace_access WHERE workspace_id = ?;", id); err != nil {
		s.logger.Warn("failed to forget workspace", "workspace", id, "error", err)
	}
}
