package outcome

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Log persists outcomes in the outcome_log table for the status API and
// post-hoc inspection. The in-memory event hub handles live delivery; this
// is the durable trail.
type Log struct {
	db *sql.DB
}

func NewLog(db *sql.DB) *Log {
	return &Log{db: db}
}

// Append writes one outcome.
func (l *Log) Append(ctx context.Context, o Outcome) error {
	createdAt := o.CreatedAt.UTC().Format(time.RFC3339Nano)
	_, err := l.db.ExecContext(ctx, `
INSERT INTO outcome_log(id, cycle_id, type, workspace_id, repo, reason, detail, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, o.ID, o.CycleID, string(o.Type), o.WorkspaceID, o.Repo, o.Reason, o.Detail, createdAt)
	if err != nil {
		return fmt.Errorf("append outcome: %w", err)
	}
	return nil
}

// Recent returns up to limit outcomes, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Outcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT id, cycle_id, type, workspace_id, repo, reason, detail, created_at
FROM outcome_log
ORDER BY created_at DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []Outcome
	for rows.Next() {
		var (
			o         Outcome
			typ       string
			createdAt string
		)
		if err := rows.Scan(&o.ID, &o.CycleID, &typ, &o.WorkspaceID, &o.Repo, &o.Reason, &o.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Type = Type(typ)
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			o.CreatedAt = t
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Prune deletes outcomes older than the retention window.
func (l *Log) Prune(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339Nano)
	if _, err := l.db.ExecContext(ctx,
		"DELETE FROM outcome_log WHERE created_at < ?;", cutoff); err != nil {
		return fmt.Errorf("prune outcomes: %w", err)
	}
	return nil
}
