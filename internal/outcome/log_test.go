package outcome

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/codespace-tools/warden/internal/storage"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "warden.db")
	db, err := storage.OpenSQLite(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewLog(db)
}

func TestAppendAndRecentNewestFirst(t *testing.T) {
	t.Parallel()

	l := newTestLog(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		err := l.Append(ctx, Outcome{
			ID:          fmt.Sprintf("o-%d", i),
			CycleID:     "cycle-1",
			Type:        TypeStopped,
			WorkspaceID: fmt.Sprintf("ws-%d", i),
			Repo:        "org/alpha",
			Reason:      "idle_timeout",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	got, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(got))
	}
	if got[0].ID != "o-2" || got[2].ID != "o-0" {
		t.Fatalf("expected newest first, got %v, %v, %v", got[0].ID, got[1].ID, got[2].ID)
	}
	if got[0].Type != TypeStopped || got[0].Reason != "idle_timeout" {
		t.Fatalf("round-trip mismatch: %#v", got[0])
	}
	if !got[0].CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("timestamp mismatch: %v", got[0].CreatedAt)
	}
}

func TestRecentHonorsLimitAndDefault(t *testing.T) {
	t.Parallel()

	l := newTestLog(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		err := l.Append(ctx, Outcome{
			ID:        fmt.Sprintf("o-%d", i),
			CycleID:   "cycle-1",
			Type:      TypeSkipped,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := l.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 || got[0].ID != "o-4" {
		t.Fatalf("limit not honored: %v", got)
	}

	got, err = l.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent with default limit: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected all 5 with default limit, got %d", len(got))
	}
}

func TestPruneDeletesAgedOutcomes(t *testing.T) {
	t.Parallel()

	l := newTestLog(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := Outcome{ID: "o-old", CycleID: "c", Type: TypeStopped, CreatedAt: now.Add(-48 * time.Hour)}
	fresh := Outcome{ID: "o-fresh", CycleID: "c", Type: TypeStopped, CreatedAt: now}
	if err := l.Append(ctx, old); err != nil {
		t.Fatalf("Append old: %v", err)
	}
	if err := l.Append(ctx, fresh); err != nil {
		t.Fatalf("Append fresh: %v", err)
	}

	if err := l.Prune(ctx, 24*time.Hour); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	got, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].ID != "o-fresh" {
		t.Fatalf("expected only o-fresh to survive, got %v", got)
	}
}

func TestPruneZeroRetentionKeepsEverything(t *testing.T) {
	t.Parallel()

	l := newTestLog(t)
	ctx := context.Background()

	err := l.Append(ctx, Outcome{
		ID: "o-1", CycleID: "c", Type: TypeStopped,
		CreatedAt: time.Now().UTC().Add(-1000 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := l.Prune(ctx, 0); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	got, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("retention 0 must disable pruning, got %v", got)
	}
}
