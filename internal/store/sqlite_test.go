package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/studentutu/shipyard/pkg/model"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestArtifactPath_EmptyBeforeSet(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	path, err := st.GetArtifactPath(ctx, "app")
	if err != nil {
		t.Fatalf("GetArtifactPath: %v", err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty before any build", path)
	}
}

func TestArtifactPath_SetAndReplace(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	if err := st.SetArtifactPath(ctx, "app", "/dist/app-v1.bin"); err != nil {
		t.Fatalf("SetArtifactPath: %v", err)
	}
	path, err := st.GetArtifactPath(ctx, "app")
	if err != nil {
		t.Fatalf("GetArtifactPath: %v", err)
	}
	if path != "/dist/app-v1.bin" {
		t.Errorf("path = %q, want /dist/app-v1.bin", path)
	}

	// Upsert replaces the previous path.
	if err := st.SetArtifactPath(ctx, "app", "/dist/app-v2.bin"); err != nil {
		t.Fatalf("SetArtifactPath (replace): %v", err)
	}
	path, _ = st.GetArtifactPath(ctx, "app")
	if path != "/dist/app-v2.bin" {
		t.Errorf("path = %q, want replaced value", path)
	}
}

func newTestRun(state model.RunState) *model.Run {
	return &model.Run{
		ID:          "run_" + uuid.New().String(),
		Strategy:    model.StrategyTypeCommand,
		State:       state,
		ForceBuild:  true,
		TargetCount: 3,
		StartedAt:   time.Now().UTC(),
	}
}

func TestRun_CreateGetUpdate(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	run := newTestRun(model.RunStateBuilding)
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got == nil {
		t.Fatalf("GetRun: run not found")
	}
	if got.State != model.RunStateBuilding || !got.ForceBuild || got.TargetCount != 3 {
		t.Errorf("GetRun = %+v, fields do not round-trip", got)
	}
	if got.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil before completion", got.CompletedAt)
	}

	now := time.Now().UTC()
	run.State = model.RunStateDone
	run.Succeeded = true
	run.CompletedAt = &now
	if err := st.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	got, _ = st.GetRun(ctx, run.ID)
	if got.State != model.RunStateDone || !got.Succeeded {
		t.Errorf("updated run = %+v, want DONE/succeeded", got)
	}
	if got.CompletedAt == nil {
		t.Errorf("CompletedAt = nil after update")
	}
}

func TestRun_GetMissing(t *testing.T) {
	st := testStore(t)

	got, err := st.GetRun(context.Background(), "run_missing")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got != nil {
		t.Errorf("GetRun = %+v, want nil for missing id", got)
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	old := newTestRun(model.RunStateDone)
	old.StartedAt = time.Now().UTC().Add(-time.Hour)
	recent := newTestRun(model.RunStateDistributing)

	if err := st.CreateRun(ctx, old); err != nil {
		t.Fatalf("CreateRun(old): %v", err)
	}
	if err := st.CreateRun(ctx, recent); err != nil {
		t.Fatalf("CreateRun(recent): %v", err)
	}

	runs, err := st.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[0].ID != recent.ID {
		t.Errorf("runs[0] = %s, want most recent first", runs[0].ID)
	}

	limited, err := st.ListRuns(ctx, 1)
	if err != nil {
		t.Fatalf("ListRuns(limit=1): %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("len(limited) = %d, want 1", len(limited))
	}
}
