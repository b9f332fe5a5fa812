package db_test

import (
	"testing"
	"time"

	"github.com/loopdeck/loopdeck/internal/db"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	store, err := db.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMigrate(t *testing.T) {
	openTestDB(t)
}

func TestRunLifecycle(t *testing.T) {
	store := openTestDB(t)

	now := time.Now().Truncate(time.Millisecond)
	r := &db.Run{
		ID:         "run-1",
		SessionID:  "abc123",
		TaskName:   "fix-flaky-tests",
		PromptFile: "/tmp/prompt.md",
		ConfigFile: "/tmp/loop.yml",
		WorkDir:    "/tmp/project",
		PID:        4242,
		Status:     db.RunRunning,
		StartedAt:  now,
	}
	if err := store.InsertRun(r); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.GetRun("run-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SessionID != "abc123" || got.PID != 4242 {
		t.Errorf("round trip: %+v", got)
	}
	if !got.EndedAt.IsZero() {
		t.Errorf("live run should have zero end time, got %v", got.EndedAt)
	}

	if err := store.FinishRun("run-1", db.RunCompleted, "exit 0"); err != nil {
		t.Fatalf("finish: %v", err)
	}
	got, _ = store.GetRun("run-1")
	if got.Status != db.RunCompleted {
		t.Errorf("status: %q", got.Status)
	}
	if got.EndedAt.IsZero() {
		t.Error("finished run should have an end time")
	}
}

func TestRunsForSessionOrdering(t *testing.T) {
	store := openTestDB(t)

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"r1", "r2", "r3"} {
		store.InsertRun(&db.Run{
			ID:        id,
			SessionID: "s1",
			Status:    db.RunCompleted,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}
	store.InsertRun(&db.Run{ID: "other", SessionID: "s2", Status: db.RunCompleted, StartedAt: base})

	runs, err := store.RunsForSession("s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(runs))
	}
	if runs[0].ID != "r3" {
		t.Errorf("expected newest first, got %q", runs[0].ID)
	}

	all, _ := store.ListRuns(2)
	if len(all) != 2 {
		t.Errorf("limit not applied: %d", len(all))
	}
}

func TestMarkStaleRuns(t *testing.T) {
	store := openTestDB(t)

	store.InsertRun(&db.Run{ID: "live", SessionID: "s1", Status: db.RunRunning, StartedAt: time.Now()})
	store.InsertRun(&db.Run{ID: "done", SessionID: "s1", Status: db.RunCompleted, StartedAt: time.Now()})

	n, err := store.MarkStaleRuns("server restarted")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 stale run, got %d", n)
	}

	got, _ := store.GetRun("live")
	if got.Status != db.RunFailed {
		t.Errorf("stale run status: %q", got.Status)
	}
	got, _ = store.GetRun("done")
	if got.Status != db.RunCompleted {
		t.Errorf("finished run must not be touched: %q", got.Status)
	}
}

func TestHostSnapshots(t *testing.T) {
	store := openTestDB(t)

	old := time.Now().Add(-48 * time.Hour)
	store.InsertHostSnapshot(&db.HostSnapshot{TsMs: old.UnixMilli(), CPUPercent: 10})
	store.InsertHostSnapshot(&db.HostSnapshot{
		TsMs:            time.Now().UnixMilli(),
		CPUPercent:      42.5,
		MemTotal:        16 << 30,
		MemUsed:         8 << 30,
		MemUsedPercent:  50,
		DiskUsedPercent: 71.2,
		Load1:           1.25,
	})

	snaps, err := store.RecentHostSnapshots(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
	if snaps[0].CPUPercent != 42.5 {
		t.Errorf("expected newest first: %+v", snaps[0])
	}

	if err := store.PruneHostSnapshots(time.Now().Add(-24 * time.Hour)); err != nil {
		t.Fatal(err)
	}
	snaps, _ = store.RecentHostSnapshots(10)
	if len(snaps) != 1 {
		t.Errorf("expected prune to drop the old sample, got %d", len(snaps))
	}
}

func TestMetadata(t *testing.T) {
	store := openTestDB(t)

	if err := store.SetMeta("schema_note", "v1"); err != nil {
		t.Fatal(err)
	}
	v, err := store.GetMeta("schema_note")
	if err != nil || v != "v1" {
		t.Errorf("got %q err %v", v, err)
	}
	v, err = store.GetMeta("missing")
	if err != nil || v != "" {
		t.Errorf("missing key: got %q err %v", v, err)
	}
}
