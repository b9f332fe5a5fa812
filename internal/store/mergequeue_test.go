package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loopdeck/loopdeck/internal/store"
)

func writeQueue(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "merge-queue.jsonl")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestMergeQueueMissingFile(t *testing.T) {
	q, err := store.ReadMergeQueue(filepath.Join(t.TempDir(), "merge-queue.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if len(q.Pending) != 0 || len(q.Completed) != 0 {
		t.Errorf("expected empty queue: %+v", q)
	}
}

func TestMergeQueuePendingOrder(t *testing.T) {
	path := writeQueue(t, `{"type":"loop.queued","id":"loop-1","prompt":"p1","worktree_path":"/wt/1","timestamp":"2024-01-01T00:00:00Z"}
{"type":"loop.queued","id":"loop-2","prompt":"p2","timestamp":"2024-01-01T00:01:00Z"}
`)
	q, err := store.ReadMergeQueue(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(q.Pending) != 2 || len(q.Completed) != 0 {
		t.Fatalf("%+v", q)
	}
	if q.Pending[0].ID != "loop-2" {
		t.Errorf("most recent first: got %q", q.Pending[0].ID)
	}
	if q.Pending[1].WorktreePath != "/wt/1" {
		t.Errorf("worktree: %q", q.Pending[1].WorktreePath)
	}
}

func TestMergeQueueTerminalEvents(t *testing.T) {
	path := writeQueue(t, `{"type":"loop.queued","id":"ok","prompt":"a","timestamp":"2024-01-01T00:00:00Z"}
{"type":"loop.merged","id":"ok","timestamp":"2024-01-01T00:05:00Z"}
{"type":"loop.queued","id":"bad","prompt":"b","timestamp":"2024-01-01T00:01:00Z"}
{"type":"loop.merge_failed","id":"bad","timestamp":"2024-01-01T00:06:00Z"}
`)
	q, err := store.ReadMergeQueue(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(q.Pending) != 0 || len(q.Completed) != 2 {
		t.Fatalf("%+v", q)
	}
	// Sorted by merged_at descending.
	if q.Completed[0].ID != "bad" || q.Completed[0].Status != "failed" {
		t.Errorf("first completed: %+v", q.Completed[0])
	}
	if q.Completed[1].Status != "completed" || q.Completed[1].MergedAt == "" {
		t.Errorf("second completed: %+v", q.Completed[1])
	}
}

func TestMergeQueueIgnoresNoise(t *testing.T) {
	path := writeQueue(t, `{"type":"loop.queued","id":"loop-1","prompt":"p","timestamp":"2024-01-01T00:00:00Z"}
{"type":"other.event","data":"noise"}
this is not json
{"type":"loop.merged","id":"never-queued","timestamp":"2024-01-01T00:05:00Z"}
{"type":"loop.merged","id":"loop-1","timestamp":"2024-01-01T00:05:00Z"}
`)
	q, err := store.ReadMergeQueue(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(q.Pending) != 0 || len(q.Completed) != 1 {
		t.Fatalf("%+v", q)
	}
	if q.Completed[0].ID != "loop-1" {
		t.Errorf("got %q", q.Completed[0].ID)
	}
}
