package eventlog_test

import (
	"testing"

	"github.com/loopdeck/loopdeck/internal/eventlog"
)

func started(n int, hat, ts string) eventlog.Event {
	return eventlog.Event{Topic: eventlog.TopicIterationStarted, Iteration: n, Hat: hat, Timestamp: ts}
}

func completed(n int, ts string) eventlog.Event {
	return eventlog.Event{Topic: eventlog.TopicIterationCompleted, Iteration: n, Timestamp: ts}
}

func TestFoldSingleIteration(t *testing.T) {
	got := eventlog.FoldIterations([]eventlog.Event{
		started(1, "planner", "2024-01-01T00:00:00Z"),
		completed(1, "2024-01-01T00:01:00Z"),
	})
	if len(got) != 1 {
		t.Fatalf("iterations: %d", len(got))
	}
	it := got[0]
	if it.Number != 1 || it.Hat != "planner" || it.StartedAt != "2024-01-01T00:00:00Z" {
		t.Errorf("iteration: %+v", it)
	}
	if it.DurationSecs == nil || *it.DurationSecs != 60 {
		t.Errorf("duration: %v", it.DurationSecs)
	}
}

func TestFoldMultipleIterations(t *testing.T) {
	got := eventlog.FoldIterations([]eventlog.Event{
		started(1, "planner", "2024-01-01T00:00:00Z"),
		completed(1, "2024-01-01T00:00:45Z"),
		started(2, "builder", "2024-01-01T00:01:00Z"),
		completed(2, "2024-01-01T00:03:00Z"),
	})
	if len(got) != 2 {
		t.Fatalf("iterations: %d", len(got))
	}
	if got[0].DurationSecs == nil || *got[0].DurationSecs != 45 {
		t.Errorf("first duration: %v", got[0].DurationSecs)
	}
	if got[1].Hat != "builder" || got[1].DurationSecs == nil || *got[1].DurationSecs != 120 {
		t.Errorf("second iteration: %+v", got[1])
	}
}

func TestFoldIncompleteIterations(t *testing.T) {
	// A new start closes the predecessor without a duration; the trailing
	// open iteration is still reported.
	got := eventlog.FoldIterations([]eventlog.Event{
		started(1, "planner", "2024-01-01T00:00:00Z"),
		started(2, "builder", "2024-01-01T00:01:00Z"),
	})
	if len(got) != 2 {
		t.Fatalf("iterations: %d", len(got))
	}
	if got[0].DurationSecs != nil || got[1].DurationSecs != nil {
		t.Errorf("open iterations must have no duration: %+v", got)
	}
}

func TestFoldNumberMismatchDropsOpen(t *testing.T) {
	got := eventlog.FoldIterations([]eventlog.Event{
		started(1, "planner", "2024-01-01T00:00:00Z"),
		completed(2, "2024-01-01T00:01:00Z"),
	})
	if len(got) != 0 {
		t.Errorf("mismatched completion must not produce a record: %+v", got)
	}
}

func TestFoldIgnoresNoise(t *testing.T) {
	got := eventlog.FoldIterations([]eventlog.Event{
		started(1, "planner", "2024-01-01T00:00:00Z"),
		{Topic: "file.changed", Timestamp: "2024-01-01T00:00:10Z"},
		{Topic: eventlog.TopicIterationCompleted, Iteration: 1}, // no timestamp
		completed(1, "2024-01-01T00:00:30Z"),
	})
	if len(got) != 1 {
		t.Fatalf("iterations: %d", len(got))
	}
	if got[0].DurationSecs == nil || *got[0].DurationSecs != 30 {
		t.Errorf("duration: %v", got[0].DurationSecs)
	}
}

func TestFoldDurationEdgeCases(t *testing.T) {
	// Completion before start clamps to zero.
	got := eventlog.FoldIterations([]eventlog.Event{
		started(1, "", "2024-01-01T00:01:00Z"),
		completed(1, "2024-01-01T00:00:00Z"),
	})
	if len(got) != 1 || got[0].DurationSecs == nil || *got[0].DurationSecs != 0 {
		t.Errorf("clamped duration: %+v", got)
	}

	// Unparseable start timestamp keeps the record but loses the duration.
	got = eventlog.FoldIterations([]eventlog.Event{
		started(1, "", "not-a-time"),
		completed(1, "2024-01-01T00:01:00Z"),
	})
	if len(got) != 1 || got[0].DurationSecs != nil {
		t.Errorf("invalid timestamp: %+v", got)
	}
}
