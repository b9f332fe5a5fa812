package proc_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loopdeck/loopdeck/internal/proc"
)

func TestLookupsOnEmptyRegistry(t *testing.T) {
	r := proc.NewRegistry()
	if r.IsRunning("nope") {
		t.Error("IsRunning on unknown session")
	}
	if _, ok := r.WorkingDir("nope"); ok {
		t.Error("WorkingDir on unknown session")
	}
	if _, ok := r.PID("nope"); ok {
		t.Error("PID on unknown session")
	}
}

func TestTerminateUnknownIsIdempotent(t *testing.T) {
	r := proc.NewRegistry()
	removed, err := r.Terminate("missing")
	if err != nil {
		t.Fatalf("terminate unknown: %v", err)
	}
	if removed {
		t.Error("expected removed=false for unknown session")
	}
}

func TestSpawnStoreAndTerminate(t *testing.T) {
	r := proc.NewRegistry()
	dir := t.TempDir()

	pid, err := r.SpawnAndStore("s1", proc.Command{
		Name: "sleep",
		Args: []string{"30"},
		Dir:  dir,
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if pid <= 0 {
		t.Fatalf("pid: %d", pid)
	}

	if !r.IsRunning("s1") {
		t.Error("expected running after spawn")
	}
	if got, ok := r.WorkingDir("s1"); !ok || got != dir {
		t.Errorf("working dir: %q %v", got, ok)
	}
	if got, ok := r.PID("s1"); !ok || got != pid {
		t.Errorf("pid lookup: %d %v", got, ok)
	}

	removed, err := r.Terminate("s1")
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if !removed {
		t.Error("expected removed=true")
	}
	if r.IsRunning("s1") {
		t.Error("still running after terminate")
	}

	// Second terminate: idempotent, removed exactly once.
	removed, err = r.Terminate("s1")
	if err != nil || removed {
		t.Errorf("second terminate: removed=%v err=%v", removed, err)
	}
}

func TestSpawnUnknownBinary(t *testing.T) {
	r := proc.NewRegistry()
	_, err := r.SpawnAndStore("s1", proc.Command{Name: "definitely-not-a-binary-xyz"})
	if err == nil {
		t.Fatal("expected spawn error")
	}
	var spawnErr *proc.SpawnError
	if !errors.As(err, &spawnErr) {
		t.Errorf("expected *SpawnError, got %T", err)
	}
	if r.IsRunning("s1") {
		t.Error("failed spawn must not register")
	}
}

func TestDoubleRegistrationRejected(t *testing.T) {
	r := proc.NewRegistry()
	if _, err := r.SpawnAndStore("dup", proc.Command{Name: "sleep", Args: []string{"30"}}); err != nil {
		t.Fatal(err)
	}
	defer r.Terminate("dup")

	if _, err := r.SpawnAndStore("dup", proc.Command{Name: "sleep", Args: []string{"30"}}); err == nil {
		t.Fatal("expected rejection of duplicate session id")
	}
}

func TestConcurrentSpawnsOneWinner(t *testing.T) {
	r := proc.NewRegistry()

	const workers = 4
	for round := 0; round < 25; round++ {
		var (
			successes atomic.Int32
			start     = make(chan struct{})
			wg        sync.WaitGroup
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := r.SpawnAndStore("contested", proc.Command{
					Name: "sleep",
					Args: []string{"30"},
				})
				if err == nil {
					successes.Add(1)
				} else if !errors.Is(err, proc.ErrAlreadyRegistered) {
					t.Errorf("unexpected spawn error: %v", err)
				}
			}()
		}
		close(start)
		wg.Wait()

		if got := successes.Load(); got != 1 {
			t.Fatalf("round %d: %d spawns succeeded for one session id", round, got)
		}
		if _, err := r.Terminate("contested"); err != nil {
			t.Fatalf("round %d: terminate: %v", round, err)
		}
	}
}

func TestGracefulThenForced(t *testing.T) {
	r := proc.NewRegistry()

	// A shell that traps and ignores SIGTERM: only the forced phase can
	// bring it down.
	_, err := r.SpawnAndStore("stubborn", proc.Command{
		Name: "sh",
		Args: []string{"-c", `trap "" TERM; sleep 60`},
	})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	start := time.Now()
	removed, err := r.Terminate("stubborn")
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if !removed {
		t.Error("expected removed=true")
	}
	// Should take roughly the grace window, then the kill, never 60s.
	if elapsed > 10*time.Second {
		t.Errorf("terminate took too long: %v", elapsed)
	}
	if r.IsRunning("stubborn") {
		t.Error("record leaked after forced stop")
	}
}

func TestAlreadyExitedProcessIsSuccess(t *testing.T) {
	r := proc.NewRegistry()
	if _, err := r.SpawnAndStore("quick", proc.Command{Name: "true"}); err != nil {
		t.Fatal(err)
	}

	// Let the process exit on its own; the record remains until terminated.
	time.Sleep(300 * time.Millisecond)
	if !r.IsRunning("quick") {
		t.Fatal("record should persist until Terminate")
	}

	removed, err := r.Terminate("quick")
	if err != nil {
		t.Fatalf("terminating an exited process must succeed: %v", err)
	}
	if !removed {
		t.Error("expected removed=true")
	}
}
