// Package proc supervises the external agent-loop processes started by the
// server: spawn and register, liveness lookup, and graceful-then-forced
// termination with a guaranteed reap.
package proc

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

const (
	// termGrace is how long Terminate waits for a process to exit after the
	// graceful stop request before escalating.
	termGrace = 2 * time.Second
	// termPollInterval is the fixed sleep between exit checks.
	termPollInterval = 100 * time.Millisecond
)

// ErrAlreadyRegistered is returned when a session id is spawned twice.
var ErrAlreadyRegistered = errors.New("proc: session already registered")

// SpawnError wraps an OS-level failure to create the process.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("proc: spawn failed: %v", e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Command describes the external program to run.
type Command struct {
	Name   string
	Args   []string
	Dir    string
	Output io.Writer // combined stdout/stderr; nil discards
}

type record struct {
	cmd     *exec.Cmd
	workDir string
	done    chan struct{} // closed once the process has been reaped
}

// Registry is a concurrency-safe map from session id to supervised process.
// A record existing is the definition of "running"; the registry does not
// re-verify OS liveness on lookup.
type Registry struct {
	mu    sync.Mutex
	procs map[string]*record
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{procs: make(map[string]*record)}
}

// SpawnAndStore starts the program in its own process group with stdin
// closed, registers it under sessionID, and returns the OS pid. The
// duplicate check, the start and the insert all happen under one lock hold,
// so concurrent spawns under the same id cannot both succeed and no other
// registry operation ever observes a half-registered record. The process is
// reaped by a background waiter so it can never linger as a zombie; an
// Output that is also an io.Closer is closed after the reap.
func (r *Registry) SpawnAndStore(sessionID string, c Command) (int, error) {
	cmd := exec.Command(c.Name, c.Args...)
	cmd.Dir = c.Dir
	if c.Output != nil {
		cmd.Stdout = c.Output
		cmd.Stderr = c.Output
	}
	setProcessGroup(cmd)

	r.mu.Lock()
	if _, exists := r.procs[sessionID]; exists {
		r.mu.Unlock()
		return 0, ErrAlreadyRegistered
	}
	if err := cmd.Start(); err != nil {
		r.mu.Unlock()
		return 0, &SpawnError{Err: err}
	}
	rec := &record{cmd: cmd, workDir: c.Dir, done: make(chan struct{})}
	r.procs[sessionID] = rec
	r.mu.Unlock()

	go func() {
		cmd.Wait()
		if closer, ok := c.Output.(io.Closer); ok {
			closer.Close()
		}
		close(rec.done)
	}()

	return cmd.Process.Pid, nil
}

// IsRunning reports whether a record exists for the session.
func (r *Registry) IsRunning(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.procs[sessionID]
	return ok
}

// WorkingDir returns the working directory stored at spawn time.
func (r *Registry) WorkingDir(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.procs[sessionID]
	if !ok {
		return "", false
	}
	return rec.workDir, true
}

// PID returns the OS pid for a registered session.
func (r *Registry) PID(sessionID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.procs[sessionID]
	if !ok {
		return 0, false
	}
	return rec.cmd.Process.Pid, true
}

// Terminate stops the session's process: graceful stop to the process group
// and the process itself, a bounded poll for exit, then a forced stop and a
// blocking reap. Unknown sessions return (false, nil). The record is removed
// exactly once, before the blocking wait, so other registry operations are
// never stalled behind the grace period. Even a signalling error removes the
// record; the caller has no recourse against a process it may not own.
func (r *Registry) Terminate(sessionID string) (bool, error) {
	r.mu.Lock()
	rec, ok := r.procs[sessionID]
	if !ok {
		r.mu.Unlock()
		return false, nil
	}
	delete(r.procs, sessionID)
	r.mu.Unlock()

	sigErr := requestGracefulStop(rec.cmd)

	deadline := time.Now().Add(termGrace)
	for time.Now().Before(deadline) {
		select {
		case <-rec.done:
			return true, sigErr
		case <-time.After(termPollInterval):
		}
	}

	if err := requestForcedStop(rec.cmd); err != nil && sigErr == nil {
		sigErr = err
	}
	<-rec.done // always reap, never leave a defunct record
	return true, sigErr
}

// TerminateAll stops every registered process. Used on server shutdown so
// spawned runners do not outlive their control plane.
func (r *Registry) TerminateAll(logger *slog.Logger) {
	for _, id := range r.Sessions() {
		if _, err := r.Terminate(id); err != nil {
			logger.Warn("terminate on shutdown", "session", id, "err", err)
		}
	}
}

// Sessions returns the ids of all registered processes.
func (r *Registry) Sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.procs))
	for id := range r.procs {
		ids = append(ids, id)
	}
	return ids
}
