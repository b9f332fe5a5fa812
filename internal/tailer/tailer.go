// Package tailer incrementally follows one session's event log and pushes
// newly appended events into that session's broadcast hub.
package tailer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loopdeck/loopdeck/internal/eventlog"
	"github.com/loopdeck/loopdeck/internal/hub"
	"github.com/loopdeck/loopdeck/internal/watch"
)

// WaitInterval is the bounded timeout each supervisory wait uses so the
// loop periodically re-validates liveness instead of blocking forever.
const WaitInterval = 60 * time.Second

// Tailer owns the file watch, the read cursor and the publishing side of a
// session's hub. Exactly one Tailer may exist per log file: a second one
// would double-read and double-broadcast. Callers keep the single owned
// instance in shared session state.
type Tailer struct {
	path    string
	watcher *watch.Watcher
	reader  *eventlog.Reader
	hub     *hub.Hub
}

// New installs the file watch and positions the cursor at the start of the
// file. If the watch cannot be installed the error propagates so the caller
// can log and retire the session rather than silently tailing nothing.
func New(path string) (*Tailer, error) {
	w, err := watch.New(path)
	if err != nil {
		return nil, fmt.Errorf("tail %s: %w", path, err)
	}
	return &Tailer{
		path:    path,
		watcher: w,
		reader:  eventlog.NewReader(path),
		hub:     hub.New(),
	}, nil
}

// Path returns the log file being tailed.
func (t *Tailer) Path() string {
	return t.path
}

// Hub returns the thread-safe broadcast handle for this session. Unlike the
// Tailer itself it is shareable: store it in server state and subscribe from
// any goroutine.
func (t *Tailer) Hub() *hub.Hub {
	return t.hub
}

// Offset reports the current cursor position.
func (t *Tailer) Offset() int64 {
	return t.reader.Offset()
}

// ReadCurrent reads events already present in the file without waiting and
// without broadcasting. Used for an initial catch-up load.
func (t *Tailer) ReadCurrent() (eventlog.ReadResult, error) {
	return t.reader.ReadNew()
}

// WaitForEvents blocks until the log gains new content, then reads, advances
// the cursor, broadcasts the parsed events and returns them. A wake that
// yields neither events nor malformed lines is spurious and re-blocks. On
// timeout it returns (nil, nil): no update, not an error, so callers can run
// liveness heartbeats.
func (t *Tailer) WaitForEvents(timeout time.Duration) (*eventlog.ReadResult, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		changed, err := t.watcher.Wait(remaining)
		if err != nil {
			return nil, err
		}
		if !changed {
			return nil, nil
		}
		res, err := t.reader.ReadNew()
		if err != nil {
			return nil, err
		}
		if len(res.Events) == 0 && res.Malformed == 0 {
			continue
		}
		for _, e := range res.Events {
			t.hub.Publish(e)
		}
		return &res, nil
	}
}

// Run pumps events until ctx is cancelled or the watch fails. It is the
// long-lived supervisory loop started once per tailed session.
func (t *Tailer) Run(ctx context.Context, logger *slog.Logger) {
	defer t.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		res, err := t.WaitForEvents(WaitInterval)
		if err != nil {
			logger.Warn("tailer: abandoning session log", "path", t.path, "error", err)
			return
		}
		if res != nil {
			logger.Debug("tailer: broadcast events",
				"path", t.path,
				"events", len(res.Events),
				"malformed", res.Malformed,
			)
		}
	}
}

// Close releases the file watch and tears down the hub, detaching all
// subscribers.
func (t *Tailer) Close() {
	t.watcher.Close()
	t.hub.Close()
}
