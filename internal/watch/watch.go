// Package watch wraps OS file-change notification for a single path.
package watch

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrClosed is returned by Wait after Close has been called.
var ErrClosed = errors.New("watch: watcher closed")

// Watcher observes one path for modification. If the path does not exist
// when the watcher is created, its parent directory is watched instead so
// file creation is still observed.
type Watcher struct {
	path string
	fw   *fsnotify.Watcher
}

// New installs a watch on path (or its parent directory when path does not
// exist yet). An installation failure is returned to the caller; sessions
// whose log cannot be watched must not be silently tailed.
func New(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	target := path
	if err := fw.Add(target); err != nil {
		target = filepath.Dir(path)
		if dirErr := fw.Add(target); dirErr != nil {
			fw.Close()
			return nil, fmt.Errorf("watch %s: %w", path, dirErr)
		}
	}

	return &Watcher{path: path, fw: fw}, nil
}

// Path returns the path the watcher was created for.
func (w *Watcher) Path() string {
	return w.path
}

// Wait blocks until the watched path sees a create or write, the timeout
// elapses, or the watcher fails. It reports true only for an actionable
// change; other notification kinds are consumed without waking the caller.
func (w *Watcher) Wait(timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return false, ErrClosed
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				return true, nil
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return false, ErrClosed
			}
			return false, err
		case <-timer.C:
			return false, nil
		}
	}
}

// Close removes the underlying watch. Wait calls in flight return ErrClosed.
func (w *Watcher) Close() error {
	return w.fw.Close()
}
