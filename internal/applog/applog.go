// Package applog sets up file-backed structured logging for the server.
// Logs land in date-stamped files so a misbehaving runner cannot grow one
// file without bound, and old days are pruned automatically.
package applog

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	filePrefix      = "loopdeck-"
	defaultKeepDays = 7
)

// DailyRotator is an io.Writer that appends to a date-stamped log file and
// switches to a new file when the calendar day changes.
type DailyRotator struct {
	mu       sync.Mutex
	dir      string
	date     string
	file     *os.File
	keepDays int
	now      func() time.Time
}

// NewDailyRotator returns a rotator writing under dir, keeping at most
// keepDays files.
func NewDailyRotator(dir string, keepDays int) *DailyRotator {
	return &DailyRotator{
		dir:      dir,
		keepDays: keepDays,
		now:      time.Now,
	}
}

// SetNow replaces the time source. Used in tests only.
func (r *DailyRotator) SetNow(fn func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = fn
}

func (r *DailyRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	today := r.now().Format(time.DateOnly)
	if today != r.date {
		if err := r.rotate(today); err != nil {
			return 0, err
		}
	}
	return r.file.Write(p)
}

func (r *DailyRotator) rotate(date string) error {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	name := filepath.Join(r.dir, filePrefix+date+".log")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	r.file = f
	r.date = date
	r.prune()
	return nil
}

// prune removes the oldest files beyond the retention window. ISO dates in
// the filename make lexical order chronological order.
func (r *DailyRotator) prune() {
	matches, err := filepath.Glob(filepath.Join(r.dir, filePrefix+"*.log"))
	if err != nil || len(matches) <= r.keepDays {
		return
	}
	sort.Strings(matches)
	for _, f := range matches[:len(matches)-r.keepDays] {
		os.Remove(f)
	}
}

// Close flushes and closes the current log file.
func (r *DailyRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// InitConfig holds configuration for Init. KeepDays <= 0 means the default
// retention of 7 files.
type InitConfig struct {
	LogDir   string
	LogLevel string
	KeepDays int
}

// Init sets up file-backed structured logging. It redirects both slog.Default
// and the stdlib log package to a daily-rotating file in cfg.LogDir.
// The returned io.Closer must be deferred by the caller.
func Init(cfg InitConfig) (*slog.Logger, io.Closer, error) {
	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	keep := cfg.KeepDays
	if keep <= 0 {
		keep = defaultKeepDays
	}
	rotator := NewDailyRotator(cfg.LogDir, keep)
	handler := slog.NewTextHandler(rotator, &slog.HandlerOptions{Level: ParseLevel(cfg.LogLevel)})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	log.SetOutput(rotator)
	log.SetFlags(0)
	return logger, rotator, nil
}

// ParseLevel converts a level string to slog.Level. Unknown or empty strings
// mean LevelInfo.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
