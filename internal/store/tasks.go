// Package store reads and writes the line-delimited JSON files a loop
// session leaves under its marker directory: the task backlog and the
// merge-queue event log.
package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskInProgress TaskStatus = "in_progress"
	TaskClosed     TaskStatus = "closed"
	TaskFailed     TaskStatus = "failed"
)

// ValidTaskStatus reports whether s names a known status, case-insensitively.
func ValidTaskStatus(s string) (TaskStatus, bool) {
	switch TaskStatus(strings.ToLower(s)) {
	case TaskOpen, TaskInProgress, TaskClosed, TaskFailed:
		return TaskStatus(strings.ToLower(s)), true
	}
	return "", false
}

// Task is one backlog entry in tasks.jsonl. Field names follow the file
// format the loop runner writes.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      TaskStatus `json:"status"`
	Priority    int        `json:"priority"`
	BlockedBy   []string   `json:"blocked_by"`
	LoopID      string     `json:"loop_id,omitempty"`
	Created     string     `json:"created"`
	Closed      string     `json:"closed,omitempty"`
}

var ErrTaskNotFound = errors.New("task not found")

// TaskStore owns one tasks.jsonl file. All mutations rewrite the whole file;
// the backlog is small and the rewrite keeps the format trivially valid.
type TaskStore struct {
	mu    sync.Mutex
	path  string
	tasks []Task
}

// LoadTasks reads path into a store. A missing file yields an empty store;
// malformed lines are skipped.
func LoadTasks(path string) (*TaskStore, error) {
	s := &TaskStore{path: path}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open tasks: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var t Task
		if err := json.Unmarshal([]byte(line), &t); err != nil || t.ID == "" {
			continue
		}
		s.tasks = append(s.tasks, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	return s, nil
}

// All returns tasks filtered by status ("" = all), highest priority first
// (1 is highest), newest first within a priority.
func (s *TaskStore) All(statusFilter string) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if statusFilter != "" && !strings.EqualFold(string(t.Status), statusFilter) {
			continue
		}
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Created > out[j].Created
	})
	return out
}

// Add creates a task and persists the backlog.
func (s *TaskStore) Add(title, description string, priority int, blockedBy []string) (Task, error) {
	t := Task{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Status:      TaskOpen,
		Priority:    priority,
		BlockedBy:   blockedBy,
		Created:     time.Now().UTC().Format(time.RFC3339),
	}
	if t.BlockedBy == nil {
		t.BlockedBy = []string{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
	if err := s.saveLocked(); err != nil {
		s.tasks = s.tasks[:len(s.tasks)-1]
		return Task{}, err
	}
	return t, nil
}

// SetStatus updates a task's status; closing or failing stamps the closed
// timestamp.
func (s *TaskStore) SetStatus(id string, status TaskStatus) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.tasks {
		if s.tasks[i].ID != id {
			continue
		}
		s.tasks[i].Status = status
		if status == TaskClosed || status == TaskFailed {
			s.tasks[i].Closed = time.Now().UTC().Format(time.RFC3339)
		}
		if err := s.saveLocked(); err != nil {
			return Task{}, err
		}
		return s.tasks[i], nil
	}
	return Task{}, ErrTaskNotFound
}

func (s *TaskStore) saveLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	var buf strings.Builder
	for _, t := range s.tasks {
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(buf.String()), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
