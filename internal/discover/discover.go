// Package discover finds existing agent-loop sessions on disk and resolves
// the concrete event log file each one should be tailed from.
package discover

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// LegacyMarkerDir is the old session layout: a .agent directory holding
	// a single events.jsonl.
	LegacyMarkerDir = ".agent"
	// MarkerDir is the current layout: a .loop directory holding
	// timestamped events-*.jsonl files and a current-events pointer.
	MarkerDir = ".loop"

	// EventsFile is the fixed log filename in the legacy layout.
	EventsFile = "events.jsonl"
	// PointerFile names the indirection file whose contents point at the
	// active log, relative to the marker's parent directory.
	PointerFile = "current-events"

	eventsPrefix = "events-"
	eventsSuffix = ".jsonl"
)

// Session is one discovered or started agent-loop instance.
type Session struct {
	ID          string     `json:"id"`
	Path        string     `json:"path"`
	TaskName    string     `json:"task_name,omitempty"`
	Iteration   int        `json:"iteration"`
	Hat         string     `json:"hat,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	LastEventAt *time.Time `json:"last_event_at,omitempty"`
}

// SessionID derives a stable identifier from a marker directory path, so
// re-discovery after a restart yields the same id for the same directory.
func SessionID(path string) string {
	h := fnv.New64a()
	h.Write([]byte(path))
	return fmt.Sprintf("%016x", h.Sum64())
}

// Sessions scans root and its immediate children for session markers.
func Sessions(root string, logger *slog.Logger) []Session {
	var sessions []Session

	appendFrom := func(dir string) {
		if s, ok := checkLegacyMarker(filepath.Join(dir, LegacyMarkerDir)); ok {
			sessions = append(sessions, s)
		}
		if s, ok := checkMarker(filepath.Join(dir, MarkerDir)); ok {
			sessions = append(sessions, s)
		}
	}

	appendFrom(root)
	entries, err := os.ReadDir(root)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				appendFrom(filepath.Join(root, entry.Name()))
			}
		}
	}

	logger.Debug("discovered sessions", "root", root, "count", len(sessions))
	return sessions
}

func checkLegacyMarker(dir string) (Session, bool) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Session{}, false
	}
	if _, err := os.Stat(filepath.Join(dir, EventsFile)); err != nil {
		return Session{}, false
	}
	task, hat := readScratchpad(filepath.Join(dir, "scratchpad.md"))
	return newSession(dir, task, hat), true
}

func checkMarker(dir string) (Session, bool) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return Session{}, false
	}
	if len(timestampedLogs(dir)) == 0 {
		return Session{}, false
	}
	task, hat := readScratchpad(filepath.Join(dir, "agent", "scratchpad.md"))
	return newSession(dir, task, hat), true
}

func newSession(markerDir, task, hat string) Session {
	return Session{
		ID:        SessionID(markerDir),
		Path:      markerDir,
		TaskName:  task,
		Hat:       hat,
		StartedAt: time.Now().UTC(),
	}
}

// scratchpadMeta is the frontmatter block at the top of a scratchpad file.
type scratchpadMeta struct {
	TaskName   string `yaml:"task_name"`
	CurrentHat string `yaml:"current_hat"`
}

// readScratchpad parses the "---" delimited frontmatter header. Missing or
// malformed metadata yields empty fields, never an error.
func readScratchpad(path string) (task, hat string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", ""
	}
	lines := strings.Split(string(data), "\n")
	if len(lines) == 0 || strings.TrimRight(lines[0], "\r") != "---" {
		return "", ""
	}
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], "\r") == "---" {
			end = i
			break
		}
	}
	if end < 0 {
		return "", ""
	}
	var meta scratchpadMeta
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:end], "\n")), &meta); err != nil {
		return "", ""
	}
	return meta.TaskName, meta.CurrentHat
}

// ResolveEventsPath picks the concrete log file for a session marker
// directory. Precedence: the current-events pointer (resolved relative to
// the marker's parent), then the fixed events.jsonl, then the
// lexicographically greatest timestamped log (the filenames encode a
// sortable timestamp). When nothing resolves the session is simply not
// streamable.
func ResolveEventsPath(markerDir string) (string, bool) {
	pointer := filepath.Join(markerDir, PointerFile)
	if data, err := os.ReadFile(pointer); err == nil {
		rel := strings.TrimSpace(string(data))
		if rel != "" {
			full := filepath.Join(filepath.Dir(markerDir), rel)
			if _, err := os.Stat(full); err == nil {
				return full, true
			}
		}
	}

	static := filepath.Join(markerDir, EventsFile)
	if _, err := os.Stat(static); err == nil {
		return static, true
	}

	logs := timestampedLogs(markerDir)
	if len(logs) > 0 {
		sort.Strings(logs)
		return filepath.Join(markerDir, logs[len(logs)-1]), true
	}

	return "", false
}

func timestampedLogs(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, eventsPrefix) && strings.HasSuffix(name, eventsSuffix) {
			names = append(names, name)
		}
	}
	return names
}
