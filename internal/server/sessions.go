package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/loopdeck/loopdeck/internal/db"
	"github.com/loopdeck/loopdeck/internal/discover"
	"github.com/loopdeck/loopdeck/internal/eventlog"
	"github.com/loopdeck/loopdeck/internal/proc"
)

// pointerWait bounds how long a freshly spawned runner gets to create its
// event log before the server gives up on streaming it.
const (
	pointerWaitAttempts = 600
	pointerWaitInterval = 100 * time.Millisecond
)

type sessionView struct {
	discover.Session
	Running    bool `json:"running"`
	PID        int  `json:"pid,omitempty"`
	Streamable bool `json:"streamable"`
}

func (s *Server) sessionView(sess discover.Session) sessionView {
	v := sessionView{Session: sess}
	v.Running = s.registry.IsRunning(sess.ID)
	if pid, ok := s.registry.PID(sess.ID); ok {
		v.PID = pid
	}
	_, v.Streamable = s.lookupStream(sess.ID)
	return v
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	sessions := make([]discover.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()

	views := make([]sessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, s.sessionView(sess))
	}
	writeJSON(w, 200, map[string]any{"sessions": views, "total": len(views)})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.lookupSession(id)
	if !ok {
		writeError(w, 404, "session_not_found")
		return
	}
	writeJSON(w, 200, s.sessionView(sess))
}

type startSessionRequest struct {
	WorkingDir string `json:"working_dir"`
	ConfigPath string `json:"config_path"`
	PromptPath string `json:"prompt_path"`
	TaskName   string `json:"task_name"`
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid_request_body")
		return
	}

	workDir := req.WorkingDir
	if workDir == "" {
		workDir = s.cfg.SessionsRoot
	}
	configPath := req.ConfigPath
	if configPath == "" {
		configPath = s.cfg.Agent.Config
	}
	if _, err := os.Stat(filepath.Join(workDir, configPath)); err != nil {
		writeError(w, 404, "config_not_found: "+configPath)
		return
	}
	if _, err := os.Stat(filepath.Join(workDir, req.PromptPath)); err != nil {
		writeError(w, 404, "prompt_not_found: "+req.PromptPath)
		return
	}

	id := uuid.NewString()
	output, err := s.openRunLog(id)
	if err != nil {
		s.logger.Warn("run output capture unavailable", "id", id, "err", err)
	}
	pid, err := s.registry.SpawnAndStore(id, proc.Command{
		Name:   s.cfg.Agent.Binary,
		Args:   []string{"run", "--config", configPath, "--prompt-file", req.PromptPath, "--autonomous"},
		Dir:    workDir,
		Output: output,
	})
	if err != nil {
		if f, ok := output.(*os.File); ok {
			f.Close()
		}
		writeError(w, 500, "failed_to_spawn: "+err.Error())
		return
	}

	markerDir := filepath.Join(workDir, discover.MarkerDir)
	sess := discover.Session{
		ID:        id,
		Path:      markerDir,
		TaskName:  req.TaskName,
		StartedAt: time.Now().UTC(),
	}
	s.registerSession(sess)

	if err := s.store.InsertRun(&db.Run{
		ID:         id,
		SessionID:  id,
		TaskName:   req.TaskName,
		PromptFile: req.PromptPath,
		ConfigFile: configPath,
		WorkDir:    workDir,
		PID:        pid,
		Status:     db.RunRunning,
		StartedAt:  time.Now(),
	}); err != nil {
		s.logger.Warn("run history insert failed", "id", id, "err", err)
	}

	// The runner needs a moment to create its event log. Waiting happens off
	// the request path; if the log never shows up the session stays listed
	// but is not streamable.
	go s.awaitEventLog(sess, markerDir)

	w.Header().Set("Location", "/api/sessions/"+id)
	writeJSON(w, 201, map[string]string{"id": id, "status": "starting"})
}

// openRunLog creates the file that captures a spawned runner's combined
// stdout/stderr. The registry closes it once the process is reaped.
func (s *Server) openRunLog(id string) (io.Writer, error) {
	dir := filepath.Join(s.cfg.LogDir, "runs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, id+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Server) awaitEventLog(sess discover.Session, markerDir string) {
	for i := 0; i < pointerWaitAttempts; i++ {
		if path, ok := discover.ResolveEventsPath(markerDir); ok {
			if err := s.startStream(context.Background(), sess, path); err != nil {
				s.logger.Warn("could not tail spawned session", "id", sess.ID, "err", err)
			}
			return
		}
		time.Sleep(pointerWaitInterval)
	}
	s.logger.Warn("event log never appeared for spawned session", "id", sess.ID, "marker", markerDir)
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.registry.IsRunning(id) {
		writeError(w, 404, "session_not_found")
		return
	}

	removed, err := s.registry.Terminate(id)
	if err != nil {
		writeError(w, 500, "failed_to_stop: "+err.Error())
		return
	}
	if !removed {
		writeError(w, 404, "session_not_found")
		return
	}

	s.stopStream(id)
	if err := s.store.FinishRun(id, db.RunTerminated, "stopped via api"); err != nil {
		s.logger.Warn("run history update failed", "id", id, "err", err)
	}
	writeJSON(w, 200, map[string]string{"status": "stopped"})
}

// handleSessionIterations folds the session's event log into its iteration
// timeline: one record per iteration.started, with a duration once the
// matching iteration.completed is seen.
func (s *Server) handleSessionIterations(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.lookupSession(id)
	if !ok {
		writeError(w, 404, "session_not_found")
		return
	}
	path, ok := discover.ResolveEventsPath(sess.Path)
	if !ok {
		writeError(w, 404, "session_not_found")
		return
	}
	res, err := eventlog.NewReader(path).ReadNew()
	if err != nil {
		writeError(w, 500, "failed_to_parse_events: "+err.Error())
		return
	}
	items := eventlog.FoldIterations(res.Events)
	if items == nil {
		items = []eventlog.Iteration{}
	}
	writeJSON(w, 200, map[string]any{"iterations": items, "total": len(items)})
}

type emitRequest struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// handleEmit publishes a caller-supplied event onto a running session's hub
// so live subscribers see it alongside the log's own events.
func (s *Server) handleEmit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.registry.IsRunning(id) {
		writeError(w, 404, "session_not_found")
		return
	}

	var req emitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid_request_body")
		return
	}
	if !validTopic(req.Topic) {
		writeError(w, 400, "invalid_topic: must be non-empty alphanumeric with dots and underscores")
		return
	}

	ts := time.Now().UTC().Format(time.RFC3339)
	if st, ok := s.lookupStream(id); ok {
		st.tailer.Hub().Publish(eventlog.Event{Topic: req.Topic, Payload: req.Payload, Timestamp: ts})
	}
	writeJSON(w, 200, map[string]any{"success": true, "topic": req.Topic, "timestamp": ts})
}

func validTopic(topic string) bool {
	if topic == "" {
		return false
	}
	for _, r := range topic {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' {
			return false
		}
	}
	return true
}

type steerRequest struct {
	Message string `json:"message"`
}

// handleSteer drops a steering message where the runner picks it up at the
// start of its next iteration.
func (s *Server) handleSteer(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	workDir, ok := s.registry.WorkingDir(id)
	if !ok {
		writeError(w, 404, "session_not_found")
		return
	}

	var req steerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeError(w, 400, "message_required")
		return
	}

	steeringPath := filepath.Join(workDir, discover.MarkerDir, "steering.txt")
	if err := os.MkdirAll(filepath.Dir(steeringPath), 0755); err != nil {
		writeError(w, 500, "failed_to_write_steering: "+err.Error())
		return
	}
	if err := os.WriteFile(steeringPath, []byte(req.Message), 0644); err != nil {
		writeError(w, 500, "failed_to_write_steering: "+err.Error())
		return
	}
	writeJSON(w, 200, map[string]string{
		"status":       "delivered",
		"delivered_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// Pause and resume acknowledge the request without touching the process;
// the runner has no pause protocol yet.
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.handlePauseResume(w, r, "paused")
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.handlePauseResume(w, r, "resumed")
}

func (s *Server) handlePauseResume(w http.ResponseWriter, r *http.Request, status string) {
	id := r.PathValue("id")
	if _, ok := s.lookupSession(id); !ok && !s.registry.IsRunning(id) {
		writeError(w, 404, "session_not_found")
		return
	}
	writeJSON(w, 200, map[string]string{"status": status})
}

func (s *Server) handleScratchpad(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.lookupSession(id)
	if !ok {
		writeError(w, 404, "session_not_found")
		return
	}

	// Legacy layout keeps the scratchpad at the marker root; the current
	// layout nests it under agent/.
	candidates := []string{
		filepath.Join(sess.Path, "scratchpad.md"),
		filepath.Join(sess.Path, "agent", "scratchpad.md"),
	}
	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		resp := map[string]any{"content": string(data), "exists": true}
		if info, err := os.Stat(path); err == nil {
			resp["modified_at"] = info.ModTime().UTC().Format(time.RFC3339)
		}
		writeJSON(w, 200, resp)
		return
	}
	// No scratchpad yet is normal early in a run.
	writeJSON(w, 200, map[string]any{"content": "", "exists": false})
}
