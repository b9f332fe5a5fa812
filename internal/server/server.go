// Package server exposes the control-plane HTTP API: session discovery and
// lifecycle, live event streaming, and the read-only catalog endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/loopdeck/loopdeck/internal/config"
	"github.com/loopdeck/loopdeck/internal/db"
	"github.com/loopdeck/loopdeck/internal/discover"
	"github.com/loopdeck/loopdeck/internal/notify"
	"github.com/loopdeck/loopdeck/internal/proc"
	"github.com/loopdeck/loopdeck/internal/tailer"
)

// Server holds all shared state behind the HTTP handlers. The streams map is
// the single owner of each session's tailer; handlers only ever touch the
// shareable hub handle.
type Server struct {
	cfg      config.Config
	store    *db.DB
	registry *proc.Registry
	notifier *notify.Notifier
	logger   *slog.Logger

	mu       sync.RWMutex
	sessions map[string]discover.Session
	streams  map[string]*stream

	httpSrv *http.Server
}

// stream is one tailed session log plus the cancel that stops its pump.
type stream struct {
	tailer *tailer.Tailer
	cancel context.CancelFunc
}

func New(cfg config.Config, store *db.DB, registry *proc.Registry, notifier *notify.Notifier, logger *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		registry: registry,
		notifier: notifier,
		logger:   logger,
		sessions: make(map[string]discover.Session),
		streams:  make(map[string]*stream),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleStartSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleStopSession)
	mux.HandleFunc("GET /api/sessions/{id}/status", s.handleSessionStatus)
	mux.HandleFunc("GET /api/sessions/{id}/events", s.handleSessionSSE)
	mux.HandleFunc("GET /api/sessions/{id}/events/ws", s.handleSessionWS)
	mux.HandleFunc("POST /api/sessions/{id}/emit", s.handleEmit)
	mux.HandleFunc("GET /api/sessions/{id}/iterations", s.handleSessionIterations)
	mux.HandleFunc("POST /api/sessions/{id}/steer", s.handleSteer)
	mux.HandleFunc("POST /api/sessions/{id}/pause", s.handlePause)
	mux.HandleFunc("POST /api/sessions/{id}/resume", s.handleResume)
	mux.HandleFunc("GET /api/sessions/{id}/scratchpad", s.handleScratchpad)

	mux.HandleFunc("GET /api/presets", s.handlePresets)
	mux.HandleFunc("GET /api/presets/{path...}", s.handlePresetContent)
	mux.HandleFunc("GET /api/hats", s.handleHats)
	mux.HandleFunc("GET /api/prompts", s.handlePrompts)
	mux.HandleFunc("GET /api/prompts/{path...}", s.handlePromptContent)
	mux.HandleFunc("GET /api/skills", s.handleSkills)
	mux.HandleFunc("GET /api/skills/{name}", s.handleSkill)
	mux.HandleFunc("POST /api/skills/{name}/load", s.handleSkillLoad)

	mux.HandleFunc("GET /api/tasks", s.handleListTasks)
	mux.HandleFunc("POST /api/tasks", s.handleCreateTask)
	mux.HandleFunc("PUT /api/tasks/{id}", s.handleUpdateTask)
	mux.HandleFunc("GET /api/merge-queue", s.handleMergeQueue)

	mux.HandleFunc("GET /api/host/metrics", s.handleHostMetrics)
	mux.HandleFunc("GET /api/runs", s.handleRuns)

	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpSrv = &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server stopped", "err", err)
		}
	}()
	s.logger.Info("listening", "addr", addr)
	return nil
}

// Shutdown stops the listener and tears down every stream.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for id, st := range s.streams {
		st.cancel()
		delete(s.streams, id)
	}
	s.mu.Unlock()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// DiscoverAndTail scans the sessions root and starts a tailer for every
// streamable session found. Sessions whose log cannot be resolved are still
// listed, just not streamable.
func (s *Server) DiscoverAndTail(ctx context.Context) {
	for _, sess := range discover.Sessions(s.cfg.SessionsRoot, s.logger) {
		s.registerSession(sess)
		path, ok := discover.ResolveEventsPath(sess.Path)
		if !ok {
			s.logger.Debug("session has no resolvable event log", "id", sess.ID, "path", sess.Path)
			continue
		}
		if err := s.startStream(ctx, sess, path); err != nil {
			s.logger.Warn("could not tail session", "id", sess.ID, "err", err)
		}
	}
}

func (s *Server) registerSession(sess discover.Session) {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
}

// startStream creates the session's single tailer and its pump goroutine,
// and attaches the notifier. A session that already has a stream keeps it.
func (s *Server) startStream(ctx context.Context, sess discover.Session, logPath string) error {
	s.mu.Lock()
	if _, exists := s.streams[sess.ID]; exists {
		s.mu.Unlock()
		return nil
	}
	t, err := tailer.New(logPath)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	streamCtx, cancel := context.WithCancel(ctx)
	s.streams[sess.ID] = &stream{tailer: t, cancel: cancel}
	s.mu.Unlock()

	go t.Run(streamCtx, s.logger)
	go s.notifier.Watch(streamCtx, sess.ID, sess.TaskName, t.Hub().Subscribe())

	s.logger.Info("tailing session log", "id", sess.ID, "log", logPath)
	return nil
}

func (s *Server) stopStream(id string) {
	s.mu.Lock()
	st, ok := s.streams[id]
	if ok {
		delete(s.streams, id)
	}
	s.mu.Unlock()
	if ok {
		st.cancel()
	}
}

func (s *Server) lookupStream(id string) (*stream, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.streams[id]
	return st, ok
}

func (s *Server) lookupSession(id string) (discover.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Server) tasksPath() string {
	return filepath.Join(s.cfg.SessionsRoot, discover.MarkerDir, "agent", "tasks.jsonl")
}

func (s *Server) mergeQueuePath() string {
	return filepath.Join(s.cfg.SessionsRoot, discover.MarkerDir, "merge-queue.jsonl")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, map[string]string{"status": "ok"})
}
