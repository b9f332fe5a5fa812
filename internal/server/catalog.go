package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/loopdeck/loopdeck/internal/hostinfo"
	"github.com/loopdeck/loopdeck/internal/presets"
	"github.com/loopdeck/loopdeck/internal/store"
)

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	items := presets.DiscoverPresets(s.cfg.PresetsDir)
	if items == nil {
		items = []presets.Preset{}
	}
	writeJSON(w, 200, map[string]any{"presets": items})
}

func (s *Server) handlePresetContent(w http.ResponseWriter, r *http.Request) {
	rel := r.PathValue("path")
	content, err := presets.ReadPreset(s.cfg.PresetsDir, rel)
	if err != nil {
		writeError(w, 404, "preset_not_found")
		return
	}
	writeJSON(w, 200, map[string]string{
		"path":         rel,
		"content":      content,
		"content_type": "text/yaml",
	})
}

func (s *Server) handleHats(w http.ResponseWriter, r *http.Request) {
	hats := presets.DiscoverHats(s.cfg.PresetsDir)
	if hats == nil {
		hats = []presets.Hat{}
	}
	writeJSON(w, 200, map[string]any{"hats": hats})
}

func (s *Server) handlePrompts(w http.ResponseWriter, r *http.Request) {
	items := presets.DiscoverPrompts(s.cfg.PromptsDir)
	if items == nil {
		items = []presets.Prompt{}
	}
	writeJSON(w, 200, map[string]any{"prompts": items})
}

func (s *Server) handlePromptContent(w http.ResponseWriter, r *http.Request) {
	rel := r.PathValue("path")
	content, err := presets.ReadPrompt(s.cfg.PromptsDir, rel)
	if err != nil {
		writeError(w, 404, "prompt_not_found")
		return
	}
	writeJSON(w, 200, map[string]string{
		"path":         rel,
		"content":      content,
		"content_type": "text/markdown",
	})
}

func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	skills := presets.DiscoverSkills(s.cfg.SkillsDir)
	if skills == nil {
		skills = []presets.Skill{}
	}
	writeJSON(w, 200, map[string]any{"skills": skills, "count": len(skills)})
}

func (s *Server) handleSkill(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	skill, ok := presets.FindSkill(s.cfg.SkillsDir, name)
	if !ok {
		writeError(w, 404, "skill_not_found")
		return
	}
	writeJSON(w, 200, skill)
}

func (s *Server) handleSkillLoad(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	content, err := presets.LoadSkillContent(s.cfg.SkillsDir, name)
	if err != nil {
		writeError(w, 404, "skill_not_found")
		return
	}
	writeJSON(w, 200, map[string]string{"name": name, "content": content})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := store.LoadTasks(s.tasksPath())
	if err != nil {
		writeError(w, 500, "failed_to_load_tasks: "+err.Error())
		return
	}
	items := tasks.All(r.URL.Query().Get("status"))
	writeJSON(w, 200, map[string]any{"tasks": items, "total": len(items)})
}

type createTaskRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Priority    *int     `json:"priority"`
	BlockedBy   []string `json:"blocked_by"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid_request_body")
		return
	}
	if req.Title == "" {
		writeError(w, 400, "title cannot be empty")
		return
	}
	priority := 3
	if req.Priority != nil {
		priority = *req.Priority
	}
	if priority < 1 || priority > 5 {
		writeError(w, 400, "priority must be between 1 and 5")
		return
	}

	tasks, err := store.LoadTasks(s.tasksPath())
	if err != nil {
		writeError(w, 500, "failed_to_load_tasks: "+err.Error())
		return
	}
	task, err := tasks.Add(req.Title, req.Description, priority, req.BlockedBy)
	if err != nil {
		writeError(w, 500, "failed_to_create_task: "+err.Error())
		return
	}
	writeJSON(w, 201, task)
}

type updateTaskRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, 400, "invalid_request_body")
		return
	}
	status, ok := store.ValidTaskStatus(req.Status)
	if !ok {
		writeError(w, 400, "invalid status: "+req.Status)
		return
	}

	tasks, err := store.LoadTasks(s.tasksPath())
	if err != nil {
		writeError(w, 500, "failed_to_load_tasks: "+err.Error())
		return
	}
	task, err := tasks.SetStatus(id, status)
	if errors.Is(err, store.ErrTaskNotFound) {
		writeError(w, 404, "task_not_found")
		return
	}
	if err != nil {
		writeError(w, 500, "failed_to_update_task: "+err.Error())
		return
	}
	writeJSON(w, 200, task)
}

func (s *Server) handleMergeQueue(w http.ResponseWriter, r *http.Request) {
	queue, err := store.ReadMergeQueue(s.mergeQueuePath())
	if err != nil {
		writeError(w, 500, "failed_to_parse_merge_queue: "+err.Error())
		return
	}
	writeJSON(w, 200, queue)
}

func (s *Server) handleHostMetrics(w http.ResponseWriter, r *http.Request) {
	current := hostinfo.Sample()
	history, err := s.store.RecentHostSnapshots(60)
	if err != nil {
		s.logger.Warn("host snapshot query failed", "err", err)
	}
	writeJSON(w, 200, map[string]any{"current": current, "history": history})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(100)
	if err != nil {
		writeError(w, 500, "failed_to_load_runs: "+err.Error())
		return
	}
	type runView struct {
		ID         string `json:"id"`
		SessionID  string `json:"session_id"`
		TaskName   string `json:"task_name,omitempty"`
		PromptFile string `json:"prompt_file,omitempty"`
		ConfigFile string `json:"config_file,omitempty"`
		WorkDir    string `json:"work_dir,omitempty"`
		PID        int    `json:"pid"`
		Status     string `json:"status"`
		Detail     string `json:"detail,omitempty"`
		StartedAt  string `json:"started_at"`
		EndedAt    string `json:"ended_at,omitempty"`
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		v := runView{
			ID:         run.ID,
			SessionID:  run.SessionID,
			TaskName:   run.TaskName,
			PromptFile: run.PromptFile,
			ConfigFile: run.ConfigFile,
			WorkDir:    run.WorkDir,
			PID:        run.PID,
			Status:     string(run.Status),
			Detail:     run.Detail,
			StartedAt:  run.StartedAt.UTC().Format(time.RFC3339),
		}
		if !run.EndedAt.IsZero() {
			v.EndedAt = run.EndedAt.UTC().Format(time.RFC3339)
		}
		views = append(views, v)
	}
	writeJSON(w, 200, map[string]any{"runs": views, "total": len(views)})
}
