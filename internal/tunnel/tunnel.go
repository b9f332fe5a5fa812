// Package tunnel exposes the local API through a named Cloudflare tunnel by
// shelling out to cloudflared. State lives in a JSON file so start, status
// and stop work across separate invocations.
package tunnel

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// DefaultName is the tunnel created when none is specified.
const DefaultName = "loopdeck"

// State records the running tunnel between invocations.
type State struct {
	URL       string `json:"url"`
	Name      string `json:"name"`
	Port      int    `json:"port"`
	PID       int    `json:"pid"`
	StartedAt string `json:"started_at"`
}

// ErrNotRunning is returned by Stop and Status when no live tunnel exists.
var ErrNotRunning = errors.New("tunnel: not running")

// Manager drives one cloudflared tunnel for the directory it was created in.
type Manager struct {
	binary   string
	stateDir string // directory containing the marker dir
	logger   *slog.Logger
}

func NewManager(binary, stateDir string, logger *slog.Logger) *Manager {
	if binary == "" {
		binary = "cloudflared"
	}
	return &Manager{binary: binary, stateDir: stateDir, logger: logger}
}

func (m *Manager) statePath() string {
	return filepath.Join(m.stateDir, ".loop", "tunnel.json")
}

func (m *Manager) readState() (*State, bool) {
	data, err := os.ReadFile(m.statePath())
	if err != nil {
		return nil, false
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, false
	}
	return &st, true
}

func (m *Manager) writeState(st *State) error {
	path := m.statePath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (m *Manager) removeState() {
	os.Remove(m.statePath())
}

func pidAlive(pid int) bool {
	alive, err := process.PidExists(int32(pid))
	return err == nil && alive
}

// Start ensures the named tunnel exists, optionally routes a custom domain,
// launches cloudflared against the local port and records the state. An
// already-running tunnel is returned as-is.
func (m *Manager) Start(port int, domain, name string) (*State, error) {
	if name == "" {
		name = DefaultName
	}

	if st, ok := m.readState(); ok {
		if pidAlive(st.PID) {
			m.logger.Info("tunnel already running", "url", st.URL, "pid", st.PID)
			return st, nil
		}
		m.logger.Warn("removing stale tunnel state", "pid", st.PID)
		m.removeState()
	}

	binPath, err := exec.LookPath(m.binary)
	if err != nil {
		return nil, fmt.Errorf("cloudflared not found: install it and run 'cloudflared tunnel login' first: %w", err)
	}

	// Create the named tunnel; reuse is fine.
	out, err := exec.Command(binPath, "tunnel", "create", name).CombinedOutput()
	if err != nil && !strings.Contains(string(out), "already exists") {
		return nil, fmt.Errorf("create tunnel %q: %s", name, strings.TrimSpace(string(out)))
	}

	if domain != "" {
		out, err := exec.Command(binPath, "tunnel", "route", "dns", name, domain).CombinedOutput()
		if err != nil && !strings.Contains(string(out), "already exists") {
			m.logger.Warn("dns route", "domain", domain, "output", strings.TrimSpace(string(out)))
		}
	}

	url := fmt.Sprintf("https://%s.cfargotunnel.com", name)
	if domain != "" {
		url = "https://" + domain
	}

	cmd := exec.Command(binPath,
		"tunnel", "--url", fmt.Sprintf("http://127.0.0.1:%d", port), "run", name)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start cloudflared: %w", err)
	}
	// The tunnel outlives this process; the state file is the handle.
	go cmd.Wait()

	st := &State{
		URL:       url,
		Name:      name,
		Port:      port,
		PID:       cmd.Process.Pid,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := m.writeState(st); err != nil {
		return nil, fmt.Errorf("write tunnel state: %w", err)
	}
	m.logger.Info("tunnel running", "url", st.URL, "pid", st.PID)
	return st, nil
}

// Status returns the live tunnel state. Stale state files are cleaned up.
func (m *Manager) Status() (*State, error) {
	st, ok := m.readState()
	if !ok {
		return nil, ErrNotRunning
	}
	if !pidAlive(st.PID) {
		m.removeState()
		return nil, ErrNotRunning
	}
	return st, nil
}

// Stop terminates the tunnel process and removes the state file.
func (m *Manager) Stop() error {
	st, ok := m.readState()
	if !ok {
		return ErrNotRunning
	}
	defer m.removeState()

	if !pidAlive(st.PID) {
		return nil
	}
	proc, err := os.FindProcess(st.PID)
	if err != nil {
		return nil
	}
	if err := terminateProcess(proc); err != nil {
		// Fall back to a hard kill; a lingering cloudflared is worse than
		// an abrupt one.
		proc.Kill()
	}
	m.logger.Info("tunnel stopped", "name", st.Name, "pid", st.PID)
	return nil
}

// Uptime renders how long the tunnel has been up, for status output.
func (s *State) Uptime(now time.Time) string {
	started, err := time.Parse(time.RFC3339, s.StartedAt)
	if err != nil {
		return ""
	}
	d := now.Sub(started)
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
