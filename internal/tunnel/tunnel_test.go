package tunnel_test

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loopdeck/loopdeck/internal/tunnel"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStatusNoState(t *testing.T) {
	m := tunnel.NewManager("cloudflared", t.TempDir(), discardLogger())
	if _, err := m.Status(); !errors.Is(err, tunnel.ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestStatusCleansStaleState(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, ".loop")
	os.MkdirAll(stateDir, 0755)

	// A PID that cannot exist keeps the state stale.
	stale := tunnel.State{URL: "https://x.example", Name: "x", Port: 8090, PID: 999999999,
		StartedAt: time.Now().UTC().Format(time.RFC3339)}
	data, _ := json.Marshal(stale)
	statePath := filepath.Join(stateDir, "tunnel.json")
	os.WriteFile(statePath, data, 0644)

	m := tunnel.NewManager("cloudflared", dir, discardLogger())
	if _, err := m.Status(); !errors.Is(err, tunnel.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if _, err := os.Stat(statePath); !errors.Is(err, os.ErrNotExist) {
		t.Error("stale state file should be removed")
	}
}

func TestStopWithoutState(t *testing.T) {
	m := tunnel.NewManager("cloudflared", t.TempDir(), discardLogger())
	if err := m.Stop(); !errors.Is(err, tunnel.ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestStartFailsWithoutBinary(t *testing.T) {
	m := tunnel.NewManager("definitely-not-cloudflared-xyz", t.TempDir(), discardLogger())
	if _, err := m.Start(8090, "", ""); err == nil {
		t.Error("expected error when the binary is missing")
	}
}

func TestUptimeRendering(t *testing.T) {
	st := tunnel.State{StartedAt: "2024-01-01T00:00:00Z"}
	now, _ := time.Parse(time.RFC3339, "2024-01-01T02:30:00Z")
	if got := st.Uptime(now); got != "2h 30m" {
		t.Errorf("uptime: %q", got)
	}
	now, _ = time.Parse(time.RFC3339, "2024-01-01T00:05:00Z")
	if got := st.Uptime(now); got != "5m" {
		t.Errorf("uptime: %q", got)
	}
}
