package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type NotificationsConfig struct {
	Enabled bool   `json:"enabled"`
	Webhook string `json:"webhook"`
	NtfyURL string `json:"ntfy"`
}

type TunnelConfig struct {
	Enabled bool   `json:"enabled"`
	Binary  string `json:"binary"` // cloudflared executable, resolved from PATH when empty
}

type AgentConfig struct {
	Binary string `json:"binary"` // loop runner executable
	Config string `json:"config"` // default runner config file passed to spawned sessions
}

type Config struct {
	SessionsRoot  string              `json:"sessionsRoot"`
	PresetsDir    string              `json:"presetsDir"`
	PromptsDir    string              `json:"promptsDir"`
	SkillsDir     string              `json:"skillsDir"`
	LogDir        string              `json:"logDir"`
	LogLevel      string              `json:"logLevel"`
	Agent         AgentConfig         `json:"agent"`
	Server        ServerConfig        `json:"server"`
	Notifications NotificationsConfig `json:"notifications"`
	Tunnel        TunnelConfig        `json:"tunnel"`
}

func Defaults() Config {
	home, _ := os.UserHomeDir()
	return Config{
		SessionsRoot: filepath.Join(home, "loops"),
		PresetsDir:   filepath.Join(home, ".loopdeck", "presets"),
		PromptsDir:   filepath.Join(home, ".loopdeck", "prompts"),
		SkillsDir:    filepath.Join(home, ".loopdeck", "skills"),
		LogDir:       filepath.Join(home, ".loopdeck", "logs"),
		LogLevel:     "info",
		Agent: AgentConfig{
			Binary: "loop",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
		Tunnel: TunnelConfig{
			Binary: "cloudflared",
		},
	}
}

func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".loopdeck", "config.json")
}

func DBPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".loopdeck", "state.db")
}

// Load reads path over Defaults. A missing file is not an error; partial
// files override only the keys they set.
func Load(path string) (Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
