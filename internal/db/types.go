package db

import "time"

type RunStatus string

const (
	RunRunning    RunStatus = "running"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunTerminated RunStatus = "terminated"
)

// Run is one spawned loop invocation. Rows outlive the process registry so
// history survives server restarts.
type Run struct {
	ID         string
	SessionID  string
	TaskName   string
	PromptFile string
	ConfigFile string
	WorkDir    string
	PID        int
	Status     RunStatus
	Detail     string
	StartedAt  time.Time
	EndedAt    time.Time // zero while the run is still live
}

// HostSnapshot is a periodic sample of host utilization.
type HostSnapshot struct {
	ID              int64
	TsMs            int64
	CPUPercent      float64
	MemTotal        uint64
	MemUsed         uint64
	MemUsedPercent  float64
	DiskUsedPercent float64
	Load1           float64
}
