// Package hostinfo samples host utilization so clients can see whether the
// machine running the loops has headroom for another one.
package hostinfo

import (
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Metrics is one point-in-time sample.
type Metrics struct {
	CPUPercent      float64 `json:"cpu_percent"`
	MemTotal        uint64  `json:"mem_total"`
	MemUsed         uint64  `json:"mem_used"`
	MemUsedPercent  float64 `json:"mem_used_percent"`
	DiskUsedPercent float64 `json:"disk_used_percent"`
	Load1           float64 `json:"load1"`
	SampledAt       string  `json:"sampled_at"`
}

// Sample reads current host metrics. Individual probe failures zero that
// field rather than failing the whole sample.
func Sample() Metrics {
	m := Metrics{SampledAt: time.Now().UTC().Format(time.RFC3339)}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		m.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		m.MemTotal = vm.Total
		m.MemUsed = vm.Used
		m.MemUsedPercent = vm.UsedPercent
	}
	if du, err := disk.Usage("/"); err == nil {
		m.DiskUsedPercent = du.UsedPercent
	}
	if avg, err := load.Avg(); err == nil {
		m.Load1 = avg.Load1
	}
	return m
}
