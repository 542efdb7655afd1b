package bridge

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/telepair/telebridge/internal/scheduler"
	"github.com/telepair/telebridge/pkg/version"
)

// Device bucket key prefixes for node documents.
const (
	InfoKeyPrefix   = "info."
	StatusKeyPrefix = "status."
)

// HostInfo describes the device the bridge runs on.
type HostInfo struct {
	Hostname      string    `json:"hostname"`
	OS            string    `json:"os"`
	Platform      string    `json:"platform"`
	Architecture  string    `json:"architecture"`
	KernelVersion string    `json:"kernel_version"`
	CPUCount      int       `json:"cpu_count"`
	TotalMemory   uint64    `json:"total_memory"`
	BootTime      time.Time `json:"boot_time"`
	CollectedAt   time.Time `json:"collected_at"`
}

// CollectHostInfo collects static host information.
func CollectHostInfo(ctx context.Context) (*HostInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hostInfo, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get host info: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vmStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get memory info: %w", err)
	}

	cpus, err := cpu.CountsWithContext(ctx, true)
	if err != nil || cpus <= 0 {
		cpus = runtime.NumCPU()
	}

	return &HostInfo{
		Hostname:      hostInfo.Hostname,
		OS:            hostInfo.OS,
		Platform:      hostInfo.Platform,
		Architecture:  hostInfo.KernelArch,
		KernelVersion: hostInfo.KernelVersion,
		CPUCount:      cpus,
		TotalMemory:   vmStat.Total,
		BootTime:      time.Unix(int64(hostInfo.BootTime), 0).UTC(),
		CollectedAt:   time.Now(),
	}, nil
}

// HostLoad is a point-in-time resource sample.
type HostLoad struct {
	MemoryUsedPercent float64   `json:"memory_used_percent"`
	Load1             float64   `json:"load1"`
	Load5             float64   `json:"load5"`
	Load15            float64   `json:"load15"`
	CollectedAt       time.Time `json:"collected_at"`
}

// CollectHostLoad samples memory usage and load averages. Load averages
// are left at zero on platforms without them.
func CollectHostLoad(ctx context.Context) (*HostLoad, error) {
	vmStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get memory stats: %w", err)
	}
	l := &HostLoad{
		MemoryUsedPercent: vmStat.UsedPercent,
		CollectedAt:       time.Now(),
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		l.Load1, l.Load5, l.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	return l, nil
}

// NodeInfo is published under "info.<node>" in the device bucket.
type NodeInfo struct {
	NodeID     string       `json:"node_id"`
	LocationID string       `json:"location_id,omitempty"`
	Version    version.Info `json:"version"`
	StartedAt  time.Time    `json:"started_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
	Host       *HostInfo    `json:"host,omitempty"`
}

// NodeStatus is published under "status.<node>" and served on /status.
type NodeStatus struct {
	NodeID       string                      `json:"node_id"`
	LocationID   string                      `json:"location_id,omitempty"`
	Running      bool                        `json:"running"`
	Identity     string                      `json:"transport_identity,omitempty"`
	ConfigSynced bool                        `json:"config_synced"`
	Collectors   []scheduler.CollectorStatus `json:"collectors"`
	Load         *HostLoad                   `json:"load,omitempty"`
	StartedAt    time.Time                   `json:"started_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}
