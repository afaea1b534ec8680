package services

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/sirupsen/logrus"
)

// ResourceSnapshot captures process and host usage after one analysis cycle.
type ResourceSnapshot struct {
	Timestamp     time.Time     `json:"timestamp"`
	CPUUsage      float64       `json:"cpu_usage"`
	MemoryUsage   float64       `json:"memory_usage"`
	HeapAllocMB   float64       `json:"heap_alloc_mb"`
	Goroutines    int           `json:"goroutines"`
	Instruments   int           `json:"instruments"`
	Observations  int           `json:"observations"`
	CycleDuration time.Duration `json:"cycle_duration"`
}

// ResourceMonitor samples host usage with gopsutil and keeps a bounded history.
type ResourceMonitor struct {
	mu         sync.RWMutex
	history    []ResourceSnapshot
	maxHistory int
	cpuCores   int
	memoryGB   float64
	logger     *logrus.Logger

	cpuPercent func(ctx context.Context) (float64, error)
	memPercent func(ctx context.Context) (float64, error)
}

// NewResourceMonitor creates a monitor keeping up to maxHistory snapshots.
func NewResourceMonitor(maxHistory int, logger *logrus.Logger) *ResourceMonitor {
	if maxHistory <= 0 {
		maxHistory = 100
	}
	if logger == nil {
		logger = logrus.New()
	}

	rm := &ResourceMonitor{
		maxHistory: maxHistory,
		cpuCores:   runtime.NumCPU(),
		logger:     logger,
		cpuPercent: hostCPUPercent,
		memPercent: hostMemoryPercent,
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		rm.memoryGB = float64(memInfo.Total) / (1024 * 1024 * 1024)
	} else {
		logger.WithError(err).Warn("Could not get memory info")
	}
	return rm
}

func hostCPUPercent(ctx context.Context) (float64, error) {
	// Zero interval compares against the previous call instead of blocking.
	values, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return 0, fmt.Errorf("failed to get CPU usage: %w", err)
	}
	if len(values) == 0 {
		return 0, nil
	}
	return values[0], nil
}

func hostMemoryPercent(ctx context.Context) (float64, error) {
	info, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get memory usage: %w", err)
	}
	return info.UsedPercent, nil
}

// Record samples the host and stores the snapshot for a finished cycle.
// Sampling errors leave the affected field at zero.
func (rm *ResourceMonitor) Record(ctx context.Context, instruments, observations int, took time.Duration) ResourceSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap := ResourceSnapshot{
		Timestamp:     time.Now(),
		HeapAllocMB:   float64(ms.HeapAlloc) / (1024 * 1024),
		Goroutines:    runtime.NumGoroutine(),
		Instruments:   instruments,
		Observations:  observations,
		CycleDuration: took,
	}
	if v, err := rm.cpuPercent(ctx); err == nil {
		snap.CPUUsage = v
	} else {
		rm.logger.WithError(err).Debug("CPU sample failed")
	}
	if v, err := rm.memPercent(ctx); err == nil {
		snap.MemoryUsage = v
	} else {
		rm.logger.WithError(err).Debug("Memory sample failed")
	}

	rm.mu.Lock()
	rm.history = append(rm.history, snap)
	if len(rm.history) > rm.maxHistory {
		rm.history = rm.history[len(rm.history)-rm.maxHistory:]
	}
	rm.mu.Unlock()

	return snap
}

// History returns up to limit of the most recent snapshots, oldest first.
func (rm *ResourceMonitor) History(limit int) []ResourceSnapshot {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	if limit <= 0 || limit > len(rm.history) {
		limit = len(rm.history)
	}
	out := make([]ResourceSnapshot, limit)
	copy(out, rm.history[len(rm.history)-limit:])
	return out
}

// GetSystemInfo returns static host facts and the latest snapshot.
func (rm *ResourceMonitor) GetSystemInfo() map[string]interface{} {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	info := map[string]interface{}{
		"cpu_cores":  rm.cpuCores,
		"memory_gb":  rm.memoryGB,
		"goroutines": runtime.NumGoroutine(),
	}
	if n := len(rm.history); n > 0 {
		info["last_cycle"] = rm.history[n-1]
	}
	return info
}
