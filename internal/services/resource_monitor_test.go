package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(maxHistory int) *ResourceMonitor {
	rm := NewResourceMonitor(maxHistory, silentLogger())
	rm.cpuPercent = func(context.Context) (float64, error) { return 42.5, nil }
	rm.memPercent = func(context.Context) (float64, error) { return 0, errors.New("unsupported") }
	return rm
}

func TestResourceMonitor_Record(t *testing.T) {
	rm := newTestMonitor(10)

	snap := rm.Record(context.Background(), 12, 3400, 250*time.Millisecond)

	assert.Equal(t, 42.5, snap.CPUUsage)
	assert.Zero(t, snap.MemoryUsage)
	assert.Equal(t, 12, snap.Instruments)
	assert.Equal(t, 3400, snap.Observations)
	assert.Equal(t, 250*time.Millisecond, snap.CycleDuration)
	assert.Greater(t, snap.Goroutines, 0)
}

func TestResourceMonitor_HistoryBounded(t *testing.T) {
	rm := newTestMonitor(3)
	for i := 1; i <= 5; i++ {
		rm.Record(context.Background(), i, 0, 0)
	}

	history := rm.History(0)
	require.Len(t, history, 3)
	assert.Equal(t, 3, history[0].Instruments)
	assert.Equal(t, 5, history[2].Instruments)

	last := rm.History(1)
	require.Len(t, last, 1)
	assert.Equal(t, 5, last[0].Instruments)
}

func TestResourceMonitor_SystemInfo(t *testing.T) {
	rm := newTestMonitor(3)
	info := rm.GetSystemInfo()
	assert.Contains(t, info, "cpu_cores")
	assert.NotContains(t, info, "last_cycle")

	rm.Record(context.Background(), 1, 1, time.Second)
	assert.Contains(t, rm.GetSystemInfo(), "last_cycle")
}
