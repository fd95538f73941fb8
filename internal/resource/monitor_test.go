package resource

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestMonitor(t *testing.T, memory MemoryThresholds, disk DiskThresholds) *Monitor {
	t.Helper()
	sampler := NewSampler(t.TempDir(), zap.NewNop())
	m, err := NewMonitor(sampler, memory, disk, time.Second, zap.NewNop())
	require.NoError(t, err)
	return m
}

func TestThresholdValidation(t *testing.T) {
	assert.NoError(t, MemoryThresholds{WarningMB: 100, CriticalMB: 200}.Validate())
	assert.Error(t, MemoryThresholds{WarningMB: 200, CriticalMB: 100}.Validate(),
		"warning above critical must fail")
	assert.Error(t, MemoryThresholds{WarningMB: 100, CriticalMB: 100}.Validate(),
		"equal thresholds must fail")
	assert.Error(t, MemoryThresholds{WarningMB: 0, CriticalMB: 100}.Validate())

	assert.NoError(t, DiskThresholds{MinFreeGB: 1, WarningFreeGB: 5}.Validate())
	assert.Error(t, DiskThresholds{MinFreeGB: 5, WarningFreeGB: 1}.Validate())
	assert.Error(t, DiskThresholds{MinFreeGB: 2, WarningFreeGB: 2}.Validate())
}

func TestNewMonitorRejectsBadThresholds(t *testing.T) {
	sampler := NewSampler(t.TempDir(), zap.NewNop())
	_, err := NewMonitor(sampler,
		MemoryThresholds{WarningMB: 500, CriticalMB: 100},
		DefaultDiskThresholds(), time.Second, zap.NewNop())
	require.Error(t, err)
}

func TestCheckThresholdsDispatch(t *testing.T) {
	m := newTestMonitor(t,
		MemoryThresholds{WarningMB: 100, CriticalMB: 200},
		DiskThresholds{MinFreeGB: 1, WarningFreeGB: 5})

	var warnings, criticals int
	m.AddWarningCallback(func(string, Usage) { warnings++ })
	m.AddCriticalCallback(func(string, Usage) { criticals++ })

	// Below all thresholds: nothing fires.
	m.CheckThresholds(Usage{MemoryMB: 50, DiskFreeGB: 100})
	assert.Zero(t, warnings)
	assert.Zero(t, criticals)

	// Warning band.
	m.CheckThresholds(Usage{MemoryMB: 150, DiskFreeGB: 100})
	assert.Equal(t, 1, warnings)
	assert.Zero(t, criticals)

	// Critical memory must not also report a warning.
	m.CheckThresholds(Usage{MemoryMB: 250, DiskFreeGB: 100})
	assert.Equal(t, 1, warnings)
	assert.Equal(t, 1, criticals)

	// Disk crossings dispatch independently of memory.
	m.CheckThresholds(Usage{MemoryMB: 50, DiskFreeGB: 3})
	assert.Equal(t, 2, warnings)
	m.CheckThresholds(Usage{MemoryMB: 50, DiskFreeGB: 0.5})
	assert.Equal(t, 2, criticals)
}

func TestCallbackPanicDoesNotStopOthers(t *testing.T) {
	m := newTestMonitor(t,
		MemoryThresholds{WarningMB: 100, CriticalMB: 200},
		DefaultDiskThresholds())

	var secondRan bool
	m.AddWarningCallback(func(string, Usage) { panic("boom") })
	m.AddWarningCallback(func(string, Usage) { secondRan = true })

	m.CheckThresholds(Usage{MemoryMB: 150, DiskFreeGB: 100})
	assert.True(t, secondRan, "panicking callback must not block the rest")
}

func TestHistoryBounded(t *testing.T) {
	m := newTestMonitor(t, DefaultMemoryThresholds(), DefaultDiskThresholds())

	for i := 0; i < historyCap+20; i++ {
		m.Sample()
	}
	assert.Equal(t, historyCap, m.Summary().SampleCount)
}

func TestSummaryWithoutHistory(t *testing.T) {
	m := newTestMonitor(t, DefaultMemoryThresholds(), DefaultDiskThresholds())

	s := m.Summary()
	assert.Zero(t, s.SampleCount)
	assert.Greater(t, s.PeakMemoryMB, 0.0, "fallback live sample expected")
}

func TestStartStop(t *testing.T) {
	m := newTestMonitor(t, DefaultMemoryThresholds(), DefaultDiskThresholds())

	ctx := t.Context()
	m.Start(ctx)
	m.Start(ctx) // second Start is a no-op
	m.Stop()
	m.Stop() // second Stop is a no-op
}
