package resource

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Bounded sample history retained for summary statistics.
const historyCap = 100

// MemoryThresholds holds process-memory alert levels in MB.
type MemoryThresholds struct {
	WarningMB  float64
	CriticalMB float64
}

// Validate enforces 0 < warning < critical.
func (t MemoryThresholds) Validate() error {
	if t.WarningMB <= 0 || t.CriticalMB <= 0 {
		return fmt.Errorf("memory thresholds must be positive (warning=%g, critical=%g)",
			t.WarningMB, t.CriticalMB)
	}
	if t.WarningMB >= t.CriticalMB {
		return fmt.Errorf("memory warning threshold %gMB must be below critical %gMB",
			t.WarningMB, t.CriticalMB)
	}
	return nil
}

// DiskThresholds holds free-disk alert levels in GB.
type DiskThresholds struct {
	MinFreeGB     float64
	WarningFreeGB float64
}

// Validate enforces 0 < min_free < warning_free.
func (t DiskThresholds) Validate() error {
	if t.MinFreeGB <= 0 || t.WarningFreeGB <= 0 {
		return fmt.Errorf("disk thresholds must be positive (min=%g, warning=%g)",
			t.MinFreeGB, t.WarningFreeGB)
	}
	if t.MinFreeGB >= t.WarningFreeGB {
		return fmt.Errorf("disk min-free threshold %gGB must be below warning %gGB",
			t.MinFreeGB, t.WarningFreeGB)
	}
	return nil
}

// DefaultMemoryThresholds matches the stock 1000/2000 MB levels.
func DefaultMemoryThresholds() MemoryThresholds {
	return MemoryThresholds{WarningMB: 1000, CriticalMB: 2000}
}

// DefaultDiskThresholds matches the stock 1/5 GB free-space levels.
func DefaultDiskThresholds() DiskThresholds {
	return DiskThresholds{MinFreeGB: 1, WarningFreeGB: 5}
}

// Callback receives a threshold-crossing message and the triggering sample.
type Callback func(message string, usage Usage)

// MonitorSummary summarises the retained sample history.
type MonitorSummary struct {
	Current       Usage
	PeakMemoryMB  float64
	AvgMemoryMB   float64
	MinDiskFreeGB float64
	SampleCount   int
	Duration      time.Duration
}

// Monitor owns a Sampler and threshold configuration, optionally running a
// periodic background sampling loop. It keeps a bounded history of samples
// for summary statistics.
type Monitor struct {
	sampler  *Sampler
	memory   MemoryThresholds
	disk     DiskThresholds
	interval time.Duration
	logger   *zap.Logger

	mu          sync.Mutex
	history     []Usage
	warningCbs  []Callback
	criticalCbs []Callback

	cancel context.CancelFunc
	done   chan struct{}
}

// NewMonitor creates a monitor. Threshold ordering is validated here; an
// invalid configuration never produces a running monitor.
func NewMonitor(sampler *Sampler, memory MemoryThresholds, disk DiskThresholds,
	interval time.Duration, logger *zap.Logger) (*Monitor, error) {

	if err := memory.Validate(); err != nil {
		return nil, err
	}
	if err := disk.Validate(); err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		sampler:  sampler,
		memory:   memory,
		disk:     disk,
		interval: interval,
		logger:   logger,
	}, nil
}

// MemoryThresholds returns the configured memory thresholds.
func (m *Monitor) MemoryThresholds() MemoryThresholds { return m.memory }

// DiskThresholds returns the configured disk thresholds.
func (m *Monitor) DiskThresholds() DiskThresholds { return m.disk }

// AddWarningCallback registers a callback invoked on warning crossings.
func (m *Monitor) AddWarningCallback(cb Callback) {
	m.mu.Lock()
	m.warningCbs = append(m.warningCbs, cb)
	m.mu.Unlock()
}

// AddCriticalCallback registers a callback invoked on critical crossings.
func (m *Monitor) AddCriticalCallback(cb Callback) {
	m.mu.Lock()
	m.criticalCbs = append(m.criticalCbs, cb)
	m.mu.Unlock()
}

// Sample measures current usage and records it in the bounded history.
func (m *Monitor) Sample() Usage {
	u := m.sampler.Sample()

	m.mu.Lock()
	m.history = append(m.history, u)
	if len(m.history) > historyCap {
		m.history = m.history[1:]
	}
	m.mu.Unlock()

	return u
}

// CheckThresholds evaluates a sample against the memory thresholds (critical
// first — a value above critical is never also reported as a warning) and
// then the disk thresholds the same way, dispatching matching callbacks.
func (m *Monitor) CheckThresholds(u Usage) {
	switch {
	case u.MemoryMB >= m.memory.CriticalMB:
		m.dispatch(m.criticalCallbacks(),
			fmt.Sprintf("memory usage %.1fMB above critical threshold %.1fMB",
				u.MemoryMB, m.memory.CriticalMB), u, true)
	case u.MemoryMB >= m.memory.WarningMB:
		m.dispatch(m.warningCallbacks(),
			fmt.Sprintf("memory usage %.1fMB above warning threshold %.1fMB",
				u.MemoryMB, m.memory.WarningMB), u, false)
	}

	switch {
	case u.DiskFreeGB <= m.disk.MinFreeGB:
		m.dispatch(m.criticalCallbacks(),
			fmt.Sprintf("disk free %.1fGB below minimum %.1fGB",
				u.DiskFreeGB, m.disk.MinFreeGB), u, true)
	case u.DiskFreeGB <= m.disk.WarningFreeGB:
		m.dispatch(m.warningCallbacks(),
			fmt.Sprintf("disk free %.1fGB below warning level %.1fGB",
				u.DiskFreeGB, m.disk.WarningFreeGB), u, false)
	}
}

func (m *Monitor) warningCallbacks() []Callback {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Callback(nil), m.warningCbs...)
}

func (m *Monitor) criticalCallbacks() []Callback {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Callback(nil), m.criticalCbs...)
}

// dispatch invokes callbacks one by one; a panicking callback never stops
// the others.
func (m *Monitor) dispatch(cbs []Callback, message string, u Usage, critical bool) {
	if critical {
		m.logger.Error("Resource critical", zap.String("reason", message))
	} else {
		m.logger.Warn("Resource warning", zap.String("reason", message))
	}
	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("Resource callback panicked", zap.Any("panic", r))
				}
			}()
			cb(message, u)
		}()
	}
}

// Start launches the background sampling loop. A single ticker drives it:
// if sampling or callback dispatch overruns the interval, the next tick is
// simply delayed — no overlap, no queueing. Calling Start twice without an
// intervening Stop is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				u := m.Sample()
				m.CheckThresholds(u)
			}
		}
	}()
	m.logger.Debug("Resource monitoring started", zap.Duration("interval", m.interval))
}

// Stop halts the background loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.cancel = nil
	m.done = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
		m.logger.Debug("Resource monitoring stopped")
	}
}

// Summary computes peak/average memory, minimum disk free, sample count and
// elapsed duration over the retained history. With no samples yet it falls
// back to a single live sample so callers never see an undefined summary.
func (m *Monitor) Summary() MonitorSummary {
	m.mu.Lock()
	history := append([]Usage(nil), m.history...)
	m.mu.Unlock()

	if len(history) == 0 {
		u := m.sampler.Sample()
		return MonitorSummary{
			Current:       u,
			PeakMemoryMB:  u.MemoryMB,
			AvgMemoryMB:   u.MemoryMB,
			MinDiskFreeGB: u.DiskFreeGB,
			SampleCount:   0,
		}
	}

	peak, sum := 0.0, 0.0
	minFree := history[0].DiskFreeGB
	for _, u := range history {
		if u.MemoryMB > peak {
			peak = u.MemoryMB
		}
		if u.DiskFreeGB < minFree {
			minFree = u.DiskFreeGB
		}
		sum += u.MemoryMB
	}

	return MonitorSummary{
		Current:       history[len(history)-1],
		PeakMemoryMB:  peak,
		AvgMemoryMB:   sum / float64(len(history)),
		MinDiskFreeGB: minFree,
		SampleCount:   len(history),
		Duration:      history[len(history)-1].Timestamp.Sub(history[0].Timestamp),
	}
}
