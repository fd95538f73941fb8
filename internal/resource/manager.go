package resource

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Fractions of a configured memory limit used to derive thresholds.
const (
	warningFraction  = 0.7
	criticalFraction = 0.9
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Memory MemoryThresholds // zero value selects defaults
	Disk   DiskThresholds   // zero value selects defaults

	// MemoryLimitMB, when > 0, derives warning/critical thresholds (70%/90%)
	// and caps admission's available memory.
	MemoryLimitMB float64

	LargeFileMB      float64
	DiskPath         string
	MonitorInterval  time.Duration
	EnableMonitoring bool
}

// Manager composes the sampler, monitor, reclaimer and admission checker.
// It is the only resource-management object workers and the orchestrator
// touch. Each worker builds its own Manager; no resource state is shared.
type Manager struct {
	sampler   *Sampler
	monitor   *Monitor
	reclaimer *Reclaimer
	admission *AdmissionChecker
	logger    *zap.Logger

	monitoring bool
}

// NewManager builds a manager from options and, if enabled, starts the
// background sampling loop. The warning callback attempts a conditional
// reclaim; the critical callback forces one.
func NewManager(ctx context.Context, opts ManagerOptions, logger *zap.Logger) (*Manager, error) {
	memory := opts.Memory
	if memory == (MemoryThresholds{}) {
		memory = DefaultMemoryThresholds()
	}
	if opts.MemoryLimitMB > 0 {
		memory = MemoryThresholds{
			WarningMB:  opts.MemoryLimitMB * warningFraction,
			CriticalMB: opts.MemoryLimitMB * criticalFraction,
		}
	}
	diskTh := opts.Disk
	if diskTh == (DiskThresholds{}) {
		diskTh = DefaultDiskThresholds()
	}

	sampler := NewSampler(opts.DiskPath, logger)
	monitor, err := NewMonitor(sampler, memory, diskTh, opts.MonitorInterval, logger)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		sampler:   sampler,
		monitor:   monitor,
		reclaimer: NewReclaimer(sampler, logger),
		admission: NewAdmissionChecker(sampler, opts.LargeFileMB, opts.MemoryLimitMB, logger),
		logger:    logger,
	}

	monitor.AddWarningCallback(func(_ string, u Usage) {
		m.reclaimer.ReclaimIfOver(u.MemoryMB * 0.8)
	})
	monitor.AddCriticalCallback(func(_ string, _ Usage) {
		m.reclaimer.Reclaim()
	})

	if opts.EnableMonitoring {
		monitor.Start(ctx)
		m.monitoring = true
	}
	return m, nil
}

// Sampler exposes the shared sampler.
func (m *Manager) Sampler() *Sampler { return m.sampler }

// Monitor exposes the threshold monitor.
func (m *Manager) Monitor() *Monitor { return m.monitor }

// Reclaimer exposes the memory reclaimer.
func (m *Manager) Reclaimer() *Reclaimer { return m.reclaimer }

// Sample takes a measurement through the monitor so it lands in history.
func (m *Manager) Sample() Usage { return m.monitor.Sample() }

// CheckFile runs the admission pre-flight for one file.
func (m *Manager) CheckFile(path string) AdmissionResult {
	return m.admission.Check(path)
}

// ReclaimIfOverWarning reclaims memory when usage exceeds the warning
// threshold; used as the opportunistic per-task reclamation point.
func (m *Manager) ReclaimIfOverWarning() bool {
	return m.reclaimer.ReclaimIfOver(m.monitor.MemoryThresholds().WarningMB)
}

// Shutdown stops monitoring (if running) and performs a final reclaim.
func (m *Manager) Shutdown() {
	if m.monitoring {
		m.monitor.Stop()
		m.monitoring = false
	}
	m.reclaimer.Reclaim()
}
