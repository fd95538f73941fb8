// Package resource provides point-in-time resource measurement, threshold
// monitoring, memory reclamation, and per-file admission checks for the
// batch processor. Uses gopsutil for cross-platform metrics.
package resource

import (
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// Usage is a single immutable resource sample.
type Usage struct {
	MemoryMB          float64   `json:"memory_mb"`
	MemoryPercent     float64   `json:"memory_percent"`
	CPUPercent        float64   `json:"cpu_percent"`
	AvailableMemoryMB float64   `json:"available_memory_mb"`
	DiskUsedGB        float64   `json:"disk_used_gb"`
	DiskFreeGB        float64   `json:"disk_free_gb"`
	Timestamp         time.Time `json:"timestamp"`
}

const (
	bytesPerMB = 1024 * 1024
	bytesPerGB = 1024 * 1024 * 1024
)

// Sampler measures current process memory/CPU and disk usage for one path.
// Sample never fails: on a measurement error it returns the last good sample
// (zeros before the first success) and logs the failure.
type Sampler struct {
	proc     *process.Process
	diskPath string
	logger   *zap.Logger

	mu       sync.Mutex
	lastGood Usage
}

// NewSampler creates a sampler measuring the current process and the disk
// containing diskPath.
func NewSampler(diskPath string, logger *zap.Logger) *Sampler {
	if diskPath == "" {
		diskPath = "."
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn("Cannot open own process for sampling", zap.Error(err))
		proc = nil
	}
	return &Sampler{proc: proc, diskPath: diskPath, logger: logger}
}

// Sample takes a point-in-time resource measurement.
func (s *Sampler) Sample() Usage {
	u := Usage{Timestamp: time.Now()}
	ok := true

	if s.proc != nil {
		if info, err := s.proc.MemoryInfo(); err == nil {
			u.MemoryMB = float64(info.RSS) / bytesPerMB
		} else {
			s.logger.Debug("Process memory query failed", zap.Error(err))
			ok = false
		}
		if pct, err := s.proc.MemoryPercent(); err == nil {
			u.MemoryPercent = float64(pct)
		}
		if cpu, err := s.proc.CPUPercent(); err == nil {
			u.CPUPercent = cpu
		}
	} else {
		ok = false
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		u.AvailableMemoryMB = float64(vm.Available) / bytesPerMB
	} else {
		s.logger.Debug("Virtual memory query failed", zap.Error(err))
		ok = false
	}

	if du, err := disk.Usage(s.diskPath); err == nil {
		u.DiskUsedGB = float64(du.Used) / bytesPerGB
		u.DiskFreeGB = float64(du.Free) / bytesPerGB
	} else {
		s.logger.Debug("Disk usage query failed",
			zap.String("path", s.diskPath), zap.Error(err))
		ok = false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !ok && !s.lastGood.Timestamp.IsZero() {
		return s.lastGood
	}
	if ok {
		s.lastGood = u
	}
	return u
}
