package resource

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

const (
	// Empirical multiplier: in-memory decode structures take roughly 2.5x
	// the on-disk file size. Tunable, not a derived law.
	memoryEstimateMultiplier = 2.5

	// Output plus temporaries need about 1.5x the input size on disk.
	diskHeadroomMultiplier = 1.5

	// DefaultLargeFileMB is the size above which a file counts as large.
	DefaultLargeFileMB = 1000.0
)

// AdmissionResult is the advisory pre-flight verdict for one file. The check
// does not reserve resources, so a time-of-check/time-of-use race against
// concurrently admitted files is possible.
type AdmissionResult struct {
	FileSizeMB        float64  `json:"file_size_mb"`
	EstimatedMemoryMB float64  `json:"estimated_memory_mb"`
	AvailableMemoryMB float64  `json:"available_memory_mb"`
	MemorySufficient  bool     `json:"memory_sufficient"`
	DiskSufficient    bool     `json:"disk_sufficient"`
	IsLarge           bool     `json:"is_large_file"`
	CanProcess        bool     `json:"can_process"`
	Recommendations   []string `json:"recommendations"`
}

// AdmissionChecker estimates whether a file can be processed within the
// current memory and disk headroom.
type AdmissionChecker struct {
	sampler       *Sampler
	largeFileMB   float64
	memoryLimitMB float64 // 0 means system-available only
	logger        *zap.Logger
}

// NewAdmissionChecker creates a checker. largeFileMB <= 0 selects the
// default large-file threshold; memoryLimitMB <= 0 means only the system's
// available memory bounds admission.
func NewAdmissionChecker(sampler *Sampler, largeFileMB, memoryLimitMB float64, logger *zap.Logger) *AdmissionChecker {
	if largeFileMB <= 0 {
		largeFileMB = DefaultLargeFileMB
	}
	return &AdmissionChecker{
		sampler:       sampler,
		largeFileMB:   largeFileMB,
		memoryLimitMB: memoryLimitMB,
		logger:        logger,
	}
}

// Check classifies a file as admissible, large, or rejected. When CanProcess
// is false, Recommendations is never empty.
func (c *AdmissionChecker) Check(path string) AdmissionResult {
	var sizeMB float64
	if info, err := os.Stat(path); err == nil {
		sizeMB = float64(info.Size()) / bytesPerMB
	} else {
		c.logger.Warn("Cannot stat file for admission check",
			zap.String("file", path), zap.Error(err))
	}

	usage := c.sampler.Sample()

	availableMB := usage.AvailableMemoryMB
	if c.memoryLimitMB > 0 && c.memoryLimitMB < availableMB {
		availableMB = c.memoryLimitMB
	}

	estimatedMB := sizeMB * memoryEstimateMultiplier
	requiredDiskGB := sizeMB / 1024 * diskHeadroomMultiplier

	res := AdmissionResult{
		FileSizeMB:        sizeMB,
		EstimatedMemoryMB: estimatedMB,
		AvailableMemoryMB: availableMB,
		MemorySufficient:  estimatedMB < availableMB,
		DiskSufficient:    usage.DiskFreeGB > requiredDiskGB,
		IsLarge:           sizeMB > c.largeFileMB,
	}
	res.CanProcess = res.MemorySufficient && res.DiskSufficient

	if !res.MemorySufficient {
		res.Recommendations = append(res.Recommendations,
			"free memory or wait for other tasks to finish",
			fmt.Sprintf("needs %.1fMB, %.1fMB available", estimatedMB, availableMB))
	}
	if !res.DiskSufficient {
		res.Recommendations = append(res.Recommendations,
			"insufficient disk space: clean up or choose another output directory")
	}
	if res.IsLarge {
		res.Recommendations = append(res.Recommendations,
			"large file: consider capping the record count")
	}

	return res
}
