package models

import (
	"time"

	"pcapbatch/internal/errs"
)

// Task describes one capture file to process. Tasks are built once during
// the scan phase and never mutated afterwards.
type Task struct {
	ID         int
	FilePath   string
	OutputDir  string
	MaxRecords int // 0 means no cap
	FileSize   int64
}

// ResourceSnapshot captures worker-side memory readings taken around the
// decode call.
type ResourceSnapshot struct {
	InitialMemoryMB    float64 `json:"initial_memory_mb"`
	PostDecodeMemoryMB float64 `json:"post_decode_memory_mb"`
	FinalMemoryMB      float64 `json:"final_memory_mb"`
	PeakMemoryMB       float64 `json:"peak_memory_mb"`
}

// TaskResult is the outcome of one Task. Exactly one is produced per task,
// by the worker, and it is never mutated after creation. A result with
// Success=false always carries a non-empty Error and an ErrorKind.
type TaskResult struct {
	Task           Task
	Success        bool
	RecordCount    int
	DecodeErrors   int
	OutputFile     string
	Error          string
	ErrorKind      errs.Kind
	ProcessingTime time.Duration
	ResourceUsage  ResourceSnapshot
}

// ProgressUpdate is a progress event emitted by a worker. Many may be sent
// per task; exactly one terminal update (Done=true) is sent per task and is
// the sole per-task liveness signal. Total is -1 when the record count is
// not known ahead of time.
type ProgressUpdate struct {
	TaskID    int
	FilePath  string
	Processed int
	Total     int
	Done      bool
	Error     string
}

// ProcessingSummary aggregates per-file outcome counts for a batch run.
// Successful + Failed + Skipped always equals Total.
type ProcessingSummary struct {
	TotalFiles          int     `json:"total_files"`
	SuccessfulFiles     int     `json:"successful_files"`
	FailedFiles         int     `json:"failed_files"`
	SkippedFiles        int     `json:"skipped_files"`
	SuccessRate         float64 `json:"success_rate"`
	TotalRecords        int     `json:"total_records_processed"`
	TotalProcessingTime float64 `json:"total_processing_time"`
}

// PerformanceMetrics holds throughput figures for a batch run.
type PerformanceMetrics struct {
	AverageRecordsPerFile float64 `json:"average_records_per_file"`
	AverageTimePerFile    float64 `json:"average_time_per_file"`
	RecordsPerSecond      float64 `json:"records_per_second"`
	ParallelEfficiency    float64 `json:"parallelization_efficiency"`
}

// MonitorSummary mirrors the resource monitor's history summary in a form
// that can be embedded in the batch report.
type MonitorSummary struct {
	PeakMemoryMB  float64 `json:"peak_memory_mb"`
	AvgMemoryMB   float64 `json:"avg_memory_mb"`
	MinDiskFreeGB float64 `json:"min_disk_free_gb"`
	SampleCount   int     `json:"sample_count"`
	Duration      float64 `json:"monitoring_duration"`
}

// ResourceMetrics holds resource usage figures for a batch run.
type ResourceMetrics struct {
	PeakMemoryMB float64        `json:"peak_memory_mb"`
	ReclaimedMB  float64        `json:"total_memory_reclaimed_mb"`
	Monitor      MonitorSummary `json:"monitor_summary"`
}

// ConfigEcho records the effective configuration a batch ran with.
type ConfigEcho struct {
	MaxWorkers        int    `json:"max_workers"`
	TaskTimeoutSecs   int    `json:"task_timeout"`
	MaxRecordsPerFile int    `json:"max_records_per_file"`
	OutputDirectory   string `json:"output_directory"`
	Strategy          string `json:"processing_strategy"`
}

// BatchSummary is the final aggregate report of a batch run. It is built
// once, after all tasks have resolved, and is read-only thereafter.
type BatchSummary struct {
	Processing    ProcessingSummary  `json:"processing_summary"`
	Performance   PerformanceMetrics `json:"performance_metrics"`
	Resources     ResourceMetrics    `json:"resource_metrics"`
	Configuration ConfigEcho         `json:"configuration"`
	ErrorSummary  errs.Summary       `json:"error_summary"`
}
