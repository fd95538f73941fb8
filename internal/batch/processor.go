// Package batch orchestrates a whole run: discovery, admission, worker-pool
// dispatch, progress aggregation, reclamation, and the final reports.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"pcapbatch/internal/config"
	"pcapbatch/internal/decode"
	"pcapbatch/internal/errs"
	"pcapbatch/internal/models"
	"pcapbatch/internal/output"
	"pcapbatch/internal/resource"
	"pcapbatch/internal/scanner"
	"pcapbatch/internal/worker"
)

const (
	// An opportunistic reclamation pass runs every this many completed tasks.
	reclaimEvery = 5

	// Progress updates are advisory; a small buffer absorbs bursts and the
	// workers drop updates beyond it.
	progressBuffer = 256

	// Extra wall-clock grace beyond the task timeout before the collection
	// loop declares the remaining workers dead.
	stallGrace = 30 * time.Second

	strategyParallel   = "parallel"
	strategySequential = "sequential"
)

// Processor runs capture files through the worker pool and aggregates the
// outcome. Construct with NewProcessor; zero value is not usable.
type Processor struct {
	cfg       *config.Config
	logger    *zap.Logger
	collector *errs.Collector
	scanner   *scanner.Scanner
	decoder   *decode.Decoder
	extractor *decode.Extractor
	formatter *output.Formatter
}

// NewProcessor validates the configuration and prepares the shared
// collaborators. The output directory is created here; validation and
// directory errors are the only ones a batch run propagates.
func NewProcessor(cfg *config.Config, logger *zap.Logger) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	return &Processor{
		cfg:       cfg,
		logger:    logger,
		collector: errs.NewCollector(),
		scanner:   scanner.New(logger),
		decoder:   decode.NewDecoder(logger),
		extractor: decode.NewExtractor(),
		formatter: output.NewFormatter(cfg.OutputDir, logger),
	}, nil
}

// Errors exposes the error collector, mainly for inspection after a run.
func (p *Processor) Errors() *errs.Collector { return p.collector }

// ProcessDirectory discovers, admits, and processes every capture file under
// the configured input directory, then writes the batch reports. Individual
// task failures never fail the run; they land in the summary instead.
func (p *Processor) ProcessDirectory(ctx context.Context) (models.BatchSummary, error) {
	start := time.Now()

	resources, err := resource.NewManager(ctx, resource.ManagerOptions{
		MemoryLimitMB:    p.cfg.MemoryLimitMB,
		LargeFileMB:      p.cfg.LargeFileMB,
		DiskPath:         p.cfg.OutputDir,
		MonitorInterval:  p.cfg.MonitorInterval.Duration,
		EnableMonitoring: true,
	}, p.logger)
	if err != nil {
		return models.BatchSummary{}, fmt.Errorf("starting resource manager: %w", err)
	}
	defer resources.Shutdown()

	paths, err := p.scanner.Scan(p.cfg.InputDir, p.cfg.ScanDepth)
	if err != nil {
		return models.BatchSummary{}, err
	}

	tasks := p.buildTasks(paths)
	if len(tasks) == 0 {
		p.logger.Info("No capture files found", zap.String("dir", p.cfg.InputDir))
		return p.buildSummary(nil, 0, 0, start, strategyParallel, 1, 0, resources), nil
	}

	admitted, skipped, anyLarge := p.admit(tasks, resources)

	strategy := strategyParallel
	workers := p.cfg.MaxWorkers
	if anyLarge {
		// Large inputs get the whole memory budget to themselves.
		strategy = strategySequential
		workers = 1
	}
	if workers > len(admitted) {
		workers = len(admitted)
	}
	if workers < 1 {
		workers = 1
	}

	p.logger.Info("Batch starting",
		zap.Int("total", len(tasks)),
		zap.Int("admitted", len(admitted)),
		zap.Int("skipped", len(skipped)),
		zap.Int("workers", workers),
		zap.String("strategy", strategy))

	results, reclaimedMB := p.runPool(ctx, admitted, workers, resources)

	summary := p.buildSummary(results, len(skipped), reclaimedMB, start, strategy, workers, len(tasks), resources)

	if _, err := p.formatter.WriteBatchSummary(summary); err != nil {
		p.logger.Error("Failed to write batch summary", zap.Error(err))
	}
	if p.cfg.SaveErrorReport && (p.collector.HasErrors() || p.collector.HasWarnings()) {
		if _, err := p.formatter.WriteErrorReport(p.collector.Report()); err != nil {
			p.logger.Error("Failed to write error report", zap.Error(err))
		}
	}

	return summary, nil
}

// buildTasks assigns zero-based IDs in scan order.
func (p *Processor) buildTasks(paths []string) []models.Task {
	tasks := make([]models.Task, 0, len(paths))
	for i, path := range paths {
		var size int64
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}
		tasks = append(tasks, models.Task{
			ID:         i,
			FilePath:   path,
			OutputDir:  p.cfg.OutputDir,
			MaxRecords: p.cfg.MaxRecords,
			FileSize:   size,
		})
	}
	return tasks
}

// admit runs the pre-flight check on every task. Rejected files become
// warnings and count as skipped; they never reach a worker.
func (p *Processor) admit(tasks []models.Task, resources *resource.Manager) (admitted, skipped []models.Task, anyLarge bool) {
	for _, task := range tasks {
		adm := resources.CheckFile(task.FilePath)
		if !adm.CanProcess {
			p.collector.AddWarning(
				"skipped: "+strings.Join(adm.Recommendations, "; "),
				task.FilePath,
				map[string]string{
					"file_size_mb":        fmt.Sprintf("%.1f", adm.FileSizeMB),
					"estimated_memory_mb": fmt.Sprintf("%.1f", adm.EstimatedMemoryMB),
					"available_memory_mb": fmt.Sprintf("%.1f", adm.AvailableMemoryMB),
				})
			p.logger.Warn("Skipping inadmissible file",
				zap.String("file", task.FilePath),
				zap.Strings("recommendations", adm.Recommendations))
			skipped = append(skipped, task)
			continue
		}
		if adm.IsLarge {
			anyLarge = true
		}
		admitted = append(admitted, task)
	}
	return admitted, skipped, anyLarge
}

// runPool dispatches the admitted tasks over a fixed worker pool and drains
// both channels in a single collection loop until every task has resolved,
// by result or by stall synthesis.
func (p *Processor) runPool(ctx context.Context, admitted []models.Task, workers int, resources *resource.Manager) ([]models.TaskResult, float64) {
	if len(admitted) == 0 {
		return nil, 0
	}

	taskCh := make(chan models.Task, len(admitted))
	progressCh := make(chan models.ProgressUpdate, progressBuffer)
	resultCh := make(chan models.TaskResult, len(admitted))

	for i := 0; i < workers; i++ {
		go func(id int) {
			logger := p.logger.With(zap.Int("worker", id))

			// Each worker samples and reclaims its own way; only the
			// orchestrator's manager runs background monitoring.
			wres, err := resource.NewManager(ctx, resource.ManagerOptions{
				MemoryLimitMB: p.cfg.MemoryLimitMB,
				LargeFileMB:   p.cfg.LargeFileMB,
				DiskPath:      p.cfg.OutputDir,
			}, logger)
			if err != nil {
				logger.Error("Worker resource manager failed", zap.Error(err))
				for task := range taskCh {
					resultCh <- models.TaskResult{
						Task:      task,
						Error:     fmt.Sprintf("worker setup failed: %v", err),
						ErrorKind: errs.KindWorker,
					}
				}
				return
			}

			deps := worker.Deps{
				Decoder:   p.decoder,
				Extractor: p.extractor,
				Formatter: p.formatter,
				Resources: wres,
			}
			for task := range taskCh {
				resultCh <- worker.Process(ctx, task, deps, p.cfg.TaskTimeout.Duration, progressCh, logger)
			}
		}(i)
	}

	for _, task := range admitted {
		taskCh <- task
	}
	close(taskCh)

	bar := progressbar.NewOptions(len(admitted),
		progressbar.OptionSetDescription("processing captures"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	resolved := make(map[int]bool, len(admitted))
	var results []models.TaskResult
	var reclaimedMB float64
	sinceReclaim := 0

	// The loop stalls out only when no progress update or result arrives for
	// a full task budget plus grace; a healthy slow worker resets the timer
	// with every progress tick.
	stall := p.cfg.TaskTimeout.Duration + stallGrace
	timer := time.NewTimer(stall)
	defer timer.Stop()

	ctxDone := ctx.Done()

	for len(results) < len(admitted) {
		select {
		case u := <-progressCh:
			if u.Done {
				bar.Add(1)
			}
			resetTimer(timer, stall)

		case r := <-resultCh:
			resolved[r.Task.ID] = true
			results = append(results, r)
			if !r.Success {
				p.collector.AddError(r.ErrorKind, r.Error, r.Task.FilePath, map[string]string{
					"processing_time": r.ProcessingTime.String(),
				})
			}
			sinceReclaim++
			if sinceReclaim >= reclaimEvery {
				reclaimedMB += resources.Reclaimer().Reclaim()
				sinceReclaim = 0
			}
			resetTimer(timer, stall)

		case <-timer.C:
			p.logger.Error("Worker pool stalled, abandoning remaining tasks",
				zap.Int("resolved", len(results)), zap.Int("total", len(admitted)))
			results = append(results, p.synthesizeFailures(admitted, resolved, "worker terminated unexpectedly", bar)...)

		case <-ctxDone:
			// Workers see the same context and unwind on their own; give
			// them a short drain window before synthesizing.
			p.logger.Warn("Batch cancelled, draining workers")
			ctxDone = nil
			resetTimer(timer, 5*time.Second)
		}
	}

	bar.Finish()
	// Neither channel is closed: after a stall, abandoned workers may still
	// send into the buffered channels and must not panic.
	return results, reclaimedMB
}

// synthesizeFailures produces a failed result for every task that never
// reported one, keeping the one-result-per-task accounting intact.
func (p *Processor) synthesizeFailures(admitted []models.Task, resolved map[int]bool, reason string, bar *progressbar.ProgressBar) []models.TaskResult {
	var synthesized []models.TaskResult
	for _, task := range admitted {
		if resolved[task.ID] {
			continue
		}
		resolved[task.ID] = true
		p.collector.AddError(errs.KindWorker, reason, task.FilePath, nil)
		synthesized = append(synthesized, models.TaskResult{
			Task:      task,
			Error:     reason,
			ErrorKind: errs.KindWorker,
		})
		bar.Add(1)
	}
	return synthesized
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

// buildSummary aggregates per-task results into the final batch report.
func (p *Processor) buildSummary(results []models.TaskResult, skipped int, reclaimedMB float64,
	start time.Time, strategy string, workers, totalFiles int, resources *resource.Manager) models.BatchSummary {

	elapsed := time.Since(start).Seconds()

	var successful, failed, totalRecords int
	var sumProcessing float64
	var peakWorkerMB float64
	for _, r := range results {
		if r.Success {
			successful++
		} else {
			failed++
		}
		totalRecords += r.RecordCount
		sumProcessing += r.ProcessingTime.Seconds()
		if r.ResourceUsage.PeakMemoryMB > peakWorkerMB {
			peakWorkerMB = r.ResourceUsage.PeakMemoryMB
		}
	}

	processing := models.ProcessingSummary{
		TotalFiles:          totalFiles,
		SuccessfulFiles:     successful,
		FailedFiles:         failed,
		SkippedFiles:        skipped,
		TotalRecords:        totalRecords,
		TotalProcessingTime: elapsed,
	}
	if totalFiles > 0 {
		processing.SuccessRate = float64(successful) / float64(totalFiles) * 100
	}

	perf := models.PerformanceMetrics{}
	if successful > 0 {
		perf.AverageRecordsPerFile = float64(totalRecords) / float64(successful)
		perf.AverageTimePerFile = sumProcessing / float64(successful)
	}
	if elapsed > 0 {
		perf.RecordsPerSecond = float64(totalRecords) / elapsed
		if workers > 0 {
			perf.ParallelEfficiency = sumProcessing / (elapsed * float64(workers)) * 100
			if perf.ParallelEfficiency > 100 {
				perf.ParallelEfficiency = 100
			}
		}
	}

	ms := resources.Monitor().Summary()
	peakMB := ms.PeakMemoryMB
	if peakWorkerMB > peakMB {
		peakMB = peakWorkerMB
	}

	return models.BatchSummary{
		Processing:  processing,
		Performance: perf,
		Resources: models.ResourceMetrics{
			PeakMemoryMB: peakMB,
			ReclaimedMB:  reclaimedMB,
			Monitor: models.MonitorSummary{
				PeakMemoryMB:  ms.PeakMemoryMB,
				AvgMemoryMB:   ms.AvgMemoryMB,
				MinDiskFreeGB: ms.MinDiskFreeGB,
				SampleCount:   ms.SampleCount,
				Duration:      ms.Duration.Seconds(),
			},
		},
		Configuration: models.ConfigEcho{
			MaxWorkers:        workers,
			TaskTimeoutSecs:   int(p.cfg.TaskTimeout.Duration.Seconds()),
			MaxRecordsPerFile: p.cfg.MaxRecords,
			OutputDirectory:   p.cfg.OutputDir,
			Strategy:          strategy,
		},
		ErrorSummary: p.collector.Summary(),
	}
}

// OutputDir returns where the run's outputs and reports land; the CLI uses
// it for its closing message.
func (p *Processor) OutputDir() string {
	return filepath.Clean(p.cfg.OutputDir)
}
