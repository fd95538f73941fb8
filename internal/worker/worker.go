// Package worker runs one capture-file task end to end: admission check,
// decode, field extraction, output, and resource accounting.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"pcapbatch/internal/decode"
	"pcapbatch/internal/errs"
	"pcapbatch/internal/models"
	"pcapbatch/internal/resource"
)

// Decoder parses a capture file into records.
type Decoder interface {
	Decode(ctx context.Context, path string, maxRecords int, onProgress decode.ProgressFunc) (*decode.Result, error)
}

// Extractor fills per-layer fields into a decoded record.
type Extractor interface {
	ExtractFields(rec *decode.Record)
}

// Formatter persists one decode result and returns the written path.
type Formatter interface {
	FormatAndSave(res *decode.Result) (string, error)
}

// Deps are the collaborators a worker needs. Resources is per-worker; the
// decode/extract/format collaborators are stateless and shared.
type Deps struct {
	Decoder   Decoder
	Extractor Extractor
	Formatter Formatter
	Resources *resource.Manager
}

// Process runs one task under a wall-clock budget. It always returns exactly
// one TaskResult and sends exactly one terminal (Done=true) progress update,
// whatever path the task takes. Progress sends never block: when the channel
// is full the update is dropped, since a newer one follows shortly.
func Process(ctx context.Context, task models.Task, deps Deps, timeout time.Duration, progress chan<- models.ProgressUpdate, logger *zap.Logger) models.TaskResult {
	start := time.Now()

	send := func(u models.ProgressUpdate) {
		select {
		case progress <- u:
		default:
			logger.Debug("Progress channel full, dropping update",
				zap.Int("task", u.TaskID), zap.Int("processed", u.Processed))
		}
	}

	finish := func(res models.TaskResult) models.TaskResult {
		res.ProcessingTime = time.Since(start)
		send(models.ProgressUpdate{
			TaskID:    task.ID,
			FilePath:  task.FilePath,
			Processed: res.RecordCount,
			Total:     res.RecordCount,
			Done:      true,
			Error:     res.Error,
		})
		return res
	}

	// Live re-check: conditions may have changed since the batch-level
	// pre-analysis admitted this file.
	adm := deps.Resources.CheckFile(task.FilePath)
	if !adm.CanProcess {
		logger.Warn("Task inadmissible",
			zap.String("file", task.FilePath),
			zap.Strings("recommendations", adm.Recommendations))
		return finish(models.TaskResult{
			Task:      task,
			Error:     "inadmissible: " + strings.Join(adm.Recommendations, "; "),
			ErrorKind: errs.KindAdmission,
		})
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan models.TaskResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("Worker panicked",
					zap.String("file", task.FilePath), zap.Any("panic", p))
				done <- models.TaskResult{
					Task:      task,
					Error:     fmt.Sprintf("worker panic: %v", p),
					ErrorKind: errs.KindWorker,
				}
			}
		}()
		done <- run(tctx, task, deps, send, logger)
	}()

	select {
	case res := <-done:
		return finish(res)
	case <-tctx.Done():
		// The work goroutine is abandoned; decode checks its context per
		// packet so it unwinds shortly after.
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			logger.Warn("Task timed out",
				zap.String("file", task.FilePath), zap.Duration("timeout", timeout))
			return finish(models.TaskResult{
				Task:      task,
				Error:     fmt.Sprintf("task exceeded %s budget", timeout),
				ErrorKind: errs.KindTimeout,
			})
		}
		return finish(models.TaskResult{
			Task:      task,
			Error:     "task cancelled",
			ErrorKind: errs.KindWorker,
		})
	}
}

// run is the body of the work goroutine: decode, extract, format, reclaim.
func run(ctx context.Context, task models.Task, deps Deps, send func(models.ProgressUpdate), logger *zap.Logger) models.TaskResult {
	var snap models.ResourceSnapshot
	snap.InitialMemoryMB = deps.Resources.Sample().MemoryMB
	snap.PeakMemoryMB = snap.InitialMemoryMB

	result := models.TaskResult{Task: task}

	res, err := deps.Decoder.Decode(ctx, task.FilePath, task.MaxRecords, func(processed, total int) {
		send(models.ProgressUpdate{
			TaskID:    task.ID,
			FilePath:  task.FilePath,
			Processed: processed,
			Total:     total,
		})
	})

	snap.PostDecodeMemoryMB = deps.Resources.Sample().MemoryMB
	if snap.PostDecodeMemoryMB > snap.PeakMemoryMB {
		snap.PeakMemoryMB = snap.PostDecodeMemoryMB
	}
	result.ResourceUsage = snap

	if err != nil {
		kind := errs.KindDecode
		if errors.Is(err, context.DeadlineExceeded) {
			kind = errs.KindTimeout
		}
		result.Error = err.Error()
		result.ErrorKind = kind
		return result
	}

	for _, rec := range res.Records {
		deps.Extractor.ExtractFields(rec)
	}

	outFile, err := deps.Formatter.FormatAndSave(res)
	if err != nil {
		result.Error = err.Error()
		result.ErrorKind = errs.KindDecode
		result.RecordCount = res.RecordCount
		result.DecodeErrors = len(res.Errors)
		return result
	}

	// Drop the record buffers before measuring final memory; big captures
	// otherwise pin the post-decode peak until the next task.
	res.Records = nil
	deps.Resources.ReclaimIfOverWarning()

	snap.FinalMemoryMB = deps.Resources.Sample().MemoryMB
	if snap.FinalMemoryMB > snap.PeakMemoryMB {
		snap.PeakMemoryMB = snap.FinalMemoryMB
	}

	result.Success = true
	result.RecordCount = res.RecordCount
	result.DecodeErrors = len(res.Errors)
	result.OutputFile = outFile
	result.ResourceUsage = snap

	logger.Info("Task complete",
		zap.String("file", task.FilePath),
		zap.Int("records", res.RecordCount),
		zap.String("output", outFile))
	return result
}
