package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pcapbatch/internal/batch"
	"pcapbatch/internal/config"
)

func main() {
	startTime := time.Now()
	runtime.GOMAXPROCS(runtime.NumCPU())

	configPath := flag.String("config", "", "Path to YAML configuration file")
	inputDir := flag.String("input", "", "Directory to scan for capture files")
	outputDir := flag.String("output", "", "Directory for JSON output and reports")
	workers := flag.Int("workers", 0, "Number of parallel workers (default: CPU count)")
	timeout := flag.Duration("timeout", 0, "Per-file processing timeout (e.g. 300s)")
	maxRecords := flag.Int("max-records", -1, "Maximum records to decode per file (0 = unlimited)")
	maxMemMB := flag.Float64("max-mem", -1, "Memory budget in MB (0 = built-in thresholds)")
	errorReport := flag.Bool("error-report", true, "Write error_report.json when errors occur")
	verbose := flag.Bool("verbose", false, "Enable verbose output")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Flags override the file.
	if *inputDir != "" {
		cfg.InputDir = *inputDir
	}
	if *outputDir != "" {
		cfg.OutputDir = *outputDir
	}
	if *workers > 0 {
		cfg.MaxWorkers = *workers
	}
	if *timeout > 0 {
		cfg.TaskTimeout = config.Duration{Duration: *timeout}
	}
	if *maxRecords >= 0 {
		cfg.MaxRecords = *maxRecords
	}
	if *maxMemMB >= 0 {
		cfg.MemoryLimitMB = *maxMemMB
	}
	cfg.SaveErrorReport = *errorReport
	if *verbose {
		cfg.Verbose = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	proc, err := batch.NewProcessor(cfg, logger)
	if err != nil {
		logger.Fatal("Startup failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		fmt.Printf("\nReceived signal %v, shutting down gracefully...\n", sig)
		cancel()
	}()

	fmt.Printf("pcapbatch capture decoder\n")
	fmt.Printf("Scanning directory: %s\n", cfg.InputDir)
	fmt.Printf("Workers: %d\n", cfg.MaxWorkers)
	fmt.Printf("Task timeout: %s\n", cfg.TaskTimeout.Duration)

	summary, err := proc.ProcessDirectory(ctx)
	if err != nil {
		logger.Fatal("Batch failed", zap.Error(err))
	}

	elapsed := time.Since(startTime).Round(time.Millisecond)

	var filesPerSec float64
	if elapsed.Seconds() > 0 {
		filesPerSec = float64(summary.Processing.SuccessfulFiles+summary.Processing.FailedFiles) / elapsed.Seconds()
	}

	fmt.Printf("\nProcessing completed in %s\n", elapsed)
	fmt.Printf("Total files: %d (%.2f files/sec)\n", summary.Processing.TotalFiles, filesPerSec)
	fmt.Printf("Successful: %d\n", summary.Processing.SuccessfulFiles)
	fmt.Printf("Failed: %d\n", summary.Processing.FailedFiles)
	fmt.Printf("Skipped: %d\n", summary.Processing.SkippedFiles)
	fmt.Printf("Records decoded: %d (%.1f records/sec)\n",
		summary.Processing.TotalRecords, summary.Performance.RecordsPerSecond)
	fmt.Printf("Peak memory: %.1f MB\n", summary.Resources.PeakMemoryMB)
	fmt.Printf("Reports written to: %s\n", proc.OutputDir())

	if summary.Processing.FailedFiles > 0 {
		os.Exit(1)
	}
}

// initLogger builds a console zap logger at the configured level. Verbose
// forces debug.
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.LogLevel != "" {
		if err := level.Set(cfg.LogLevel); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
	}
	if cfg.Verbose {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		level,
	)
	return zap.New(core), nil
}
