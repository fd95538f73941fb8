// Package errs collects structured per-file failures and warnings during a
// batch run and turns them into the error summary and report documents.
package errs

import (
	"sync"
	"time"
)

// Kind classifies a batch failure. All kinds are non-fatal to the batch.
type Kind string

const (
	// KindAdmission marks a file rejected before decode (insufficient
	// memory or disk headroom).
	KindAdmission Kind = "admission"
	// KindTimeout marks a task that exceeded its wall-clock budget.
	KindTimeout Kind = "timeout"
	// KindDecode marks a failure raised by the decode or format step.
	KindDecode Kind = "decode"
	// KindWorker marks a worker that stopped without reporting a result.
	KindWorker Kind = "worker"
)

// Record is one collected error or warning.
type Record struct {
	Timestamp time.Time         `json:"timestamp"`
	Kind      Kind              `json:"error_kind,omitempty"`
	Message   string            `json:"message"`
	FilePath  string            `json:"file_path"`
	Details   map[string]string `json:"details,omitempty"`
}

// Summary is the aggregate view embedded in the batch summary.
type Summary struct {
	TotalErrors     int            `json:"total_errors"`
	TotalWarnings   int            `json:"total_warnings"`
	FilesWithErrors int            `json:"files_with_errors"`
	ErrorKinds      map[string]int `json:"error_kinds"`
	FilesAffected   []string       `json:"files_affected"`
}

// Report is the standalone error report persisted as error_report.json.
type Report struct {
	GeneratedAt  time.Time           `json:"report_generated"`
	Summary      Summary             `json:"summary"`
	ErrorsByFile map[string][]Record `json:"errors_by_file"`
	Warnings     []Record            `json:"warnings"`
}

// Collector accumulates errors and warnings keyed by file. The orchestrator
// is the only writer during a run; the mutex keeps it safe for concurrent
// reads in tests.
type Collector struct {
	mu        sync.Mutex
	errors    []Record
	warnings  []Record
	byFile    map[string][]Record
	fileOrder []string
	byKind    map[Kind]int
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		byFile: make(map[string][]Record),
		byKind: make(map[Kind]int),
	}
}

// AddError records a failure for a file. Per-file insertion order is
// preserved for the report.
func (c *Collector) AddError(kind Kind, message, filePath string, details map[string]string) {
	rec := Record{
		Timestamp: time.Now(),
		Kind:      kind,
		Message:   message,
		FilePath:  filePath,
		Details:   details,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.errors = append(c.errors, rec)
	if _, seen := c.byFile[filePath]; !seen {
		c.fileOrder = append(c.fileOrder, filePath)
	}
	c.byFile[filePath] = append(c.byFile[filePath], rec)
	c.byKind[kind]++
}

// AddWarning records a non-fatal warning (e.g. a skipped file).
func (c *Collector) AddWarning(message, filePath string, details map[string]string) {
	rec := Record{
		Timestamp: time.Now(),
		Message:   message,
		FilePath:  filePath,
		Details:   details,
	}

	c.mu.Lock()
	c.warnings = append(c.warnings, rec)
	c.mu.Unlock()
}

// HasErrors reports whether any error has been collected.
func (c *Collector) HasErrors() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errors) > 0
}

// HasWarnings reports whether any warning has been collected.
func (c *Collector) HasWarnings() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.warnings) > 0
}

// Summary builds the aggregate error view.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	kinds := make(map[string]int, len(c.byKind))
	for k, n := range c.byKind {
		kinds[string(k)] = n
	}

	affected := make([]string, len(c.fileOrder))
	copy(affected, c.fileOrder)

	return Summary{
		TotalErrors:     len(c.errors),
		TotalWarnings:   len(c.warnings),
		FilesWithErrors: len(c.byFile),
		ErrorKinds:      kinds,
		FilesAffected:   affected,
	}
}

// Report builds the full error report for persistence.
func (c *Collector) Report() Report {
	summary := c.Summary()

	c.mu.Lock()
	defer c.mu.Unlock()

	byFile := make(map[string][]Record, len(c.byFile))
	for path, recs := range c.byFile {
		out := make([]Record, len(recs))
		copy(out, recs)
		byFile[path] = out
	}
	warnings := make([]Record, len(c.warnings))
	copy(warnings, c.warnings)

	return Report{
		GeneratedAt:  time.Now(),
		Summary:      summary,
		ErrorsByFile: byFile,
		Warnings:     warnings,
	}
}

// Clear drops all collected errors and warnings.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = nil
	c.warnings = nil
	c.byFile = make(map[string][]Record)
	c.fileOrder = nil
	c.byKind = make(map[Kind]int)
}
