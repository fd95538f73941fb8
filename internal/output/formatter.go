// Package output persists decode results and batch reports as JSON.
package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"pcapbatch/internal/decode"
	"pcapbatch/internal/errs"
	"pcapbatch/internal/models"
)

const (
	// Results above this many records are streamed record-by-record instead
	// of marshalled in one buffer.
	defaultStreamingThreshold = 1000

	summaryFileName     = "batch_summary_report.json"
	errorReportFileName = "error_report.json"
)

// Formatter writes per-file decode documents and batch-level reports into a
// single output directory.
type Formatter struct {
	outputDir          string
	streamingThreshold int
	logger             *zap.Logger
}

// NewFormatter creates a formatter writing into outputDir.
func NewFormatter(outputDir string, logger *zap.Logger) *Formatter {
	return &Formatter{
		outputDir:          outputDir,
		streamingThreshold: defaultStreamingThreshold,
		logger:             logger,
	}
}

type fileDocument struct {
	Metadata      docMetadata      `json:"metadata"`
	FileInfo      docFileInfo      `json:"file_info"`
	ProtocolStats docProtocolStats `json:"protocol_statistics"`
	Errors        []string         `json:"errors,omitempty"`
	Packets       []*decode.Record `json:"packets"`
}

type docMetadata struct {
	Generator   string    `json:"generator"`
	GeneratedAt time.Time `json:"generated_at"`
}

type docFileInfo struct {
	Path        string  `json:"path"`
	SizeBytes   int64   `json:"size_bytes"`
	RecordCount int     `json:"record_count"`
	DecodeSecs  float64 `json:"decode_time_seconds"`
	ErrorCount  int     `json:"error_count"`
}

type docProtocolStats struct {
	LayerCounts       map[string]int `json:"layer_counts"`
	LayerDistribution map[string]int `json:"layer_distribution"`
	TopProtocols      []string       `json:"top_protocols"`
}

// FormatAndSave writes one decode result as <stem>.json in the output
// directory and returns the written path. Large results stream the packet
// array instead of building the whole document in memory.
func (f *Formatter) FormatAndSave(res *decode.Result) (string, error) {
	stem := strings.TrimSuffix(filepath.Base(res.FilePath), filepath.Ext(res.FilePath))
	outPath := filepath.Join(f.outputDir, stem+".json")

	if res.RecordCount > f.streamingThreshold {
		if err := f.saveStreaming(outPath, res); err != nil {
			return "", err
		}
	} else {
		if err := f.saveBuffered(outPath, res); err != nil {
			return "", err
		}
	}

	f.logger.Debug("Wrote decode output",
		zap.String("file", outPath),
		zap.Int("records", res.RecordCount))
	return outPath, nil
}

func (f *Formatter) buildHeader(res *decode.Result) (docMetadata, docFileInfo, docProtocolStats) {
	meta := docMetadata{
		Generator:   "pcapbatch",
		GeneratedAt: time.Now().UTC(),
	}
	info := docFileInfo{
		Path:        res.FilePath,
		SizeBytes:   res.FileSize,
		RecordCount: res.RecordCount,
		DecodeSecs:  res.DecodeTime.Seconds(),
		ErrorCount:  len(res.Errors),
	}

	layerCounts := make(map[string]int)
	// JSON object keys must be strings, so the depth histogram is keyed by
	// the decimal layer count.
	distribution := make(map[string]int)
	for _, rec := range res.Records {
		for _, name := range rec.Layers {
			layerCounts[name]++
		}
		distribution[strconv.Itoa(len(rec.Layers))]++
	}

	top := make([]string, 0, len(layerCounts))
	for name := range layerCounts {
		top = append(top, name)
	}
	sort.Slice(top, func(i, j int) bool {
		if layerCounts[top[i]] != layerCounts[top[j]] {
			return layerCounts[top[i]] > layerCounts[top[j]]
		}
		return top[i] < top[j]
	})
	if len(top) > 5 {
		top = top[:5]
	}

	return meta, info, docProtocolStats{
		LayerCounts:       layerCounts,
		LayerDistribution: distribution,
		TopProtocols:      top,
	}
}

func (f *Formatter) saveBuffered(outPath string, res *decode.Result) error {
	meta, info, stats := f.buildHeader(res)
	doc := fileDocument{
		Metadata:      meta,
		FileInfo:      info,
		ProtocolStats: stats,
		Errors:        res.Errors,
		Packets:       res.Records,
	}
	if doc.Packets == nil {
		doc.Packets = []*decode.Record{}
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", outPath, err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", outPath, err)
	}
	return nil
}

// saveStreaming writes the header sections in one shot, then the packet
// array one record at a time so peak memory stays flat for big captures.
func (f *Formatter) saveStreaming(outPath string, res *decode.Result) error {
	file, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outPath, err)
	}
	defer file.Close()

	w := bufio.NewWriterSize(file, 256*1024)
	meta, info, stats := f.buildHeader(res)

	writeSection := func(name string, v interface{}, trailingComma bool) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshalling %s section: %w", name, err)
		}
		if _, err := fmt.Fprintf(w, "%q:%s", name, data); err != nil {
			return err
		}
		if trailingComma {
			_, err = w.WriteString(",")
		}
		return err
	}

	if _, err := w.WriteString("{"); err != nil {
		return err
	}
	if err := writeSection("metadata", meta, true); err != nil {
		return err
	}
	if err := writeSection("file_info", info, true); err != nil {
		return err
	}
	if err := writeSection("protocol_statistics", stats, true); err != nil {
		return err
	}
	if len(res.Errors) > 0 {
		if err := writeSection("errors", res.Errors, true); err != nil {
			return err
		}
	}

	if _, err := w.WriteString(`"packets":[`); err != nil {
		return err
	}
	for i, rec := range res.Records {
		if i > 0 {
			if _, err := w.WriteString(","); err != nil {
				return err
			}
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshalling packet %d: %w", rec.Number, err)
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	if _, err := w.WriteString("]}"); err != nil {
		return err
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing %s: %w", outPath, err)
	}
	return nil
}

// WriteBatchSummary persists the batch summary report and returns its path.
func (f *Formatter) WriteBatchSummary(summary models.BatchSummary) (string, error) {
	return f.writeReport(summaryFileName, summary)
}

// WriteErrorReport persists the standalone error report and returns its path.
func (f *Formatter) WriteErrorReport(report errs.Report) (string, error) {
	return f.writeReport(errorReportFileName, report)
}

func (f *Formatter) writeReport(name string, v interface{}) (string, error) {
	outPath := filepath.Join(f.outputDir, name)
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshalling %s: %w", name, err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", outPath, err)
	}
	f.logger.Info("Wrote report", zap.String("file", outPath))
	return outPath, nil
}
