// Package scanner discovers capture files with a bounded-depth directory
// walk. Discovery is sequential; there is nothing concurrent here.
package scanner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// supportedExtensions are the capture-file extensions the batch accepts.
var supportedExtensions = map[string]bool{
	".pcap":   true,
	".pcapng": true,
	".cap":    true,
}

// Stats summarises one scan.
type Stats struct {
	Found   int
	Ignored int
	Errored int
}

// Scanner walks a directory tree looking for capture files.
type Scanner struct {
	logger *zap.Logger
	stats  Stats
}

// New creates a scanner.
func New(logger *zap.Logger) *Scanner {
	return &Scanner{logger: logger}
}

// Scan walks root up to maxDepth levels deep (1 = root only) and returns the
// sorted absolute paths of all capture files found. Unreadable entries are
// counted and logged, never fatal; a missing or non-directory root is.
func (s *Scanner) Scan(root string, maxDepth int) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scanning %s: not a directory", root)
	}

	s.stats = Stats{}
	var found []string
	s.walk(root, 0, maxDepth, &found)

	sort.Strings(found)
	s.logger.Info("Scan complete",
		zap.Int("found", s.stats.Found),
		zap.Int("ignored", s.stats.Ignored),
		zap.Int("errored", s.stats.Errored))
	return found, nil
}

func (s *Scanner) walk(dir string, depth, maxDepth int, found *[]string) {
	if depth >= maxDepth {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		s.logger.Warn("Cannot read directory", zap.String("dir", dir), zap.Error(err))
		s.stats.Errored++
		return
	}

	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			s.walk(path, depth+1, maxDepth, found)
			continue
		}
		if supportedExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			abs, err := filepath.Abs(path)
			if err != nil {
				abs = path
			}
			*found = append(*found, abs)
			s.stats.Found++
		} else {
			s.stats.Ignored++
		}
	}
}

// Stats returns counters for the most recent scan.
func (s *Scanner) Stats() Stats { return s.stats }
