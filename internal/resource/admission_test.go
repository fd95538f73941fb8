package resource

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, dir string, size int) string {
	t.Helper()
	path := filepath.Join(dir, "capture.pcap")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func TestAdmissionAcceptsSmallFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, 4096)

	sampler := NewSampler(dir, zap.NewNop())
	checker := NewAdmissionChecker(sampler, 0, 0, zap.NewNop())

	res := checker.Check(path)
	assert.True(t, res.CanProcess)
	assert.True(t, res.MemorySufficient)
	assert.True(t, res.DiskSufficient)
	assert.False(t, res.IsLarge)
	assert.InDelta(t, res.FileSizeMB*2.5, res.EstimatedMemoryMB, 0.001)
}

func TestAdmissionRejectsWhenMemoryLimited(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, 64*1024)

	sampler := NewSampler(dir, zap.NewNop())
	// A limit far below the 2.5x estimate for a 64KB file.
	checker := NewAdmissionChecker(sampler, 0, 0.00001, zap.NewNop())

	res := checker.Check(path)
	assert.False(t, res.MemorySufficient)
	assert.False(t, res.CanProcess)
	assert.NotEmpty(t, res.Recommendations,
		"a rejected file always carries recommendations")
	assert.LessOrEqual(t, res.AvailableMemoryMB, 0.00001,
		"configured limit must cap available memory")
}

func TestAdmissionFlagsLargeFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, 64*1024)

	sampler := NewSampler(dir, zap.NewNop())
	// 64KB is well above a 0.01MB large-file threshold.
	checker := NewAdmissionChecker(sampler, 0.01, 0, zap.NewNop())

	res := checker.Check(path)
	assert.True(t, res.IsLarge)
	assert.True(t, res.CanProcess, "large alone does not reject")
	assert.NotEmpty(t, res.Recommendations, "large files get advisory recommendations")
}

func TestAdmissionMissingFile(t *testing.T) {
	dir := t.TempDir()
	sampler := NewSampler(dir, zap.NewNop())
	checker := NewAdmissionChecker(sampler, 0, 0, zap.NewNop())

	res := checker.Check(filepath.Join(dir, "absent.pcap"))
	assert.Zero(t, res.FileSizeMB)
	assert.True(t, res.CanProcess, "a stat failure is not a rejection")
}

func TestManagerDerivesThresholdsFromLimit(t *testing.T) {
	m, err := NewManager(t.Context(), ManagerOptions{
		MemoryLimitMB: 1000,
		DiskPath:      t.TempDir(),
	}, zap.NewNop())
	require.NoError(t, err)
	defer m.Shutdown()

	th := m.Monitor().MemoryThresholds()
	assert.InDelta(t, 700.0, th.WarningMB, 0.001)
	assert.InDelta(t, 900.0, th.CriticalMB, 0.001)
}
