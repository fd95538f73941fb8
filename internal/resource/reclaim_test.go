package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestReclaimer(t *testing.T) *Reclaimer {
	t.Helper()
	return NewReclaimer(NewSampler(t.TempDir(), zap.NewNop()), zap.NewNop())
}

func TestReclaimRunsCleanups(t *testing.T) {
	r := newTestReclaimer(t)

	var ran []int
	r.RegisterCleanup(func() { ran = append(ran, 1) })
	r.RegisterCleanup(func() { ran = append(ran, 2) })
	assert.Equal(t, 2, r.CleanupCount())

	freed := r.Reclaim()
	assert.Equal(t, []int{1, 2}, ran, "cleanups run in registration order")
	assert.GreaterOrEqual(t, freed, 0.0, "freed MB is never negative")
}

func TestReclaimSurvivesPanickingCleanup(t *testing.T) {
	r := newTestReclaimer(t)

	var secondRan bool
	r.RegisterCleanup(func() { panic("boom") })
	r.RegisterCleanup(func() { secondRan = true })

	r.Reclaim()
	assert.True(t, secondRan, "panicking cleanup must not block the rest")
}

func TestReclaimIfOverBelowThreshold(t *testing.T) {
	r := newTestReclaimer(t)

	var ran bool
	r.RegisterCleanup(func() { ran = true })

	// No process comes close to this usage.
	assert.False(t, r.ReclaimIfOver(1<<40))
	assert.False(t, ran, "below threshold nothing runs")
}

func TestReclaimIfOverAboveThreshold(t *testing.T) {
	r := newTestReclaimer(t)

	var ran bool
	r.RegisterCleanup(func() { ran = true })

	// Every process exceeds a zero threshold.
	assert.True(t, r.ReclaimIfOver(0))
	assert.True(t, ran)
}
