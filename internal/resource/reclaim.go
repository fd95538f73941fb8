package resource

import (
	"runtime"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// Reclaimer forces memory back to the OS: it runs registered cleanup
// callbacks (e.g. decoder buffer releases), then a full garbage-collection
// pass. Go's collector has no generations, so Reclaim reports the heap
// memory released in MB rather than per-generation object counts.
type Reclaimer struct {
	sampler *Sampler
	logger  *zap.Logger

	mu       sync.Mutex
	cleanups []func()
}

// NewReclaimer creates a reclaimer using the given sampler for threshold
// decisions.
func NewReclaimer(sampler *Sampler, logger *zap.Logger) *Reclaimer {
	return &Reclaimer{sampler: sampler, logger: logger}
}

// RegisterCleanup adds a zero-argument callback run before each GC pass.
func (r *Reclaimer) RegisterCleanup(fn func()) {
	r.mu.Lock()
	r.cleanups = append(r.cleanups, fn)
	r.mu.Unlock()
}

// CleanupCount returns the number of registered callbacks.
func (r *Reclaimer) CleanupCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cleanups)
}

// Reclaim runs every cleanup callback — a panicking callback never prevents
// the remaining callbacks or the GC pass from running — then forces a full
// collection and returns the estimated heap MB released.
func (r *Reclaimer) Reclaim() float64 {
	r.mu.Lock()
	cleanups := append(([]func())(nil), r.cleanups...)
	r.mu.Unlock()

	for _, fn := range cleanups {
		func() {
			defer func() {
				if p := recover(); p != nil {
					r.logger.Error("Cleanup callback panicked", zap.Any("panic", p))
				}
			}()
			fn()
		}()
	}

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	runtime.GC()
	debug.FreeOSMemory()
	runtime.ReadMemStats(&after)

	freedMB := (float64(before.HeapAlloc) - float64(after.HeapAlloc)) / bytesPerMB
	if freedMB < 0 {
		freedMB = 0
	}
	r.logger.Debug("Memory reclaimed",
		zap.Float64("freed_mb", freedMB),
		zap.Int("cleanup_callbacks", len(cleanups)))
	return freedMB
}

// ReclaimIfOver samples current process memory and reclaims only when it
// exceeds thresholdMB. Returns whether a reclamation ran; side-effect-free
// otherwise.
func (r *Reclaimer) ReclaimIfOver(thresholdMB float64) bool {
	current := r.sampler.Sample().MemoryMB
	if current <= thresholdMB {
		return false
	}
	r.logger.Info("Memory over threshold, reclaiming",
		zap.Float64("current_mb", current),
		zap.Float64("threshold_mb", thresholdMB))
	r.Reclaim()
	return true
}
