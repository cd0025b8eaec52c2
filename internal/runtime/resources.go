package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const (
	sampleCPUSeconds = "/sched/cpu:seconds"
	sampleHeapBytes  = "/memory/classes/heap/objects:bytes"
	sampleGoroutines = "/sched/goroutines:goroutines"
)

// ResourceUsage is a coarse process sample included in the stats API.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// resourceTracker turns consecutive runtime/metrics reads into a CPU
// percentage. The first call reports 0%.
type resourceTracker struct {
	mu      sync.Mutex
	samples []metrics.Sample
	prevCPU float64
	prevAt  time.Time
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{samples: []metrics.Sample{
		{Name: sampleCPUSeconds},
		{Name: sampleHeapBytes},
		{Name: sampleGoroutines},
	}}
}

func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.samples)
	now := time.Now()
	var usage ResourceUsage
	for _, s := range r.samples {
		switch s.Name {
		case sampleCPUSeconds:
			if s.Value.Kind() != metrics.KindFloat64 {
				continue
			}
			cpu := s.Value.Float64()
			if wall := now.Sub(r.prevAt).Seconds(); !r.prevAt.IsZero() && wall > 0 {
				usage.CPUPercent = (cpu - r.prevCPU) / wall / float64(runtime.NumCPU()) * 100
			}
			r.prevCPU = cpu
		case sampleHeapBytes:
			if s.Value.Kind() == metrics.KindUint64 {
				usage.MemoryBytes = s.Value.Uint64()
			}
		case sampleGoroutines:
			if s.Value.Kind() == metrics.KindUint64 {
				usage.Goroutines = int(s.Value.Uint64())
			}
		}
	}
	r.prevAt = now
	return usage
}
