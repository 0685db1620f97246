package common

import (
	"fmt"
	"runtime"
	"time"
)

// MemoryStats is the subset of runtime.MemStats reported by health checks
// and run summaries.
type MemoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	HeapInuse  uint64 `json:"heap_inuse"`
	NumGC      uint32 `json:"num_gc"`
	Goroutines int    `json:"goroutines"`
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		HeapInuse:  m.HeapInuse,
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}

func (m MemoryStats) String() string {
	return fmt.Sprintf("Alloc: %d KB, Total: %d KB, Sys: %d KB, GC: %d, goroutines: %d",
		m.Alloc/1024, m.TotalAlloc/1024, m.Sys/1024, m.NumGC, m.Goroutines)
}

// RunSummary describes a finished video run.
type RunSummary struct {
	Source     string        `json:"source"`
	Frames     int           `json:"frames"`
	Detections int           `json:"detections"`
	Duration   time.Duration `json:"duration"`
	Memory     MemoryStats   `json:"memory"`
	Err        error         `json:"-"`
}

// FPS is the average throughput over the whole run.
func (r RunSummary) FPS() float64 {
	if r.Frames == 0 {
		return 0
	}
	return Rate(r.Duration / time.Duration(r.Frames))
}

func (r RunSummary) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: ERROR after %d frames - %v", r.Source, r.Frames, r.Err)
	}
	return fmt.Sprintf("%s: %d frames, %d detections, total: %v, %.1f fps",
		r.Source, r.Frames, r.Detections, r.Duration.Round(time.Millisecond), r.FPS())
}
