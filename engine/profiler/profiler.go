package profiler

import (
	"log"
	"runtime"
	"sync"
	"time"
)

// Profiler tracks frame rate, sort throughput and memory statistics for performance monitoring.
// Outputs stats to the log at a configurable interval.
type Profiler struct {
	mu *sync.Mutex

	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	sortCount    int
	sortElements uint64
	sortTime     time.Duration
}

// Snapshot is the set of statistics reported for one interval.
type Snapshot struct {
	FPS             float64
	SortsPerSecond  float64
	ElementsPerSec  float64
	AverageSortTime time.Duration
	HeapMB          float64
	AllocRateMB     float64
	GCCount         uint32
	LastPauseUs     uint64
	MaxPauseUs      uint64
	SysMB           float64
}

// NewProfiler creates a new Profiler with default settings.
// Update interval defaults to 1 second.
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler() *Profiler {
	return NewProfilerWithInterval(time.Second)
}

// NewProfilerWithInterval creates a new Profiler that reports every interval.
//
// Parameters:
//   - interval: the reporting interval, values <= 0 fall back to 1 second
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfilerWithInterval(interval time.Duration) *Profiler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Profiler{
		mu:             &sync.Mutex{},
		lastTime:       time.Now(),
		updateInterval: interval,
		memStats:       runtime.MemStats{},
	}
}

// RecordSort adds one completed sort to the current interval.
// Safe to call from any goroutine.
//
// Parameters:
//   - elements: the number of entries sorted
//   - d: the wall time of the sort, from upload to submission
func (p *Profiler) RecordSort(elements int, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sortCount++
	p.sortElements += uint64(elements)
	p.sortTime += d
}

// Tick should be called once per frame to track frame timing.
// Logs performance statistics when the update interval has elapsed.
// Statistics include: FPS, sorts per second, sorted elements per second, average sort time,
// heap usage, allocation rate, GC count/pause times, total memory.
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick() bool {
	snap, ok := p.tick(time.Now())
	if !ok {
		return false
	}
	log.Printf("[Profiler] FPS: %.2f | Sorts: %.2f/s | Elements: %.0f/s | Avg Sort: %s | Heap: %.2f MB | Alloc Rate: %.2f MB/s | GC: %d (last: %d µs, max: %d µs) | Sys: %.2f MB",
		snap.FPS, snap.SortsPerSecond, snap.ElementsPerSec, snap.AverageSortTime, snap.HeapMB, snap.AllocRateMB,
		snap.GCCount, snap.LastPauseUs, snap.MaxPauseUs, snap.SysMB)
	return true
}

// tick counts a frame and, once the interval has elapsed at now, returns the interval's
// statistics and starts a new interval.
func (p *Profiler) tick(now time.Time) (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.frameCount++
	elapsed := now.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return Snapshot{}, false
	}

	seconds := elapsed.Seconds()
	snap := Snapshot{
		FPS:            float64(p.frameCount) / seconds,
		SortsPerSecond: float64(p.sortCount) / seconds,
		ElementsPerSec: float64(p.sortElements) / seconds,
	}
	if p.sortCount > 0 {
		snap.AverageSortTime = p.sortTime / time.Duration(p.sortCount)
	}

	runtime.ReadMemStats(&p.memStats)
	// Alloc: Bytes of allocated heap objects (live memory)
	// Sys: Total bytes of memory obtained from the OS (actual process footprint)
	snap.HeapMB = float64(p.memStats.Alloc) / 1024 / 1024
	snap.SysMB = float64(p.memStats.Sys) / 1024 / 1024

	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	snap.AllocRateMB = float64(allocDelta) / 1024 / 1024 / seconds

	gcCount := p.memStats.NumGC
	snap.GCCount = gcCount
	if gcCount > 0 {
		// PauseNs is a circular buffer of last 256 GC pauses
		snap.LastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000

		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			pause := p.memStats.PauseNs[i%256] / 1000
			if pause > snap.MaxPauseUs {
				snap.MaxPauseUs = pause
			}
		}
	}

	p.frameCount = 0
	p.sortCount = 0
	p.sortElements = 0
	p.sortTime = 0
	p.lastTime = now
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return snap, true
}
