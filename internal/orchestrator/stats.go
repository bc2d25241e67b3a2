package orchestrator

import (
	"sync/atomic"
	"time"
)

// Stats tracks engine throughput with atomic counters so status reads never
// block the workers updating them.
type Stats struct {
	started   time.Time
	processed atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	active    atomic.Int64
}

// NewStats creates a Stats with the uptime clock started now.
func NewStats() *Stats {
	return &Stats{started: time.Now()}
}

// TaskStarted implements worker.Recorder.
func (s *Stats) TaskStarted() {
	s.active.Add(1)
}

// TaskFinished implements worker.Recorder. A requeued task counts as one
// finished processing round; it will be counted again when its retry runs.
func (s *Stats) TaskFinished(succeeded bool) {
	s.active.Add(-1)
	s.processed.Add(1)
	if succeeded {
		s.succeeded.Add(1)
	} else {
		s.failed.Add(1)
	}
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	TotalProcessed int64         `json:"total_processed"`
	Succeeded      int64         `json:"succeeded"`
	Failed         int64         `json:"failed"`
	SuccessRate    float64       `json:"success_rate"`
	ActiveTasks    int64         `json:"active_tasks"`
	QueueDepth     int           `json:"queue_depth"`
	Uptime         time.Duration `json:"uptime"`
}

// snapshot captures the counters; queue depth is filled in by the facade,
// which owns the store.
func (s *Stats) snapshot() Snapshot {
	processed := s.processed.Load()
	succeeded := s.succeeded.Load()

	var rate float64
	if processed > 0 {
		rate = float64(succeeded) / float64(processed)
	}
	return Snapshot{
		TotalProcessed: processed,
		Succeeded:      succeeded,
		Failed:         s.failed.Load(),
		SuccessRate:    rate,
		ActiveTasks:    s.active.Load(),
		Uptime:         time.Since(s.started),
	}
}
