package cycle

import (
	"sync"
	"time"

	"github.com/Tutortoise/produce-detector/models"
)

// Metrics accumulates cycle counters. It is safe for concurrent use; the
// status server reads it while the loop writes.
type Metrics struct {
	mu sync.RWMutex
	s  Snapshot
}

// Snapshot is a point-in-time copy of Metrics.
type Snapshot struct {
	Cycles          int64               `json:"cycles"`
	AcquireFailures int64               `json:"acquire_failures"`
	InferFailures   int64               `json:"infer_failures"`
	SinkFailures    int64               `json:"sink_failures"`
	Detections      int64               `json:"detections"`
	LastCycleID     string              `json:"last_cycle_id,omitempty"`
	LastCycleAt     time.Time           `json:"last_cycle_at,omitempty"`
	LastDecision    models.Decision     `json:"last_decision"`
	LastScores      []float32           `json:"last_scores,omitempty"`
	LastTimings     models.CycleTimings `json:"last_timings"`
	TotalAcquire    time.Duration       `json:"total_acquire_ns"`
	TotalInfer      time.Duration       `json:"total_infer_ns"`
	TotalRespond    time.Duration       `json:"total_respond_ns"`
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// Observe folds one cycle report into the counters.
func (m *Metrics) Observe(r Report, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.s.Cycles++
	if r.AcquireErr != nil {
		m.s.AcquireFailures++
	}
	if r.InferErr != nil {
		m.s.InferFailures++
	}
	m.s.SinkFailures += int64(len(r.SinkErrors))
	if r.Shown {
		m.s.Detections++
	}
	m.s.LastCycleID = r.CycleID
	m.s.LastCycleAt = at
	m.s.LastDecision = r.Decision
	m.s.LastScores = append(m.s.LastScores[:0], r.Scores...)
	m.s.LastTimings = r.Timings
	m.s.TotalAcquire += r.Timings.Acquire
	m.s.TotalInfer += r.Timings.Infer
	m.s.TotalRespond += r.Timings.Respond
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.s
	s.LastScores = append([]float32(nil), m.s.LastScores...)
	return s
}
