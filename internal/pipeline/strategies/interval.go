package strategies

import (
	"fmt"
	"sync"

	"sightline/internal/pipeline"
)

// IntervalStrategy samples at most one frame per interval of video time.
// Timing follows frame timestamps, not the wall clock, so results are
// independent of how fast the file decodes.
type IntervalStrategy struct {
	interval float64 // Seconds of video time between samples
	last     float64
	sampled  bool
	mu       sync.Mutex
}

// NewIntervalStrategy creates an interval sampler; non-positive intervals default to one second
func NewIntervalStrategy(seconds float64) *IntervalStrategy {
	if seconds <= 0 {
		seconds = 1
	}
	return &IntervalStrategy{interval: seconds}
}

func (s *IntervalStrategy) Name() string {
	return fmt.Sprintf("%s(%gs)", ModeInterval, s.interval)
}

func (s *IntervalStrategy) ShouldSample(frame *pipeline.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := frame.Timestamp()
	if s.sampled && ts-s.last < s.interval {
		return false
	}
	s.last = ts
	s.sampled = true
	return true
}

func (s *IntervalStrategy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = 0
	s.sampled = false
}
