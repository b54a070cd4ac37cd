package strategies

import (
	"fmt"

	"sightline/internal/pipeline"
)

// DefaultEveryN is the sampling stride used when none is configured
const DefaultEveryN = 5

// EveryNthStrategy samples frames whose number is a multiple of n.
// With n=1 every decoded frame is analyzed.
type EveryNthStrategy struct {
	n int
}

// NewEveryNthStrategy creates a stride sampler; n <= 0 falls back to DefaultEveryN
func NewEveryNthStrategy(n int) *EveryNthStrategy {
	if n <= 0 {
		n = DefaultEveryN
	}
	return &EveryNthStrategy{n: n}
}

func (s *EveryNthStrategy) Name() string {
	if s.n == 1 {
		return ModeContinuous
	}
	return fmt.Sprintf("%s(%d)", ModeEveryNth, s.n)
}

func (s *EveryNthStrategy) ShouldSample(frame *pipeline.Frame) bool {
	return frame.Number%s.n == 0
}

func (s *EveryNthStrategy) Reset() {
	// Stateless
}
