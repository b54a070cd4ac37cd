package strategies

import (
	"fmt"

	"sightline/internal/pipeline"
)

// Sampling modes accepted by the factory
const (
	ModeEveryNth   = "every_nth"
	ModeInterval   = "interval"
	ModeContinuous = "continuous"
)

// Config selects and parameterizes a sampling strategy
type Config struct {
	Mode     string  // every_nth, interval or continuous
	EveryN   int     // Stride for every_nth
	Interval float64 // Seconds for interval
}

// StrategyFactory creates a fresh sampling strategy for every run
type StrategyFactory struct {
	config Config
}

// NewStrategyFactory validates cfg and returns a factory for it
func NewStrategyFactory(cfg Config) (*StrategyFactory, error) {
	f := &StrategyFactory{config: cfg}
	if _, err := f.Create(); err != nil {
		return nil, err
	}
	return f, nil
}

// Create creates a sampling strategy based on the configuration
func (f *StrategyFactory) Create() (pipeline.SamplingStrategy, error) {
	switch f.config.Mode {
	case "", ModeEveryNth:
		return NewEveryNthStrategy(f.config.EveryN), nil

	case ModeContinuous:
		return NewEveryNthStrategy(1), nil

	case ModeInterval:
		return NewIntervalStrategy(f.config.Interval), nil

	default:
		return nil, fmt.Errorf("unknown sampling mode: %s", f.config.Mode)
	}
}

// New returns a strategy, falling back to every 5th frame on a bad mode.
// Suitable for OrchestratorConfig.NewStrategy.
func (f *StrategyFactory) New() pipeline.SamplingStrategy {
	s, err := f.Create()
	if err != nil {
		return NewEveryNthStrategy(DefaultEveryN)
	}
	return s
}
