package detectors

import (
	"fmt"
	"time"

	"sightline/internal/detection"
)

// Detection backends selectable from configuration
const (
	BackendHTTP = "http"
	BackendGRPC = "grpc"
)

// BackendConfig selects and configures the detection client
type BackendConfig struct {
	Backend       string
	Endpoint      string
	Timeout       time.Duration
	ConfThreshold float64
}

// NewBackend creates the ObjectDetector named by cfg.Backend
func NewBackend(cfg BackendConfig) (detection.ObjectDetector, error) {
	switch cfg.Backend {
	case "", BackendHTTP:
		return detection.NewHTTPDetector(detection.HTTPDetectorConfig{
			Endpoint:      cfg.Endpoint,
			Timeout:       cfg.Timeout,
			ConfThreshold: cfg.ConfThreshold,
		}), nil
	case BackendGRPC:
		d, err := detection.NewGRPCDetector(detection.GRPCDetectorConfig{
			Endpoint:      cfg.Endpoint,
			ConfThreshold: cfg.ConfThreshold,
		})
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown detector backend: %s", cfg.Backend)
	}
}
