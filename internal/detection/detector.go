package detection

import (
	"context"
	"errors"
)

// ErrUnavailable is returned while a backend is failing its health check
var ErrUnavailable = errors.New("detection service unavailable")

// Object is a single raw detection returned by a backend, in the pixel
// space of the image that was sent
type Object struct {
	Class      string
	ClassID    int
	Confidence float64
	X1, Y1     float64
	X2, Y2     float64
}

// ObjectDetector runs an object detection model on a JPEG image
type ObjectDetector interface {
	// Detect returns every object the model found above its own threshold
	Detect(ctx context.Context, image []byte) ([]Object, error)

	// IsHealthy returns true if the backend is reachable
	IsHealthy(ctx context.Context) bool

	// Close releases backend resources
	Close() error
}

// objectFromBBox converts a [x1, y1, x2, y2] slice into an Object
func objectFromBBox(class string, classID int, confidence float64, bbox []float64) (Object, error) {
	if len(bbox) != 4 {
		return Object{}, errors.New("malformed bbox: expected 4 coordinates")
	}
	return Object{
		Class:      class,
		ClassID:    classID,
		Confidence: confidence,
		X1:         bbox[0],
		Y1:         bbox[1],
		X2:         bbox[2],
		Y2:         bbox[3],
	}, nil
}
