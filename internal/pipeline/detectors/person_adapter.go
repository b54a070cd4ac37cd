package detectors

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"math"
	"time"

	"golang.org/x/image/draw"

	"sightline/internal/detection"
	"sightline/internal/pipeline"
)

const (
	// PersonClassID is the COCO class id for "person"
	PersonClassID = 0
	// DefaultConfThreshold is the minimum confidence for a person box
	DefaultConfThreshold = 0.30
)

// FaultRecorder counts frames whose detection failed
type FaultRecorder interface {
	DetectionFault()
}

// PersonAdapter wraps an ObjectDetector and keeps only confident person boxes.
// It never returns an error: any detector failure yields an empty result.
type PersonAdapter struct {
	detector      detection.ObjectDetector
	classID       int
	confThreshold float64
	maxDimension  int
	timeout       time.Duration
	faults        FaultRecorder
}

// PersonAdapterConfig holds filtering and resize settings
type PersonAdapterConfig struct {
	ClassID           int           // Target class, PersonClassID by default
	ConfThreshold     float64       // Inclusive lower bound on confidence
	MaxInputDimension int           // Frames larger than this are downscaled before inference (0 disables)
	Timeout           time.Duration // Per-frame detection timeout (0 disables)
	Faults            FaultRecorder // Optional
}

// NewPersonAdapter creates a new person detection adapter
func NewPersonAdapter(detector detection.ObjectDetector, config PersonAdapterConfig) *PersonAdapter {
	threshold := config.ConfThreshold
	if threshold <= 0 {
		threshold = DefaultConfThreshold
	}
	return &PersonAdapter{
		detector:      detector,
		classID:       config.ClassID,
		confThreshold: threshold,
		maxDimension:  config.MaxInputDimension,
		timeout:       config.Timeout,
		faults:        config.Faults,
	}
}

var _ pipeline.DetectionAdapter = (*PersonAdapter)(nil)

// Detect returns the person boxes of frame in source-frame pixel coordinates
func (a *PersonAdapter) Detect(ctx context.Context, frame *pipeline.Frame) (boxes []pipeline.BoxCandidate) {
	defer func() {
		if r := recover(); r != nil {
			a.fault(frame, fmt.Errorf("detector panic: %v", r))
			boxes = nil
		}
	}()

	if a.detector == nil {
		a.fault(frame, errors.New("detector not configured"))
		return nil
	}
	if frame == nil || len(frame.Image) == 0 {
		a.fault(frame, errors.New("empty frame"))
		return nil
	}

	img, scale, err := a.prepare(frame)
	if err != nil {
		a.fault(frame, err)
		return nil
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	objects, err := a.detector.Detect(ctx, img)
	if err != nil {
		a.fault(frame, err)
		return nil
	}

	for _, obj := range objects {
		if obj.ClassID != a.classID || obj.Confidence < a.confThreshold {
			continue
		}
		box := pipeline.BoxCandidate{
			BBox:       pipeline.BBox{X1: obj.X1, Y1: obj.Y1, X2: obj.X2, Y2: obj.Y2}.Scale(scale),
			Confidence: obj.Confidence,
		}
		if !box.Valid() {
			a.fault(frame, fmt.Errorf("malformed box %+v", obj))
			return nil
		}
		boxes = append(boxes, box)
	}
	return boxes
}

// prepare downscales oversized frames. It returns the image to send and the
// factor that maps detector coordinates back to the source frame.
func (a *PersonAdapter) prepare(frame *pipeline.Frame) ([]byte, float64, error) {
	if a.maxDimension <= 0 {
		return frame.Image, 1, nil
	}

	width, height := frame.Width, frame.Height
	if width <= 0 || height <= 0 {
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(frame.Image))
		if err != nil {
			return nil, 0, fmt.Errorf("failed to read frame header: %w", err)
		}
		width, height = cfg.Width, cfg.Height
	}

	longest := max(width, height)
	if longest <= a.maxDimension {
		return frame.Image, 1, nil
	}

	src, err := jpeg.Decode(bytes.NewReader(frame.Image))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode frame: %w", err)
	}
	bounds := src.Bounds()
	ratio := float64(a.maxDimension) / float64(max(bounds.Dx(), bounds.Dy()))
	dw := max(1, int(math.Round(float64(bounds.Dx())*ratio)))
	dh := max(1, int(math.Round(float64(bounds.Dy())*ratio)))

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90}); err != nil {
		return nil, 0, fmt.Errorf("failed to encode resized frame: %w", err)
	}
	return buf.Bytes(), float64(bounds.Dx()) / float64(dw), nil
}

func (a *PersonAdapter) fault(frame *pipeline.Frame, err error) {
	number := -1
	if frame != nil {
		number = frame.Number
	}
	log.Printf("[PersonAdapter] Frame %d treated as empty: %v: %v", number, pipeline.ErrDetection, err)
	if a.faults != nil {
		a.faults.DetectionFault()
	}
}
