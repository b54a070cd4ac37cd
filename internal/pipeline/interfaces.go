package pipeline

import (
	"context"
)

// FrameSource yields the decoded frames of one video file in order
type FrameSource interface {
	// Next returns the next frame, or io.EOF once the stream is exhausted.
	// Any other error wraps ErrMedia.
	Next() (*Frame, error)

	// Close releases the decoder. Safe to call more than once.
	Close() error
}

// SourceOpener opens a FrameSource for a staged file
type SourceOpener interface {
	Open(ctx context.Context, path string) (FrameSource, error)
}

// SourceOpenerFunc adapts a function to SourceOpener
type SourceOpenerFunc func(ctx context.Context, path string) (FrameSource, error)

// Open calls f(ctx, path)
func (f SourceOpenerFunc) Open(ctx context.Context, path string) (FrameSource, error) {
	return f(ctx, path)
}

// DetectionAdapter turns a frame into person boxes.
// Implementations absorb every detector failure and return an empty slice instead.
type DetectionAdapter interface {
	Detect(ctx context.Context, frame *Frame) []BoxCandidate
}

// ResultWriter persists one detection record with all of its boxes atomically
type ResultWriter interface {
	// WriteDetection stores the record and returns its id.
	// Failures wrap ErrPersistence.
	WriteDetection(ctx context.Context, videoID int64, frameNumber int, timestamp float64, boxes []BoxCandidate) (int64, error)
}

// StatusStore performs a conditional status change on a video row
type StatusStore interface {
	// UpdateVideoStatus moves a video from one status to another.
	// Returns ErrVideoNotFound if the row is gone and ErrIllegalTransition
	// if the current status is not from.
	UpdateVideoStatus(ctx context.Context, videoID int64, from, to VideoStatus) error
}

// Notifier fans progress events out to the subscribers of a video.
// Publish must never block the caller.
type Notifier interface {
	Publish(videoID int64, event ProgressEvent)
}

// SamplingStrategy decides which frames are handed to the detector
type SamplingStrategy interface {
	// Name returns the strategy identifier
	Name() string

	// ShouldSample determines if this frame should be analyzed
	ShouldSample(frame *Frame) bool

	// Reset clears internal state before a new run
	Reset()
}

// RunObserver receives run counters. Implemented by metrics.Metrics.
type RunObserver interface {
	RunStarted()
	FrameDecoded()
	FrameSampled()
	DetectionWritten(boxes int)
	RunFinished(outcome string, seconds float64)
}

type noopObserver struct{}

func (noopObserver) RunStarted() {}
func (noopObserver) FrameDecoded() {}
func (noopObserver) FrameSampled() {}
func (noopObserver) DetectionWritten(int) {}
func (noopObserver) RunFinished(string, float64) {}

type noopNotifier struct{}

func (noopNotifier) Publish(int64, ProgressEvent) {}
