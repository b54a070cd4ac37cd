package pipeline

import (
	"math"
	"time"
)

// VideoStatus is the processing state of an uploaded video
type VideoStatus string

const (
	// VideoStatusPending - stored but not yet scheduled
	VideoStatusPending VideoStatus = "pending"
	// VideoStatusProcessing - a run owns the video and may write detections
	VideoStatusProcessing VideoStatus = "processing"
	// VideoStatusCompleted - every frame was consumed and all writes succeeded
	VideoStatusCompleted VideoStatus = "completed"
	// VideoStatusError - the run stopped on a fatal fault
	VideoStatusError VideoStatus = "error"
)

// Code returns the integer status code exposed by the REST API
// (0 pending, 1 processing, 2 completed, 3 error)
func (s VideoStatus) Code() int {
	switch s {
	case VideoStatusProcessing:
		return 1
	case VideoStatusCompleted:
		return 2
	case VideoStatusError:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is one of the known statuses
func (s VideoStatus) Valid() bool {
	switch s {
	case VideoStatusPending, VideoStatusProcessing, VideoStatusCompleted, VideoStatusError:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed out of s
func (s VideoStatus) IsTerminal() bool {
	return s == VideoStatusCompleted || s == VideoStatusError
}

// CanTransition reports whether a video may move from one status to another.
// Terminal statuses are never left.
func CanTransition(from, to VideoStatus) bool {
	switch from {
	case VideoStatusPending:
		return to == VideoStatusProcessing || to == VideoStatusError
	case VideoStatusProcessing:
		return to == VideoStatusCompleted || to == VideoStatusError
	default:
		return false
	}
}

// Frame represents one decoded video frame
type Frame struct {
	Number int     // Zero-based index in decode order
	Image  []byte  // JPEG encoded pixels
	FPS    float64 // Nominal frame rate of the source
	Width  int     // Frame width (if known)
	Height int     // Frame height (if known)
}

// Timestamp returns the frame position in seconds (Number / FPS)
func (f *Frame) Timestamp() float64 {
	if f == nil || f.FPS <= 0 {
		return 0
	}
	return float64(f.Number) / f.FPS
}

// BBox represents a bounding box in source-frame pixel coordinates
type BBox struct {
	X1 float64 `json:"x1"` // Left
	Y1 float64 `json:"y1"` // Top
	X2 float64 `json:"x2"` // Right
	Y2 float64 `json:"y2"` // Bottom
}

// Valid reports whether the box is finite and has positive area
func (b BBox) Valid() bool {
	for _, v := range []float64{b.X1, b.Y1, b.X2, b.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// Scale multiplies every coordinate by factor
func (b BBox) Scale(factor float64) BBox {
	return BBox{X1: b.X1 * factor, Y1: b.Y1 * factor, X2: b.X2 * factor, Y2: b.Y2 * factor}
}

// BoxCandidate is a person box that passed the confidence filter
type BoxCandidate struct {
	BBox
	Confidence float64 `json:"confidence"` // Detector confidence [0-1]
}

// Valid reports whether the box geometry and confidence are usable
func (c BoxCandidate) Valid() bool {
	if math.IsNaN(c.Confidence) || c.Confidence < 0 || c.Confidence > 1 {
		return false
	}
	return c.BBox.Valid()
}

// Job is the unit of work handed to the orchestrator after an upload
type Job struct {
	FilePath         string // Staged copy on local disk, removed when the run ends
	VideoID          int64  // Owning video row
	OriginalFilename string // Name supplied by the uploader
}

// ProgressEvent is published after every persisted detection
type ProgressEvent struct {
	VideoID     int64 `json:"video_id"`
	FrameNumber int   `json:"frame_number"`
	ObjectCount int   `json:"object_count"`
}

// RunState tracks an orchestrator run
type RunState string

const (
	RunStateIdle     RunState = "idle"
	RunStateRunning  RunState = "running"
	RunStateFinished RunState = "finished"
	RunStateFailed   RunState = "failed"
)

// Outcome summarizes a single run
type Outcome struct {
	Job           Job
	State         RunState
	Status        VideoStatus   // Terminal status the run attempted to record
	Fault         FaultKind     // Fault that ended the run (FaultNone when finished cleanly)
	Err           error         // Fatal error, nil when finished
	StatusErr     error         // Set when the terminal status could not be recorded
	FramesDecoded int           // Frames pulled from the source
	FramesSampled int           // Frames handed to the detection adapter
	Detections    int           // Detection records persisted
	Boxes         int           // Bounding boxes persisted
	StartedAt     time.Time
	Duration      time.Duration
}

// Label returns the outcome name used for logging and metrics
func (o Outcome) Label() string {
	switch {
	case o.State == RunStateFinished && o.StatusErr == nil:
		return "completed"
	case o.StatusErr != nil && o.Fault == FaultNone:
		return string(FaultStatusUpdate)
	case o.Fault != FaultNone:
		return string(o.Fault)
	default:
		return string(o.State)
	}
}
