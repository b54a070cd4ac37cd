package pipeline

import (
	"errors"
)

var (
	// ErrMedia - the file cannot be opened, decoded, or has no frames
	ErrMedia = errors.New("media error")
	// ErrDetection - the detector failed on one frame; never fatal to a run
	ErrDetection = errors.New("detection fault")
	// ErrPersistence - a detection record could not be written atomically
	ErrPersistence = errors.New("persistence error")
	// ErrDelivery - a subscriber could not receive a notification
	ErrDelivery = errors.New("delivery fault")
	// ErrStatusUpdate - the terminal status could not be recorded
	ErrStatusUpdate = errors.New("status update fault")
	// ErrAborted - the run was cancelled or hit an unexpected internal failure
	ErrAborted = errors.New("run aborted")
	// ErrIllegalTransition - the requested status change is not allowed
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrVideoNotFound - the video row does not exist (or was deleted)
	ErrVideoNotFound = errors.New("video not found")
)

// FaultKind classifies the error that ended a run
type FaultKind string

const (
	FaultNone         FaultKind = ""
	FaultMedia        FaultKind = "media_error"
	FaultDetection    FaultKind = "detection_fault"
	FaultPersistence  FaultKind = "persistence_error"
	FaultDelivery     FaultKind = "delivery_fault"
	FaultStatusUpdate FaultKind = "status_update_fault"
	FaultAborted      FaultKind = "aborted"
)

// ClassifyFault maps an error onto the fault taxonomy.
// Unknown errors are treated as aborts.
func ClassifyFault(err error) FaultKind {
	switch {
	case err == nil:
		return FaultNone
	case errors.Is(err, ErrMedia):
		return FaultMedia
	case errors.Is(err, ErrPersistence):
		return FaultPersistence
	case errors.Is(err, ErrDetection):
		return FaultDetection
	case errors.Is(err, ErrDelivery):
		return FaultDelivery
	case errors.Is(err, ErrStatusUpdate):
		return FaultStatusUpdate
	default:
		return FaultAborted
	}
}
