package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// StatusTracker records the terminal status of a video.
// Each video leaves processing exactly once; later attempts fail with ErrIllegalTransition.
type StatusTracker struct {
	store StatusStore
}

// NewStatusTracker creates a tracker backed by store
func NewStatusTracker(store StatusStore) *StatusTracker {
	return &StatusTracker{store: store}
}

// Complete moves a video from processing to completed
func (t *StatusTracker) Complete(ctx context.Context, videoID int64) error {
	return t.transition(ctx, videoID, VideoStatusCompleted, nil)
}

// Fail moves a video from processing to error
func (t *StatusTracker) Fail(ctx context.Context, videoID int64, cause error) error {
	return t.transition(ctx, videoID, VideoStatusError, cause)
}

func (t *StatusTracker) transition(ctx context.Context, videoID int64, to VideoStatus, cause error) error {
	err := t.store.UpdateVideoStatus(ctx, videoID, VideoStatusProcessing, to)
	switch {
	case err == nil:
		if cause != nil {
			log.Printf("[Status] Video %d: processing -> %s (%v)", videoID, to, cause)
		} else {
			log.Printf("[Status] Video %d: processing -> %s", videoID, to)
		}
		return nil
	case errors.Is(err, ErrVideoNotFound):
		// Deleted while the run was in flight; nothing left to update
		log.Printf("[Status] Video %d no longer exists, skipping %s", videoID, to)
		return nil
	case errors.Is(err, ErrIllegalTransition):
		log.Printf("[Status] Refusing transition for video %d: %v", videoID, err)
		return err
	default:
		return fmt.Errorf("%w: video %d -> %s: %v", ErrStatusUpdate, videoID, to, err)
	}
}
