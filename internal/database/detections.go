package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sightline/internal/pipeline"
)

// DetectionRecord represents one sampled frame that contained people
type DetectionRecord struct {
	ID            int64
	VideoID       int64
	FrameNumber   int
	Timestamp     float64
	ObjectCount   int
	BoundingBoxes []BoundingBoxRecord
}

// BoundingBoxRecord represents a person box within a detection
type BoundingBoxRecord struct {
	ID          int64
	DetectionID int64
	X1          float64
	Y1          float64
	X2          float64
	Y2          float64
	Confidence  float64
}

// WriteDetection stores a detection and all of its boxes in one transaction.
// The write is refused unless the video is still processing, so nothing can
// be attached to a video after its terminal status is recorded.
func (d *Database) WriteDetection(ctx context.Context, videoID int64, frameNumber int, timestamp float64, boxes []pipeline.BoxCandidate) (int64, error) {
	if len(boxes) == 0 {
		return 0, fmt.Errorf("%w: detection for frame %d has no boxes", pipeline.ErrPersistence, frameNumber)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to begin transaction: %v", pipeline.ErrPersistence, err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, d.q(d.dialect.lockVideo), videoID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %w: %d", pipeline.ErrPersistence, pipeline.ErrVideoNotFound, videoID)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read video status: %v", pipeline.ErrPersistence, err)
	}
	if pipeline.VideoStatus(status) != pipeline.VideoStatusProcessing {
		return 0, fmt.Errorf("%w: video %d is %s", pipeline.ErrPersistence, videoID, status)
	}

	var detectionID int64
	err = tx.QueryRowContext(ctx,
		d.q(`INSERT INTO detections (video_id, frame_number, timestamp, object_count) VALUES (?, ?, ?, ?) RETURNING id`),
		videoID, frameNumber, timestamp, len(boxes)).Scan(&detectionID)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to insert detection: %v", pipeline.ErrPersistence, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		d.q(`INSERT INTO bounding_boxes (detection_id, x1, y1, x2, y2, confidence) VALUES (?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to prepare box insert: %v", pipeline.ErrPersistence, err)
	}
	defer stmt.Close()

	for _, b := range boxes {
		if _, err := stmt.ExecContext(ctx, detectionID, b.X1, b.Y1, b.X2, b.Y2, b.Confidence); err != nil {
			return 0, fmt.Errorf("%w: failed to insert bounding box: %v", pipeline.ErrPersistence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: failed to commit detection: %v", pipeline.ErrPersistence, err)
	}
	return detectionID, nil
}

var _ pipeline.ResultWriter = (*Database)(nil)

// ListDetections returns a video's detections ordered by frame, boxes included
func (d *Database) ListDetections(ctx context.Context, videoID int64) ([]*DetectionRecord, error) {
	rows, err := d.db.QueryContext(ctx, d.q(`SELECT id, video_id, frame_number, timestamp, object_count
		FROM detections WHERE video_id = ? ORDER BY frame_number, id`), videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list detections: %w", err)
	}
	defer rows.Close()

	var detections []*DetectionRecord
	byID := make(map[int64]*DetectionRecord)
	for rows.Next() {
		var det DetectionRecord
		if err := rows.Scan(&det.ID, &det.VideoID, &det.FrameNumber, &det.Timestamp, &det.ObjectCount); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		detections = append(detections, &det)
		byID[det.ID] = &det
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list detections: %w", err)
	}
	if len(detections) == 0 {
		return detections, nil
	}

	boxRows, err := d.db.QueryContext(ctx, d.q(`SELECT b.id, b.detection_id, b.x1, b.y1, b.x2, b.y2, b.confidence
		FROM bounding_boxes b JOIN detections det ON det.id = b.detection_id
		WHERE det.video_id = ? ORDER BY b.id`), videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bounding boxes: %w", err)
	}
	defer boxRows.Close()

	for boxRows.Next() {
		var b BoundingBoxRecord
		if err := boxRows.Scan(&b.ID, &b.DetectionID, &b.X1, &b.Y1, &b.X2, &b.Y2, &b.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan bounding box: %w", err)
		}
		if det, ok := byID[b.DetectionID]; ok {
			det.BoundingBoxes = append(det.BoundingBoxes, b)
		}
	}
	if err := boxRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list bounding boxes: %w", err)
	}
	return detections, nil
}
