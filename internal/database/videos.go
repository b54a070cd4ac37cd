package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sightline/internal/pipeline"
)

// VideoRecord represents an uploaded video stored in the database
type VideoRecord struct {
	ID             int64
	Filename       string // Name supplied by the uploader
	Filepath       string // Staging path at upload time
	StorageKey     string // Object key when bytes live outside the database
	SizeBytes      int64
	UploadDate     time.Time
	Status         pipeline.VideoStatus
	DetectionCount int // Populated by ListVideos
}

// CreateVideo inserts a video row and sets v.ID. data may be nil when the
// bytes are kept in an external store.
func (d *Database) CreateVideo(ctx context.Context, v *VideoRecord, data []byte) error {
	if v.UploadDate.IsZero() {
		v.UploadDate = time.Now().UTC()
	}
	if v.Status == "" {
		v.Status = pipeline.VideoStatusPending
	}
	if !v.Status.Valid() {
		return fmt.Errorf("invalid video status %q", v.Status)
	}

	query := `INSERT INTO videos (filename, filepath, storage_key, data, size_bytes, upload_date, status)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`

	err := d.db.QueryRowContext(ctx, d.q(query), v.Filename, v.Filepath, v.StorageKey, data,
		v.SizeBytes, v.UploadDate, string(v.Status)).Scan(&v.ID)
	if err != nil {
		return fmt.Errorf("failed to create video: %w", err)
	}
	return nil
}

// GetVideo retrieves a video by ID, or nil if it does not exist
func (d *Database) GetVideo(ctx context.Context, id int64) (*VideoRecord, error) {
	query := `SELECT id, filename, filepath, storage_key, size_bytes, upload_date, status
		FROM videos WHERE id = ?`

	var v VideoRecord
	var status string
	err := d.db.QueryRowContext(ctx, d.q(query), id).Scan(&v.ID, &v.Filename, &v.Filepath,
		&v.StorageKey, &v.SizeBytes, &v.UploadDate, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	v.Status = pipeline.VideoStatus(status)
	return &v, nil
}

// ListVideos returns all videos, newest first, with their detection counts
func (d *Database) ListVideos(ctx context.Context) ([]*VideoRecord, error) {
	query := `SELECT v.id, v.filename, v.filepath, v.storage_key, v.size_bytes, v.upload_date, v.status,
		(SELECT COUNT(*) FROM detections det WHERE det.video_id = v.id)
		FROM videos v ORDER BY v.id DESC`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	defer rows.Close()

	var videos []*VideoRecord
	for rows.Next() {
		var v VideoRecord
		var status string
		if err := rows.Scan(&v.ID, &v.Filename, &v.Filepath, &v.StorageKey, &v.SizeBytes,
			&v.UploadDate, &status, &v.DetectionCount); err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		v.Status = pipeline.VideoStatus(status)
		videos = append(videos, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	return videos, nil
}

// GetVideoData returns the stored bytes of a video. It returns
// pipeline.ErrVideoNotFound if the row does not exist.
func (d *Database) GetVideoData(ctx context.Context, id int64) ([]byte, error) {
	var data []byte
	err := d.db.QueryRowContext(ctx, d.q(`SELECT data FROM videos WHERE id = ?`), id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pipeline.ErrVideoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get video data: %w", err)
	}
	return data, nil
}

// DeleteVideo removes a video; its detections and boxes cascade
func (d *Database) DeleteVideo(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx, d.q(`DELETE FROM videos WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete video: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return pipeline.ErrVideoNotFound
	}
	return nil
}

// UpdateVideoStatus changes a video's status only if it currently equals from
func (d *Database) UpdateVideoStatus(ctx context.Context, id int64, from, to pipeline.VideoStatus) error {
	if !pipeline.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", pipeline.ErrIllegalTransition, from, to)
	}

	res, err := d.db.ExecContext(ctx, d.q(`UPDATE videos SET status = ? WHERE id = ? AND status = ?`),
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update video status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update video status: %w", err)
	}
	if n == 1 {
		return nil
	}

	var current string
	err = d.db.QueryRowContext(ctx, d.q(`SELECT status FROM videos WHERE id = ?`), id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return pipeline.ErrVideoNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read video status: %w", err)
	}
	return fmt.Errorf("%w: video %d is %s, not %s", pipeline.ErrIllegalTransition, id, current, from)
}

var _ pipeline.StatusStore = (*Database)(nil)
