// Package storage keeps the durable copy of uploaded video bytes.
package storage

import (
	"context"
	"errors"
	"io"

	"sightline/internal/database"
)

// ErrEmpty is returned by Open when a video has no stored bytes
var ErrEmpty = errors.New("video has no stored content")

// Store persists a video's bytes together with its row
type Store interface {
	Name() string
	// Put stores data and creates the video row, setting v.ID
	Put(ctx context.Context, v *database.VideoRecord, data []byte) error
	// Open returns the stored bytes and their length
	Open(ctx context.Context, v *database.VideoRecord) (io.ReadCloser, int64, error)
}

// Catalog is the part of the database a store needs
type Catalog interface {
	CreateVideo(ctx context.Context, v *database.VideoRecord, data []byte) error
	GetVideoData(ctx context.Context, id int64) ([]byte, error)
}

var _ Catalog = (*database.Database)(nil)
