package storage

import (
	"bytes"
	"context"
	"io"

	"sightline/internal/database"
)

// DatabaseStore keeps video bytes in the videos table
type DatabaseStore struct {
	db Catalog
}

// NewDatabaseStore creates a store backed by db
func NewDatabaseStore(db Catalog) *DatabaseStore {
	return &DatabaseStore{db: db}
}

func (s *DatabaseStore) Name() string { return "database" }

func (s *DatabaseStore) Put(ctx context.Context, v *database.VideoRecord, data []byte) error {
	v.StorageKey = ""
	v.SizeBytes = int64(len(data))
	return s.db.CreateVideo(ctx, v, data)
}

func (s *DatabaseStore) Open(ctx context.Context, v *database.VideoRecord) (io.ReadCloser, int64, error) {
	data, err := s.db.GetVideoData(ctx, v.ID)
	if err != nil {
		return nil, 0, err
	}
	if len(data) == 0 {
		return nil, 0, ErrEmpty
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

var _ Store = (*DatabaseStore)(nil)
