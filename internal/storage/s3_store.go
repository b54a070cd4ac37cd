package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"sightline/internal/database"
)

// S3API is the subset of the S3 client used by S3Store
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Options configures the object store backend
type S3Options struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // Custom endpoint, addressed path-style
}

// S3Store keeps video bytes in a bucket and only the object key in the database
type S3Store struct {
	db     Catalog
	client S3API
	bucket string
	prefix string
}

// NewS3Store loads AWS configuration from the environment and creates a store
func NewS3Store(ctx context.Context, db Catalog, opts S3Options) (*S3Store, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3StoreWithClient(db, client, opts.Bucket, opts.Prefix), nil
}

// NewS3StoreWithClient creates a store using an existing client
func NewS3StoreWithClient(db Catalog, client S3API, bucket, prefix string) *S3Store {
	return &S3Store{db: db, client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3Store) Name() string { return "s3" }

func (s *S3Store) key(filename string) string {
	name := uuid.NewString() + strings.ToLower(filepath.Ext(filename))
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Put uploads the object first; the row is only created once the bytes are durable
func (s *S3Store) Put(ctx context.Context, v *database.VideoRecord, data []byte) error {
	key := s.key(v.Filename)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("video/mp4"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	log.Printf("[Storage] Uploaded %s to s3://%s/%s", v.Filename, s.bucket, key)

	v.StorageKey = key
	v.SizeBytes = int64(len(data))
	if err := s.db.CreateVideo(ctx, v, nil); err != nil {
		if _, derr := s.client.DeleteObject(context.WithoutCancel(ctx), &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		}); derr != nil {
			log.Printf("[Storage] Warning: failed to delete orphaned object %s: %v", key, derr)
		}
		return err
	}
	return nil
}

func (s *S3Store) Open(ctx context.Context, v *database.VideoRecord) (io.ReadCloser, int64, error) {
	if v.StorageKey == "" {
		return nil, 0, ErrEmpty
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(v.StorageKey),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, 0, ErrEmpty
		}
		return nil, 0, fmt.Errorf("failed to download from S3: %w", err)
	}
	return out.Body, aws.ToInt64(out.ContentLength), nil
}

var _ Store = (*S3Store)(nil)
