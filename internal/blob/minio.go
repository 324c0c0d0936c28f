package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"checkpoint-sync-api/internal/model"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinIOConfig holds S3-compatible object storage settings.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Prefix          string
	Region          string
	UseSSL          bool
}

// MinIOStore implements Store on an S3-compatible bucket.
type MinIOStore struct {
	client *minio.Client
	bucket string
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// NewMinIOStore connects to the object store and makes sure the bucket exists.
func NewMinIOStore(ctx context.Context, cfg MinIOConfig, logger *zap.Logger) (*MinIOStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Bucket == "" {
		return nil, errors.New("minio bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("bucket created", zap.String("bucket", cfg.Bucket))
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	logger.Info("minio blob store initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("bucket", cfg.Bucket),
		zap.String("prefix", prefix),
		zap.Bool("use_ssl", cfg.UseSSL))

	return &MinIOStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		now:    time.Now,
		logger: logger,
	}, nil
}

func (s *MinIOStore) key(location string) string {
	return s.prefix + location
}

// Put uploads data as a single object. Content-MD5 makes the server reject truncated bodies.
func (s *MinIOStore) Put(ctx context.Context, displayName string, data []byte) (string, error) {
	const op = "put blob"

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := Name(displayName, s.now())

		taken, err := s.exists(ctx, s.key(name))
		if err != nil {
			return "", model.StorageUnavailable(op, err)
		}
		if taken {
			continue
		}

		_, err = s.client.PutObject(ctx, s.bucket, s.key(name), bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{
				ContentType:    "application/octet-stream",
				SendContentMd5: true,
			})
		if err != nil {
			s.logger.Error("failed to upload blob", zap.String("location", name), zap.Error(err))
			return "", model.StorageUnavailable(op, err)
		}

		s.logger.Debug("blob stored", zap.String("location", name), zap.Int("size", len(data)))
		return name, nil
	}

	return "", model.StorageUnavailable(op, errors.New("no unique blob name available"))
}

func (s *MinIOStore) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, err
}

// Open returns the object at location.
func (s *MinIOStore) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	const op = "open blob"

	if !validLocation(location) {
		return nil, ErrNotFound
	}

	obj, err := s.client.GetObject(ctx, s.bucket, s.key(location), minio.GetObjectOptions{})
	if err != nil {
		return nil, model.StorageUnavailable(op, err)
	}
	// GetObject is lazy; Stat surfaces a missing key.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, model.StorageUnavailable(op, err)
	}
	return obj, nil
}

// Delete removes the object at location.
func (s *MinIOStore) Delete(ctx context.Context, location string) error {
	if !validLocation(location) {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, s.key(location), minio.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
		return model.StorageUnavailable("delete blob", err)
	}
	return nil
}

// List returns every object under the store prefix.
func (s *MinIOStore) List(ctx context.Context) ([]Info, error) {
	var infos []Info
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, model.StorageUnavailable("list blobs", obj.Err)
		}
		infos = append(infos, Info{
			Location: strings.TrimPrefix(obj.Key, s.prefix),
			Size:     obj.Size,
			ModTime:  obj.LastModified,
		})
	}
	return infos, nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

var _ Store = (*MinIOStore)(nil)
