package minio

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/turtacn/Opposition-Intelligence/internal/application/ingestion"
	"github.com/turtacn/Opposition-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/Opposition-Intelligence/pkg/errors"
)

// ObjectStore reads raw decisions and writes processed artifacts.
type ObjectStore struct {
	client *MinIOClient
	logger logging.Logger
	// open returns the object body. *minio.Object cannot be built outside the
	// SDK so tests replace it.
	open func(ctx context.Context, api MinIOAPI, bucket, key string) (io.ReadCloser, error)
}

var _ ingestion.ObjectStore = (*ObjectStore)(nil)

func NewObjectStore(client *MinIOClient, logger logging.Logger) *ObjectStore {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ObjectStore{client: client, logger: logger, open: openObject}
}

func openObject(ctx context.Context, api MinIOAPI, bucket, key string) (io.ReadCloser, error) {
	return api.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
}

// Get downloads a whole object. Missing objects are NotFound; objects over
// the configured size limit are InvalidInput.
func (s *ObjectStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	api, err := s.client.api()
	if err != nil {
		return nil, err
	}
	body, err := s.open(ctx, api, bucket, key)
	if err != nil {
		return nil, mapError(err, bucket, key, "failed to open object")
	}
	defer body.Close()

	limit := s.client.config.MaxObjectSize
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, mapError(err, bucket, key, "failed to read object")
	}
	if int64(len(data)) > limit {
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "object %s/%s exceeds %d bytes", bucket, key, limit)
	}

	s.logger.Debug("Object downloaded",
		logging.String("bucket", bucket),
		logging.String("key", key),
		logging.Int("bytes", len(data)),
	)
	return data, nil
}

// Copy server-side copies srcBucket/srcKey to dstBucket/dstKey.
func (s *ObjectStore) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	api, err := s.client.api()
	if err != nil {
		return err
	}
	_, err = api.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: dstBucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: srcBucket, Object: srcKey},
	)
	if err != nil {
		return mapError(err, srcBucket, srcKey, "failed to copy object")
	}
	return nil
}

// Put uploads data, e.g. a local file handed to the CLI.
func (s *ObjectStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	api, err := s.client.api()
	if err != nil {
		return err
	}
	if contentType == "" {
		contentType = contentTypeFor(key)
	}
	_, err = api.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
		PartSize:    s.client.config.PartSize,
	})
	if err != nil {
		return mapError(err, bucket, key, "failed to upload object")
	}
	s.logger.Info("Object uploaded",
		logging.String("bucket", bucket),
		logging.String("key", key),
		logging.Int("bytes", len(data)),
	)
	return nil
}

// Exists reports whether the object is present.
func (s *ObjectStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	api, err := s.client.api()
	if err != nil {
		return false, err
	}
	_, err = api.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, mapError(err, bucket, key, "failed to stat object")
}

// Delete removes the object. Deleting a missing object succeeds.
func (s *ObjectStore) Delete(ctx context.Context, bucket, key string) error {
	api, err := s.client.api()
	if err != nil {
		return err
	}
	if err := api.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil && !isNoSuchKey(err) {
		return mapError(err, bucket, key, "failed to delete object")
	}
	return nil
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

func mapError(err error, bucket, key, msg string) error {
	if isNoSuchKey(err) {
		return errors.Wrap(err, errors.ErrCodeNotFound, "object not found").WithDetail(bucket + "/" + key)
	}
	return errors.Wrap(err, errors.ErrCodeStorageError, msg).WithDetail(bucket + "/" + key)
}

func contentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".pdf":
		return "application/pdf"
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
