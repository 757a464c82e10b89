package assets

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioConfig holds the connection settings for an S3-compatible asset bucket.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore serves assets from an object storage bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioClient creates a MinIO client for cfg.
func NewMinioClient(cfg MinioConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return client, nil
}

// NewMinioStore returns a store reading objects from bucket.
func NewMinioStore(client *minio.Client, bucket string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket}
}

// Read returns the content of the named object.
func (s *MinioStore) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError(name, err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return nil, s.mapError(name, err)
	}
	if info.Size > MaxAssetSize {
		return nil, fmt.Errorf("%w: %s", ErrAssetTooLarge, name)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapError(name, err)
	}
	return data, nil
}

func (s *MinioStore) mapError(name string, err error) error {
	if isNoSuchKey(err) {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, name)
	}
	return fmt.Errorf("read object %s/%s: %w", s.bucket, name, err)
}

func isNoSuchKey(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchObject":
		return true
	}
	return false
}
