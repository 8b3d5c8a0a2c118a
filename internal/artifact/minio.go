package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Adithya-Monish-Kumar-K/visual-search/pkg/config"
)

// Minio stores artifacts in a MinIO or other S3-compatible bucket.
type Minio struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewMinio(client *minio.Client, bucket, prefix string) *Minio {
	return &Minio{client: client, bucket: bucket, prefix: prefix}
}

func NewMinioFromConfig(cfg config.MinioConfig, prefix string) (*Minio, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	return NewMinio(client, cfg.Bucket, prefix), nil
}

func (m *Minio) Name() string { return "minio" }

func (m *Minio) key(key string) string {
	return path.Join(m.prefix, key)
}

func isMinioNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (m *Minio) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, m.key(key), minio.GetObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return nil, notFound(key)
		}
		return nil, fmt.Errorf("minio get: %w", err)
	}
	defer obj.Close()
	// GetObject is lazy; a missing key surfaces on the first read.
	data, err := io.ReadAll(obj)
	if err != nil {
		if isMinioNotFound(err) {
			return nil, notFound(key)
		}
		return nil, fmt.Errorf("minio read: %w", err)
	}
	return data, nil
}

func (m *Minio) Put(ctx context.Context, key string, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, m.key(key), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("minio put: %w", err)
	}
	return nil
}

func (m *Minio) Delete(ctx context.Context, key string) error {
	err := m.client.RemoveObject(ctx, m.bucket, m.key(key), minio.RemoveObjectOptions{})
	if err != nil && !isMinioNotFound(err) {
		return fmt.Errorf("minio delete: %w", err)
	}
	return nil
}
