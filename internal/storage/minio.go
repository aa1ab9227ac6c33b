package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aihub/rag-service/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

const rawTextPrefix = "raw/"

// MinIOArchive 在对象存储中保存文档原始文本
type MinIOArchive struct {
	client *minio.Client
	bucket string
	logger *zap.Logger
}

// NewMinIOArchive 创建MinIO客户端并确保bucket存在
func NewMinIOArchive(ctx context.Context, cfg config.ObjectStorageConfig, logger *zap.Logger) (*MinIOArchive, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("minio endpoint not configured")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "rag-documents"
	}

	// minio.New 不需要协议前缀
	endpoint := strings.TrimPrefix(cfg.Endpoint, "http://")
	endpoint = strings.TrimPrefix(endpoint, "https://")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	archive := NewMinIOArchiveWithClient(client, cfg.Bucket, logger)
	if err := archive.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return archive, nil
}

// NewMinIOArchiveWithClient 使用已有客户端，不检查bucket
func NewMinIOArchiveWithClient(client *minio.Client, bucket string, logger *zap.Logger) *MinIOArchive {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MinIOArchive{client: client, bucket: bucket, logger: logger}
}

// ensureBucket MinIO可能还在启动，检查失败时重试
func (a *MinIOArchive) ensureBucket(ctx context.Context) error {
	var exists bool
	var err error
	for i := 0; i < 5; i++ {
		exists, err = a.client.BucketExists(ctx, a.bucket)
		if err == nil {
			break
		}
		waitTime := time.Second * time.Duration((i+1)*2) // 2s, 4s, 6s...
		a.logger.Warn("MinIO connection attempt failed",
			zap.Int("attempt", i+1),
			zap.Duration("retry_in", waitTime),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("check bucket %s: %w", a.bucket, ctx.Err())
		case <-time.After(waitTime):
		}
	}
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}

	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "BucketAlreadyExists") || strings.Contains(errStr, "BucketAlreadyOwnedByYou") {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
	}
	a.logger.Info("created MinIO bucket", zap.String("bucket", a.bucket))
	return nil
}

func objectKey(documentID string) string {
	return rawTextPrefix + documentID + ".txt"
}

// Put 保存原始文本
func (a *MinIOArchive) Put(ctx context.Context, documentID, filename, text string) error {
	data := []byte(text)
	_, err := a.client.PutObject(ctx, a.bucket, objectKey(documentID), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  "text/plain; charset=utf-8",
		UserMetadata: map[string]string{"filename": url.QueryEscape(filename)},
	})
	if err != nil {
		return fmt.Errorf("archive raw text of %s: %w", documentID, err)
	}
	return nil
}

// Get 读取原始文本
func (a *MinIOArchive) Get(ctx context.Context, documentID string) (string, error) {
	object, err := a.client.GetObject(ctx, a.bucket, objectKey(documentID), minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("read raw text of %s: %w", documentID, err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return "", fmt.Errorf("read raw text of %s: %w", documentID, err)
	}
	return string(data), nil
}

// Delete 删除原始文本
func (a *MinIOArchive) Delete(ctx context.Context, documentID string) error {
	return a.client.RemoveObject(ctx, a.bucket, objectKey(documentID), minio.RemoveObjectOptions{})
}
