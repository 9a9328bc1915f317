package storage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/evidence-pipeline/internal/common"
)

// New creates the ObjectStorage selected by cfg.Backend.
func New(ctx context.Context, cfg common.StorageConfig, logger *slog.Logger) (ObjectStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case "", "local":
		s, err := NewLocalStorage(cfg.LocalDir)
		if err != nil {
			return nil, err
		}
		logger.Info("object storage ready", "backend", "local", "dir", cfg.LocalDir)
		return s, nil
	case "minio":
		s, err := NewMinioStorage(MinioConfig{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Region:    cfg.Region,
			Bucket:    cfg.Bucket,
		})
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		logger.Info("object storage ready", "backend", "minio", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
		return s, nil
	case "s3":
		s, err := NewS3Storage(ctx, S3Config{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			UseSSL:    cfg.UseSSL,
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("object storage ready", "backend", "s3", "region", cfg.Region, "bucket", cfg.Bucket)
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
