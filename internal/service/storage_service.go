package service

import (
	"bytes"
	"context"
	"elevenplus_backend/internal/config"
	"elevenplus_backend/internal/util"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// StorageProvider 归档文件的落地位置
type StorageProvider interface {
	Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, objectName string) error
}

// LocalStorageProvider 写到本地目录，开发环境使用
type LocalStorageProvider struct {
	Root string
}

func (p *LocalStorageProvider) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	dst := filepath.Join(p.Root, objectName)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return "", err
	}

	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, reader); err != nil {
		return "", err
	}
	return dst, nil
}

func (p *LocalStorageProvider) Delete(ctx context.Context, objectName string) error {
	return os.Remove(filepath.Join(p.Root, objectName))
}

// MinioStorageProvider MinIO / S3 兼容存储
type MinioStorageProvider struct {
	Bucket string
	Client *minio.Client
}

func NewMinioStorageProvider(cfg *config.StorageConfig) (*MinioStorageProvider, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessID, cfg.MinioSecret, ""),
		Secure: cfg.MinioUseSSL,
	})
	if err != nil {
		return nil, err
	}
	return &MinioStorageProvider{Bucket: cfg.MinioBucket, Client: client}, nil
}

func (p *MinioStorageProvider) Upload(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (string, error) {
	_, err := p.Client.PutObject(ctx, p.Bucket, objectName, reader, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	return "/" + p.Bucket + "/" + objectName, nil
}

func (p *MinioStorageProvider) Delete(ctx context.Context, objectName string) error {
	return p.Client.RemoveObject(ctx, p.Bucket, objectName, minio.RemoveObjectOptions{})
}

// StorageService 队列清理前把已完成的记录归档成 JSON Lines
type StorageService struct {
	Provider StorageProvider
}

func NewStorageService(cfg *config.StorageConfig) (*StorageService, error) {
	switch cfg.Type {
	case util.StorageMinio:
		p, err := NewMinioStorageProvider(cfg)
		if err != nil {
			return nil, err
		}
		return &StorageService{Provider: p}, nil
	case "", util.StorageLocal:
		return &StorageService{Provider: &LocalStorageProvider{Root: cfg.LocalPath}}, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %q", cfg.Type)
	}
}

// ArchiveJSONLines 每条记录一行 JSON，对象名形如 prefix/2006-01-02/<uuid>.jsonl，返回对象名与存储位置
func ArchiveJSONLines[T any](ctx context.Context, s *StorageService, prefix string, rows []T) (object, location string, err error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return "", "", err
		}
	}

	object = fmt.Sprintf("%s/%s/%s.jsonl", prefix, time.Now().Format(util.DateFormat), uuid.NewString())
	location, err = s.Provider.Upload(ctx, object, &buf, int64(buf.Len()), "application/x-ndjson")
	return object, location, err
}
