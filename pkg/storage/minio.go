// Package storage 提供了文档原始内容的对象存储能力（MinIO 实现）。
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"docvec-go/internal/config"
	"docvec-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore 抽象了文档原始内容的存取。
// 元数据表只保存 object key，内容本体存放在对象存储中，重同步时再读回。
type ObjectStore interface {
	Put(ctx context.Context, objectKey string, content []byte) error
	Get(ctx context.Context, objectKey string) ([]byte, error)
	Remove(ctx context.Context, objectKey string) error
}

// minioStore 是 ObjectStore 的 MinIO 实现。
type minioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewMinioStore(cfg config.MinIOConfig) ObjectStore {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		log.Fatal("初始化 MinIO 客户端失败", err)
	}
	log.Info("MinIO 客户端初始化成功")

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		log.Fatal("检查 MinIO 存储桶失败", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			log.Fatal("创建 MinIO 存储桶失败", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", cfg.BucketName)
	}

	return &minioStore{client: client, bucket: cfg.BucketName}
}

// Put 写入一个对象。
func (s *minioStore) Put(ctx context.Context, objectKey string, content []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, objectKey,
		bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("写入对象 %s 失败: %w", objectKey, err)
	}
	return nil
}

// Get 读取一个对象的全部内容。
func (s *minioStore) Get(ctx context.Context, objectKey string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s 失败: %w", objectKey, err)
	}
	defer object.Close()

	content, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s 内容失败: %w", objectKey, err)
	}
	return content, nil
}

// Remove 删除一个对象。
func (s *minioStore) Remove(ctx context.Context, objectKey string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("删除对象 %s 失败: %w", objectKey, err)
	}
	return nil
}
