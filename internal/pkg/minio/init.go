package minio

import (
	"Parley/internal/api/config"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	// Client 全局 MinIO 客户端实例
	Client *minio.Client
	// Bucket 附件存储桶
	Bucket string

	urlExpires time.Duration
)

// Init 初始化 MinIO 客户端
func Init() error {
	cfg := config.Cfg.MinIO

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize minio client: %w", err)
	}

	ctx := context.Background()
	if _, err = client.ListBuckets(ctx); err != nil {
		return fmt.Errorf("failed to connect to minio server: %w", err)
	}

	Client = client
	Bucket = cfg.Bucket

	expires := cfg.URLExpires
	if expires <= 0 {
		expires = 3600
	}
	urlExpires = time.Duration(expires) * time.Second
	return nil
}

// PresignURL 为附件对象签发临时下载地址
func PresignURL(ctx context.Context, objectKey string) (string, error) {
	if Client == nil || objectKey == "" {
		return "", nil
	}
	u, err := Client.PresignedGetObject(ctx, Bucket, objectKey, urlExpires, url.Values{})
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// PresignPutURL 为客户端直传签发上传地址
func PresignPutURL(ctx context.Context, objectKey string) (string, error) {
	if Client == nil || objectKey == "" {
		return "", nil
	}
	u, err := Client.PresignedPutObject(ctx, Bucket, objectKey, urlExpires)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

// ObjectKeyFor 为直传生成对象键，按月份分目录并保留扩展名
func ObjectKeyFor(fileName string) string {
	return fmt.Sprintf("im/%s/%s%s", time.Now().Format("200601"), uuid.NewString(), strings.ToLower(path.Ext(fileName)))
}
