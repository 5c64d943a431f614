package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/minio/minio-go/v7/pkg/lifecycle"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/logger"
)

// BlobStore 原始简历文件的对象存储
type BlobStore interface {
	// UploadDocument 流式上传文件并计算 MD5，返回文档引用
	UploadDocument(ctx context.Context, objectID, filename string, reader io.Reader, size int64) (ref string, md5Hex string, err error)
	// Download 按文档引用下载文件内容
	Download(ctx context.Context, ref string) ([]byte, error)
}

var _ BlobStore = (*MinIO)(nil)

// MinIO 提供对象存储功能
type MinIO struct {
	client *minio.Client
	cfg    *config.MinIOConfig
	bucket string
}

// NewMinIO 创建MinIO客户端并确保存储桶存在
func NewMinIO(ctx context.Context, cfg *config.MinIOConfig) (*MinIO, error) {
	if cfg == nil {
		return nil, fmt.Errorf("MinIO配置不能为空")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("创建MinIO客户端失败: %w", err)
	}

	m := &MinIO{client: client, cfg: cfg, bucket: cfg.BucketName}

	if err := m.ensureBucketExists(ctx); err != nil {
		return nil, err
	}
	if cfg.OriginalFileExpireDays > 0 {
		if err := m.setupBucketLifecycle(ctx, "expire-originals", cfg.OriginalFileExpireDays); err != nil {
			logger.Warn().Err(err).Str("bucket", m.bucket).Msg("设置存储桶生命周期失败")
		}
	}

	logger.Info().Str("endpoint", cfg.Endpoint).Str("bucket", m.bucket).Msg("MinIO客户端初始化成功")
	return m, nil
}

// ensureBucketExists 确保存储桶存在
func (m *MinIO) ensureBucketExists(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶 %s 是否存在时出错: %w", m.bucket, err)
	}
	if exists {
		return nil
	}
	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{Region: m.cfg.Location}); err != nil {
		return fmt.Errorf("创建存储桶 %s 失败: %w", m.bucket, err)
	}
	logger.Info().Str("bucket", m.bucket).Msg("存储桶已创建")
	return nil
}

// setupBucketLifecycle 为存储桶设置过期规则
func (m *MinIO) setupBucketLifecycle(ctx context.Context, ruleID string, expiryDays int) error {
	cfg := lifecycle.NewConfiguration()
	cfg.Rules = []lifecycle.Rule{
		{
			ID:     ruleID,
			Status: "Enabled",
			Expiration: lifecycle.Expiration{
				Days: lifecycle.ExpirationDays(expiryDays),
			},
		},
	}
	return m.client.SetBucketLifecycle(ctx, m.bucket, cfg)
}

// UploadDocument 上传原始简历，对象键为 resume/<objectID>/original<ext>
func (m *MinIO) UploadDocument(ctx context.Context, objectID, filename string, reader io.Reader, size int64) (string, string, error) {
	ext := strings.ToLower(path.Ext(filename))
	objectName := fmt.Sprintf("resume/%s/original%s", objectID, ext)

	md5Hash := md5.New()
	teeReader := io.TeeReader(reader, md5Hash)

	info, err := m.client.PutObject(ctx, m.bucket, objectName, teeReader, size,
		minio.PutObjectOptions{ContentType: ContentTypeForExt(ext)})
	if err != nil {
		return "", "", fmt.Errorf("上传对象 %s/%s 失败: %w", m.bucket, objectName, err)
	}

	md5Hex := hex.EncodeToString(md5Hash.Sum(nil))
	logger.FromContext(ctx).Debug().
		Str("object", objectName).
		Int64("size", info.Size).
		Str("md5", md5Hex).
		Msg("简历文件上传完成")
	return objectName, md5Hex, nil
}

// Download 下载对象，ref 可以带 "<bucket>/" 前缀
func (m *MinIO) Download(ctx context.Context, ref string) ([]byte, error) {
	bucketName, objectName := m.splitRef(ref)

	obj, err := m.client.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("获取对象 %s/%s 失败: %w", bucketName, objectName, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("读取对象 %s/%s 数据失败: %w", bucketName, objectName, err)
	}
	return data, nil
}

func (m *MinIO) splitRef(ref string) (string, string) {
	ref = strings.TrimPrefix(ref, "/")
	if parts := strings.SplitN(ref, "/", 2); len(parts) == 2 && parts[0] == m.bucket {
		return parts[0], parts[1]
	}
	return m.bucket, ref
}

// ContentTypeForExt 根据扩展名返回 MIME 类型
func ContentTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".pdf":
		return "application/pdf"
	case ".txt", ".md":
		return "text/plain"
	case ".csv":
		return "text/csv"
	case ".html", ".htm":
		return "text/html"
	default:
		return "application/octet-stream"
	}
}
