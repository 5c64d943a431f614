package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/constants"
)

// DedupRecorder 记录上传文件的 MD5，仅用于标记重复，不拒绝任何上传
type DedupRecorder interface {
	// RecordFileMD5 记录 MD5，返回是否重复以及首次出现时的 submissionID
	RecordFileMD5(ctx context.Context, md5Hex, submissionID string) (duplicate bool, firstSubmissionID string, err error)
}

var _ DedupRecorder = (*Redis)(nil)

// Redis wraps the Redis client
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedis 创建 Redis 客户端并挂载 OpenTelemetry 钩子
func NewRedis(ctx context.Context, cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: time.Duration(cfg.MinRetryBackoffMS) * time.Millisecond,
		MaxRetryBackoff: time.Duration(cfg.MaxRetryBackoffMS) * time.Millisecond,
	})

	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return &Redis{Client: client, config: cfg}, nil
}

// Close closes the Redis client connection
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// GetMD5ExpireDuration 返回配置的MD5记录过期时间
func (r *Redis) GetMD5ExpireDuration() time.Duration {
	if r.config == nil || r.config.MD5RecordExpireDays <= 0 {
		return constants.DefaultMD5ExpireDuration
	}
	return time.Duration(r.config.MD5RecordExpireDays) * 24 * time.Hour
}

// RecordFileMD5 将 MD5 加入去重集合，并在首次出现时记录对应的 submissionID
func (r *Redis) RecordFileMD5(ctx context.Context, md5Hex, submissionID string) (bool, string, error) {
	if r.Client == nil {
		return false, "", fmt.Errorf("redis client is not initialized")
	}

	expire := r.GetMD5ExpireDuration()
	mappingKey := fmt.Sprintf(constants.KeyFileMD5ToSubmissionID, md5Hex)

	pipe := r.Client.TxPipeline()
	added := pipe.SAdd(ctx, constants.KeyFileMD5Set, md5Hex)
	pipe.ExpireNX(ctx, constants.KeyFileMD5Set, expire)
	pipe.SetNX(ctx, mappingKey, submissionID, expire)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, "", fmt.Errorf("记录文件MD5失败: %w", err)
	}

	if added.Val() == 1 {
		return false, submissionID, nil
	}

	first, err := r.Client.Get(ctx, mappingKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return true, "", fmt.Errorf("查询MD5对应的提交失败: %w", err)
	}
	return true, first, nil
}
