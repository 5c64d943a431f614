package storage

import (
	"context"
	"fmt"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/logger"
)

// Storage 存储管理器，聚合所有存储相关依赖
type Storage struct {
	// 关系型数据库
	Database    *Database
	Submissions *SubmissionRepository

	// 对象存储
	MinIO *MinIO

	// 消息队列，未配置时为 nil
	RabbitMQ *RabbitMQ

	// 上传去重，未配置时为 nil
	Redis *Redis
}

// NewStorage 创建存储管理器；数据库为必需组件，其余组件按配置可选
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}

	s := &Storage{}
	var err error

	s.Database, err = NewDatabase(&cfg.Database)
	if err != nil {
		return nil, err
	}
	s.Submissions = NewSubmissionRepository(s.Database.DB())

	if cfg.MinIO.Endpoint != "" {
		s.MinIO, err = NewMinIO(ctx, &cfg.MinIO)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("初始化MinIO失败: %w", err)
		}
	} else {
		logger.Warn().Msg("MinIO未配置，上传与文本提取不可用")
	}

	if cfg.RabbitMQ.URL != "" {
		s.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化RabbitMQ失败，事件将保留在出站表中")
		}
	}

	if cfg.Redis.Address != "" {
		s.Redis, err = NewRedis(ctx, &cfg.Redis)
		if err != nil {
			logger.Warn().Err(err).Msg("初始化Redis失败，上传去重标记不可用")
		}
	} else {
		logger.Info().Msg("Redis未配置, 跳过初始化")
	}

	return s, nil
}

// Close 关闭所有连接
func (s *Storage) Close() {
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			logger.Error().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			logger.Error().Err(err).Msg("关闭Redis连接失败")
		}
	}
	if s.Database != nil {
		if err := s.Database.Close(); err != nil {
			logger.Error().Err(err).Msg("关闭数据库连接失败")
		}
	}
}
