package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/logger"
	"resume-pipeline/internal/storage"
)

// IntakeMessage 队列投递的提交消息，文档需已存在于对象存储
type IntakeMessage struct {
	DocumentRef string `json:"document_ref" validate:"required"`
	Filename    string `json:"filename" validate:"required"`
}

// IntakeConsumer 从 RabbitMQ 队列接收提交
type IntakeConsumer struct {
	mq        storage.MessageQueue
	cfg       *config.RabbitMQConfig
	submitter Submitter
	validate  *validator.Validate
}

// NewIntakeConsumer 创建队列提交消费者
func NewIntakeConsumer(mq storage.MessageQueue, cfg *config.RabbitMQConfig, submitter Submitter) *IntakeConsumer {
	return &IntakeConsumer{
		mq:        mq,
		cfg:       cfg,
		submitter: submitter,
		validate:  validator.New(),
	}
}

// Start 声明交换机与队列并启动 IntakeWorkers 个消费者，ctx 取消后退出
func (c *IntakeConsumer) Start(ctx context.Context) error {
	if c.cfg.IntakeQueue == "" {
		return fmt.Errorf("未配置 intake 队列")
	}
	if err := c.mq.EnsureQueue(c.cfg.IntakeQueue, true); err != nil {
		return fmt.Errorf("确保队列存在失败: %w", err)
	}
	if c.cfg.IntakeExchange != "" {
		if err := c.mq.EnsureExchange(c.cfg.IntakeExchange, "direct", true); err != nil {
			return fmt.Errorf("确保交换机存在失败: %w", err)
		}
		if err := c.mq.BindQueue(c.cfg.IntakeQueue, c.cfg.IntakeExchange, c.cfg.IntakeKey); err != nil {
			return fmt.Errorf("绑定队列失败: %w", err)
		}
	}

	workers := c.cfg.IntakeWorkers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		if err := c.mq.StartConsumer(ctx, c.cfg.IntakeQueue, c.cfg.PrefetchCount, c.HandleMessage); err != nil {
			return fmt.Errorf("启动消费者失败: %w", err)
		}
	}
	logger.Info().Str("queue", c.cfg.IntakeQueue).Int("workers", workers).Msg("提交队列消费者就绪")
	return nil
}

// HandleMessage 返回 true 表示确认；格式错误的消息直接丢弃，登记失败则重新入队
func (c *IntakeConsumer) HandleMessage(ctx context.Context, body []byte) bool {
	var msg IntakeMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		logger.Error().Err(err).Msg("解析提交消息失败，丢弃")
		return true
	}
	if err := c.validate.Struct(msg); err != nil {
		logger.Error().Err(err).Str("document_ref", msg.DocumentRef).Msg("提交消息校验失败，丢弃")
		return true
	}

	id, err := c.submitter.Submit(ctx, msg.DocumentRef, msg.Filename)
	if err != nil {
		level := logger.Error()
		if errors.Is(err, context.Canceled) {
			level = logger.Warn()
		}
		level.Err(err).Str("document_ref", msg.DocumentRef).Msg("登记队列提交失败，消息将重新入队")
		return false
	}
	logger.Info().Str("submission_id", id).Str("document_ref", msg.DocumentRef).Msg("已从队列受理提交")
	return true
}
