// Package outbox 实现发件箱模式：处理事件与业务数据同事务落库，由中继异步投递到 RabbitMQ。
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/logger"
	"resume-pipeline/internal/storage"
	"resume-pipeline/internal/storage/models"
	"resume-pipeline/internal/tracing"
)

const (
	defaultPollingInterval = 5 * time.Second
	defaultBatchSize       = 10
	defaultMaxRetries      = 5

	cloudEventsContentType = "application/cloudevents+json"
)

// MessageRelay 轮询 outbox 表并将消息发布到消息代理
type MessageRelay struct {
	db              *gorm.DB
	publisher       storage.MessagePublisher
	pollingInterval time.Duration
	batchSize       int
	maxRetries      int
	tracer          trace.Tracer

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMessageRelay 创建中继，cfg 为 nil 时使用默认值
func NewMessageRelay(db *gorm.DB, publisher storage.MessagePublisher, cfg *config.OutboxConfig) *MessageRelay {
	r := &MessageRelay{
		db:              db,
		publisher:       publisher,
		pollingInterval: defaultPollingInterval,
		batchSize:       defaultBatchSize,
		maxRetries:      defaultMaxRetries,
		tracer:          otel.Tracer("outbox-relay"),
	}
	if cfg != nil {
		r.pollingInterval = config.GetDuration(cfg.PollingInterval, defaultPollingInterval)
		if cfg.BatchSize > 0 {
			r.batchSize = cfg.BatchSize
		}
		if cfg.MaxRetries > 0 {
			r.maxRetries = cfg.MaxRetries
		}
	}
	return r
}

// Start 在后台开始轮询，多实例部署时轮询间隔带抖动
func (r *MessageRelay) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	ticker := jitterbug.New(r.pollingInterval, &jitterbug.Norm{Stdev: r.pollingInterval / 10})

	logger.Info().Dur("interval", r.pollingInterval).Int("batch_size", r.batchSize).Msg("MessageRelay 启动")

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logger.Info().Msg("MessageRelay 已停止")
				return
			case <-ticker.C:
				if _, err := r.processPendingMessages(ctx); err != nil && ctx.Err() == nil {
					logger.Error().Err(err).Msg("处理待发布消息失败")
				}
			}
		}
	}()
}

// Stop 停止轮询并等待当前批次结束
func (r *MessageRelay) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.wg.Wait()
}

// processPendingMessages 取一批待发布消息并投递，返回本批处理的条数
func (r *MessageRelay) processPendingMessages(ctx context.Context) (int, error) {
	var messages []models.OutboxMessage

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return 0, tx.Error
	}
	defer tx.Rollback()

	// SKIP LOCKED 让多个中继实例互不阻塞
	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", models.OutboxStatusPending).
		Order("created_at asc").
		Limit(r.batchSize).
		Find(&messages).Error
	if err != nil {
		return 0, err
	}

	// 空轮询不创建 span
	if len(messages) == 0 {
		return 0, tx.Commit().Error
	}

	ctx, span := r.tracer.Start(ctx, "outbox.ProcessBatch",
		trace.WithAttributes(attribute.Int("messaging.batch.message_count", len(messages))),
	)
	defer span.End()

	logger.Debug().Int("count", len(messages)).Msg("获取到待发布消息")

	for i := range messages {
		msg := &messages[i]
		err := r.publisher.PublishMessage(ctx, msg.TargetExchange, msg.TargetRoutingKey, []byte(msg.Payload), cloudEventsContentType)
		if err != nil {
			tracing.RecordErrorWithInfo(span, err, tracing.ErrorTypeRabbitMQ,
				attribute.String("messaging.destination", msg.TargetExchange))
			msg.RetryCount++
			msg.ErrorMessage = err.Error()
			if msg.RetryCount >= r.maxRetries {
				msg.Status = models.OutboxStatusFailed
			}
			logger.Warn().Err(err).
				Uint64("message_id", msg.ID).
				Str("aggregate_id", msg.AggregateID).
				Int("retries", msg.RetryCount).
				Msg("发布出站消息失败")
		} else {
			now := time.Now()
			msg.Status = models.OutboxStatusSent
			msg.ProcessedAt = &now
			msg.ErrorMessage = ""
		}

		if err := tx.Save(msg).Error; err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeDB)
			// 整批回滚，下次轮询重新拾取
			return 0, err
		}
	}

	return len(messages), tx.Commit().Error
}
