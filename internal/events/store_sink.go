package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"resume-pipeline/internal/constants"
	"resume-pipeline/internal/logger"
	"resume-pipeline/internal/storage/models"
)

// EventStore 在同一事务内写入处理日志与出站消息
type EventStore interface {
	SaveProcessingEvent(ctx context.Context, entry *models.ProcessingLog, outbox *models.OutboxMessage) error
}

// StoreSink 将事件写入 processing_logs，并以 CloudEvents 形式写入出站表
type StoreSink struct {
	store    EventStore
	exchange string
}

// NewStoreSink exchange 为空时只写处理日志
func NewStoreSink(store EventStore, exchange string) *StoreSink {
	return &StoreSink{store: store, exchange: exchange}
}

// Emit 实现 Sink
func (s *StoreSink) Emit(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	entry := &models.ProcessingLog{
		SubmissionID: ev.SubmissionID,
		Action:       string(ev.Type),
		Details:      ev.Details,
		Success:      ev.Success,
	}
	if ev.RecordID != "" {
		recordID := ev.RecordID
		entry.CandidateID = &recordID
	}

	var outbox *models.OutboxMessage
	if s.exchange != "" {
		payload, err := ToCloudEvent(ev)
		if err != nil {
			logger.FromContext(ctx).Error().Err(err).Str("event", string(ev.Type)).Msg("构造 CloudEvent 失败")
		} else {
			outbox = &models.OutboxMessage{
				AggregateID:      ev.SubmissionID,
				EventType:        string(ev.Type),
				Payload:          string(payload),
				TargetExchange:   s.exchange,
				TargetRoutingKey: RoutingKey(ev.Type),
				Status:           models.OutboxStatusPending,
			}
		}
	}

	// 终态写入不受调用方取消影响
	if err := s.store.SaveProcessingEvent(context.WithoutCancel(ctx), entry, outbox); err != nil {
		logger.FromContext(ctx).Error().Err(err).
			Str("event", string(ev.Type)).
			Str("submission_id", ev.SubmissionID).
			Msg("写入处理事件失败")
	}
}

// RoutingKey 事件的路由键，例如 resume.processing.processing_completed
func RoutingKey(t Type) string {
	return constants.EventRoutingKeyPrefix + strings.ToLower(string(t))
}

// ToCloudEvent 将事件编码为 CloudEvents JSON
func ToCloudEvent(ev Event) ([]byte, error) {
	ce := cloudevents.NewEvent()
	ce.SetID(uuid.NewString())
	ce.SetSource(constants.EventSource)
	ce.SetType(RoutingKey(ev.Type))
	ce.SetSubject(ev.SubmissionID)
	ce.SetTime(ev.At)
	if err := ce.SetData(cloudevents.ApplicationJSON, ev); err != nil {
		return nil, fmt.Errorf("设置事件数据失败: %w", err)
	}
	if err := ce.Validate(); err != nil {
		return nil, fmt.Errorf("事件校验失败: %w", err)
	}
	return json.Marshal(ce)
}
