package models

import "time"

// 出站消息状态
const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxMessage 待异步发布到 RabbitMQ 的事件，Payload 为 CloudEvents JSON
type OutboxMessage struct {
	ID               uint64     `gorm:"primaryKey;autoIncrement"`
	AggregateID      string     `gorm:"type:varchar(36);not null;index"`
	EventType        string     `gorm:"type:varchar(255);not null"`
	Payload          string     `gorm:"type:text;not null"`
	TargetExchange   string     `gorm:"type:varchar(255);not null"`
	TargetRoutingKey string     `gorm:"type:varchar(255);not null"`
	Status           string     `gorm:"type:varchar(20);default:'PENDING';not null;index:idx_outbox_status_created_at"`
	RetryCount       int        `gorm:"default:0"`
	CreatedAt        time.Time  `gorm:"autoCreateTime;index:idx_outbox_status_created_at,sort:asc"`
	ProcessedAt      *time.Time `gorm:"null"`
	ErrorMessage     string     `gorm:"type:text"`
}

func (OutboxMessage) TableName() string {
	return "outbox_messages"
}
