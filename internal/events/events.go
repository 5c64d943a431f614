package events

import (
	"context"
	"time"
)

// Type 处理事件类型
type Type string

const (
	ProcessingStarted   Type = "PROCESSING_STARTED"
	ProcessingCompleted Type = "PROCESSING_COMPLETED"
	ProcessingFailed    Type = "PROCESSING_FAILED"
	CandidateSaved      Type = "CANDIDATE_SAVED"
)

// Event 一次处理过程中的可观测事件
type Event struct {
	Type         Type      `json:"type"`
	SubmissionID string    `json:"submission_id"`
	RecordID     string    `json:"record_id,omitempty"`
	Details      string    `json:"details,omitempty"`
	Success      bool      `json:"success"`
	At           time.Time `json:"at"`
}

// Sink 事件接收端，Emit 不返回错误，失败只记录日志
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// MultiSink 按顺序扇出到多个 Sink
type MultiSink []Sink

// Emit 实现 Sink
func (m MultiSink) Emit(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// NopSink 丢弃所有事件
type NopSink struct{}

// Emit 实现 Sink
func (NopSink) Emit(context.Context, Event) {}
