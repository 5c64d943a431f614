package processor

import (
	"context"
	"encoding/json"

	"resume-pipeline/internal/events"
	"resume-pipeline/internal/parser"
	"resume-pipeline/internal/storage/models"
	"resume-pipeline/internal/types"
)

// Extractor 文本提取网关接口，extractor.Gateway 实现该接口
type Extractor interface {
	Extract(ctx context.Context, documentRef string) (string, error)
}

// StructuredParser 结构化解析接口，parser.StructuredParser 实现该接口
type StructuredParser interface {
	Parse(ctx context.Context, text string) (*parser.Result, error)
}

// SubmissionStore 持久化适配器接口，storage.SubmissionRepository 实现该接口
type SubmissionStore interface {
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
	UpdateSubmissionStatus(ctx context.Context, id string, to types.SubmissionStatus, detail string) error
	CreateStructuredRecord(ctx context.Context, submissionID string, payload *types.CandidatePayload, raw json.RawMessage) (string, error)
	LinkSubmission(ctx context.Context, id, recordID string, confidence float64, providerID string) error
}

// EventSink 可观测事件接收端
type EventSink = events.Sink
