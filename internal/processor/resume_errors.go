package processor

import (
	"errors"
	"fmt"

	"resume-pipeline/internal/extractor"
	"resume-pipeline/internal/storage"
)

// 定义基础错误类型
var (
	ErrExtractionFailed  = errors.New("提取简历文本失败")
	ErrInsufficientText  = errors.New("简历文本过短")
	ErrUnsupportedFormat = extractor.ErrUnsupportedFormat
	ErrParseFailed       = errors.New("结构化解析失败")
	ErrPersistenceFailed = errors.New("持久化失败")
	ErrUnexpected        = errors.New("处理过程中出现未预期错误")

	ErrInvalidTransition  = storage.ErrInvalidTransition
	ErrSubmissionNotFound = storage.ErrSubmissionNotFound
)

// PipelineError 包含详细错误信息的自定义错误
type PipelineError struct {
	SubmissionID string
	Op           string
	BaseErr      error
	Detail       string
	cause        error
}

func (e *PipelineError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, ID:%s): %s", e.BaseErr, e.Op, e.SubmissionID, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, ID:%s)", e.BaseErr, e.Op, e.SubmissionID)
}

// Unwrap 同时暴露基础错误和底层原因
func (e *PipelineError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.BaseErr}
	}
	return []error{e.BaseErr, e.cause}
}

func newPipelineError(id, op string, base, cause error, detail string) *PipelineError {
	if detail == "" && cause != nil {
		detail = cause.Error()
	}
	return &PipelineError{SubmissionID: id, Op: op, BaseErr: base, Detail: detail, cause: cause}
}

// 错误构造函数

func NewExtractionError(id string, cause error) error {
	base := ErrExtractionFailed
	if errors.Is(cause, ErrUnsupportedFormat) {
		base = ErrUnsupportedFormat
	}
	return newPipelineError(id, "extract", base, cause, "")
}

func NewInsufficientTextError(id string, got, min int) error {
	return newPipelineError(id, "extract", ErrInsufficientText, nil, fmt.Sprintf("提取到 %d 个字符，至少需要 %d 个", got, min))
}

func NewParseError(id string, cause error) error {
	return newPipelineError(id, "parse", ErrParseFailed, cause, "")
}

func NewPersistenceError(id, op string, cause error) error {
	return newPipelineError(id, op, ErrPersistenceFailed, cause, "")
}

func NewPanicError(id string, recovered any) error {
	return newPipelineError(id, "panic", ErrUnexpected, nil, fmt.Sprint(recovered))
}
