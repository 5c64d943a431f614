package parser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"resume-pipeline/internal/llm"
)

// ErrorKind 供应商错误的分类
type ErrorKind string

const (
	// KindTransient 可重试：超时、限流、5xx
	KindTransient ErrorKind = "transient"
	// KindPermanent 不可重试：认证失败、响应格式错误
	KindPermanent ErrorKind = "permanent"
)

var (
	// ErrNoProviderAvailable 没有配置任何可用的供应商
	ErrNoProviderAvailable = errors.New("没有可用的结构化解析供应商")
	// ErrAllProvidersFailed 所有供应商均已尝试且失败
	ErrAllProvidersFailed = errors.New("所有结构化解析供应商均失败")
	// ErrMalformedResponse 供应商响应无法清洗为合法的结构化数据
	ErrMalformedResponse = errors.New("供应商响应格式错误")
	// ErrResponseTruncated 供应商输出达到 token 上限被截断
	ErrResponseTruncated = errors.New("供应商响应被截断")
)

// ProviderError 单次供应商调用的失败
type ProviderError struct {
	Provider   string
	Model      string
	Kind       ErrorKind
	StatusCode int // HTTP 状态码，非 HTTP 错误时为 0
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("供应商 %s:%s 调用失败(%s): %v", e.Provider, e.Model, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Transient 是否可重试
func (e *ProviderError) Transient() bool {
	return e.Kind == KindTransient
}

// AttemptOutcome 单次尝试的结果
type AttemptOutcome string

const (
	OutcomeSuccess   AttemptOutcome = "success"
	OutcomeRetryable AttemptOutcome = "retryable_failure"
	OutcomeFatal     AttemptOutcome = "non_retryable_failure"
)

// ProviderAttempt 一次针对某个供应商的尝试，仅在解析过程中使用，不持久化
type ProviderAttempt struct {
	ProviderID string
	Attempt    int
	Outcome    AttemptOutcome
	Elapsed    time.Duration
	Err        error
}

// AllProvidersFailedError 携带每次尝试的明细，errors.Is(err, ErrAllProvidersFailed) 为 true
type AllProvidersFailedError struct {
	Attempts []ProviderAttempt
}

func (e *AllProvidersFailedError) Error() string {
	var sb strings.Builder
	sb.WriteString(ErrAllProvidersFailed.Error())
	lastByProvider := make(map[string]ProviderAttempt)
	var order []string
	for _, a := range e.Attempts {
		if _, ok := lastByProvider[a.ProviderID]; !ok {
			order = append(order, a.ProviderID)
		}
		lastByProvider[a.ProviderID] = a
	}
	for _, id := range order {
		a := lastByProvider[id]
		fmt.Fprintf(&sb, "; %s 尝试 %d 次: %v", id, a.Attempt, a.Err)
	}
	return sb.String()
}

func (e *AllProvidersFailedError) Is(target error) bool {
	return target == ErrAllProvidersFailed
}

// newProviderError 根据底层错误构造 ProviderError，kind 为空时自动分类
func newProviderError(p Provider, kind ErrorKind, err error) *ProviderError {
	if kind == "" {
		kind = ClassifyError(err)
	}
	pe := &ProviderError{Provider: p.Name, Model: p.Model, Kind: kind, Err: err}
	var statusErr *llm.HTTPStatusError
	if errors.As(err, &statusErr) {
		pe.StatusCode = statusErr.StatusCode
	}
	return pe
}

// ClassifyError 判断错误是否可重试
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindPermanent
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	if errors.Is(err, context.Canceled) {
		return KindPermanent
	}

	var statusErr *llm.HTTPStatusError
	if errors.As(err, &statusErr) {
		switch code := statusErr.StatusCode; {
		case code == http.StatusRequestTimeout, code == http.StatusTooEarly, code == http.StatusTooManyRequests:
			return KindTransient
		case code >= 500:
			return KindTransient
		default:
			return KindPermanent
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
			return KindTransient
		case codes.Unauthenticated, codes.PermissionDenied, codes.InvalidArgument, codes.NotFound:
			return KindPermanent
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout",
		"deadline exceeded",
		"connection reset",
		"connection refused",
		"eof",
		"rate limit",
		"no such host",
		"temporarily unavailable",
	} {
		if strings.Contains(errStr, marker) {
			return KindTransient
		}
	}
	return KindPermanent
}
