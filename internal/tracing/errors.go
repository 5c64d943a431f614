package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorType 定义错误类型，便于在链路中分类和过滤
type ErrorType string

const (
	// ErrorTypeHTTP HTTP错误
	ErrorTypeHTTP ErrorType = "http"
	// ErrorTypeDB 数据库错误
	ErrorTypeDB ErrorType = "db"
	// ErrorTypeRedis Redis错误
	ErrorTypeRedis ErrorType = "redis"
	// ErrorTypeRabbitMQ RabbitMQ错误
	ErrorTypeRabbitMQ ErrorType = "rabbitmq"
	// ErrorTypeBlob 对象存储错误
	ErrorTypeBlob ErrorType = "blob"
	// ErrorTypeExtraction 文本提取错误
	ErrorTypeExtraction ErrorType = "extraction"
	// ErrorTypeProvider 结构化解析供应商错误
	ErrorTypeProvider ErrorType = "provider"
	// ErrorTypeValidation 验证错误
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeInternal 内部错误
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeTimeout 超时错误
	ErrorTypeTimeout ErrorType = "timeout"
)

// RecordError 记录错误，添加统一的错误类型和详情
func RecordError(span trace.Span, err error, errorType ErrorType) {
	RecordErrorWithInfo(span, err, errorType)
}

// RecordErrorWithInfo 记录错误并添加额外信息
func RecordErrorWithInfo(span trace.Span, err error, errorType ErrorType, attributes ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}

	span.RecordError(err)
	span.SetAttributes(
		attribute.String("error.type", string(errorType)),
		attribute.String("error.message", TruncateString(err.Error(), DefaultMaxLength)),
	)
	if len(attributes) > 0 {
		span.SetAttributes(attributes...)
	}

	span.SetStatus(codes.Error, err.Error())
}

// RecordHTTPError 专门记录HTTP错误，按状态码区分客户端/服务端错误
func RecordHTTPError(span trace.Span, err error, statusCode int) {
	if span == nil || err == nil {
		return
	}

	var errorCategory string
	switch {
	case statusCode >= 400 && statusCode < 500:
		errorCategory = "client_error"
	case statusCode >= 500:
		errorCategory = "server_error"
	default:
		errorCategory = "unknown"
	}

	RecordErrorWithInfo(span, err, ErrorTypeHTTP,
		attribute.Int("http.status_code", statusCode),
		attribute.String("error.category", errorCategory),
	)
}
