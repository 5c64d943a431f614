// Package extractor 从对象存储中的原始文档提取纯文本。
package extractor

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"resume-pipeline/internal/logger"
	"resume-pipeline/internal/tracing"
)

var (
	// ErrUnsupportedFormat 扩展名没有对应的提取后端
	ErrUnsupportedFormat = errors.New("不支持的文档格式")
	// ErrUnreadableDocument 文档无法下载或解析
	ErrUnreadableDocument = errors.New("文档不可读")
)

// ExtractionError 带文档引用的提取失败
type ExtractionError struct {
	Ref string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("提取文档 %s 失败: %v", e.Ref, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Downloader 按文档引用读取原始字节，storage.MinIO 实现该接口
type Downloader interface {
	Download(ctx context.Context, ref string) ([]byte, error)
}

// Backend 将一种格式的字节内容转为文本
type Backend interface {
	ExtractText(ctx context.Context, data []byte, uri string) (string, error)
}

// Gateway 按扩展名分派到具体后端
type Gateway struct {
	blobs    Downloader
	backends map[string]Backend
}

// Option Gateway 配置项
type Option func(*Gateway)

// WithBackend 为一组扩展名注册后端，扩展名需带点，例如 ".docx"
func WithBackend(b Backend, exts ...string) Option {
	return func(g *Gateway) {
		for _, ext := range exts {
			g.backends[strings.ToLower(ext)] = b
		}
	}
}

// NewGateway 创建提取网关，默认注册 PDF、纯文本和 HTML 后端
func NewGateway(ctx context.Context, blobs Downloader, opts ...Option) (*Gateway, error) {
	pdfBackend, err := NewPDFBackend(ctx)
	if err != nil {
		return nil, err
	}

	g := &Gateway{
		blobs:    blobs,
		backends: make(map[string]Backend),
	}
	WithBackend(pdfBackend, ".pdf")(g)
	WithBackend(TextBackend{}, ".txt", ".md", ".csv")(g)
	WithBackend(HTMLBackend{}, ".html", ".htm")(g)

	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Extract 下载文档并提取文本
func (g *Gateway) Extract(ctx context.Context, ref string) (string, error) {
	ctx, span := otel.Tracer("resume-pipeline/extractor").Start(ctx, "extractor.Extract")
	defer span.End()

	ext := strings.ToLower(path.Ext(ref))
	span.SetAttributes(attribute.String("document.ref", ref), attribute.String("document.ext", ext))

	backend, ok := g.backends[ext]
	if !ok {
		err := &ExtractionError{Ref: ref, Err: fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)}
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return "", err
	}

	if g.blobs == nil {
		err := &ExtractionError{Ref: ref, Err: fmt.Errorf("%w: 对象存储未配置", ErrUnreadableDocument)}
		tracing.RecordError(span, err, tracing.ErrorTypeBlob)
		return "", err
	}

	start := time.Now()
	data, err := g.blobs.Download(ctx, ref)
	if err != nil {
		err = &ExtractionError{Ref: ref, Err: fmt.Errorf("%w: %v", ErrUnreadableDocument, err)}
		tracing.RecordError(span, err, tracing.ErrorTypeBlob)
		return "", err
	}

	text, err := backend.ExtractText(ctx, data, ref)
	if err != nil {
		err = &ExtractionError{Ref: ref, Err: fmt.Errorf("%w: %v", ErrUnreadableDocument, err)}
		tracing.RecordError(span, err, tracing.ErrorTypeExtraction)
		return "", err
	}

	span.SetAttributes(attribute.Int("document.text_length", len(text)))
	logger.FromContext(ctx).Debug().
		Str("ref", ref).
		Int("bytes", len(data)).
		Int("chars", len(text)).
		Dur("elapsed", time.Since(start)).
		Msg("文档文本提取完成")
	return text, nil
}
