package extractor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// TikaExtensions Tika 后端默认负责的办公文档格式
var TikaExtensions = []string{".docx", ".doc", ".rtf", ".odt"}

// TikaBackend 基于 Apache Tika Server 的文本提取，用于 PDF 以外的办公文档
type TikaBackend struct {
	serverURL string
	client    *http.Client
}

// TikaOption Tika 后端配置选项
type TikaOption func(*TikaBackend)

// WithTikaTimeout 设置单次请求超时
func WithTikaTimeout(timeout time.Duration) TikaOption {
	return func(b *TikaBackend) {
		if timeout > 0 {
			b.client.Timeout = timeout
		}
	}
}

// NewTikaBackend serverURL 例如 http://localhost:9998
func NewTikaBackend(serverURL string, opts ...TikaOption) *TikaBackend {
	b := &TikaBackend{
		serverURL: strings.TrimRight(serverURL, "/"),
		client: &http.Client{
			Timeout:   60 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ExtractText 以纯文本模式调用 PUT /tika
func (b *TikaBackend) ExtractText(ctx context.Context, data []byte, uri string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.serverURL+"/tika", bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("创建HTTP请求失败: %w", err)
	}

	contentType := mime.TypeByExtension(path.Ext(uri))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "text/plain")
	if uri != "" {
		req.Header.Set("X-Tika-Resource-Name", path.Base(uri))
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("发送请求到Tika服务器失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tika服务器返回错误状态码: %d", resp.StatusCode)
	}

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("读取Tika响应失败: %w", err)
	}
	return string(text), nil
}
