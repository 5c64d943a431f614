package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
)

const pdfParseTimeout = 30 * time.Second

// PDFBackend 使用 Eino PDF Parser 提取整份文档文本
type PDFBackend struct {
	parser *pdf.PDFParser
}

// NewPDFBackend 不按页拆分，得到整份 PDF 的连续文本
func NewPDFBackend(ctx context.Context) (*PDFBackend, error) {
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{ToPages: false})
	if err != nil {
		return nil, fmt.Errorf("创建 Eino PDF 解析器失败: %w", err)
	}
	return &PDFBackend{parser: p}, nil
}

// ExtractText 实现 Backend
func (b *PDFBackend) ExtractText(ctx context.Context, data []byte, uri string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, pdfParseTimeout)
	defer cancel()

	docs, err := b.parser.Parse(ctx, bytes.NewReader(data), einoParser.WithURI(uri))
	if err != nil {
		return "", fmt.Errorf("eino PDF 解析失败: %w", err)
	}
	if len(docs) == 0 {
		return "", fmt.Errorf("eino PDF 解析无结果")
	}

	var sb strings.Builder
	for i, doc := range docs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(doc.Content)
	}
	return sb.String(), nil
}

// TextBackend 纯文本类文件，要求 UTF-8
type TextBackend struct{}

// ExtractText 实现 Backend
func (TextBackend) ExtractText(_ context.Context, data []byte, _ string) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return "", fmt.Errorf("文本不是有效的 UTF-8")
	}
	return string(data), nil
}

// HTMLBackend 用 goquery 取 body 可见文本，去掉脚本和样式
type HTMLBackend struct{}

// ExtractText 实现 Backend
func (HTMLBackend) ExtractText(_ context.Context, data []byte, _ string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("解析 HTML 失败: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	var lines []string
	doc.Find("body").Each(func(_ int, s *goquery.Selection) {
		for _, line := range strings.Split(s.Text(), "\n") {
			if line = strings.Join(strings.Fields(line), " "); line != "" {
				lines = append(lines, line)
			}
		}
	})
	return strings.Join(lines, "\n"), nil
}
