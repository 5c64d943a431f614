package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"resume-pipeline/internal/logger"
)

// ErrStreamNotSupported 流式输出未实现
var ErrStreamNotSupported = errors.New("该模型客户端不支持流式输出")

// FinishReasonLength 输出达到 max_tokens 上限，各厂商的截断原因统一映射为该值
const FinishReasonLength = "length"

// HTTPStatusError 供应商返回了非 2xx 状态码
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("API 请求失败，状态 %d: %s", e.StatusCode, e.Body)
}

// OpenAICompatibleChatModel 实现 model.ToolCallingChatModel，
// 适用于 OpenAI 以及 Groq 等兼容 /chat/completions 协议的供应商。
type OpenAICompatibleChatModel struct {
	apiKey      string
	modelName   string
	apiURL      string
	temperature *float32
	maxTokens   *int
	jsonMode    bool
	httpClient  *http.Client
}

// OpenAIOption 模型客户端的配置选项
type OpenAIOption func(*OpenAICompatibleChatModel)

// WithTemperature 设置默认温度
func WithTemperature(t float32) OpenAIOption {
	return func(m *OpenAICompatibleChatModel) {
		m.temperature = &t
	}
}

// WithMaxTokens 设置默认最大输出 token 数
func WithMaxTokens(n int) OpenAIOption {
	return func(m *OpenAICompatibleChatModel) {
		if n > 0 {
			m.maxTokens = &n
		}
	}
}

// WithJSONMode 要求供应商返回 JSON 对象
func WithJSONMode(enabled bool) OpenAIOption {
	return func(m *OpenAICompatibleChatModel) {
		m.jsonMode = enabled
	}
}

// WithHTTPClient 替换底层 HTTP 客户端
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(m *OpenAICompatibleChatModel) {
		if c != nil {
			m.httpClient = c
		}
	}
}

// NewOpenAICompatibleChatModel 创建一个新的兼容 OpenAI 协议的模型客户端
func NewOpenAICompatibleChatModel(apiKey, modelName, apiURL string, opts ...OpenAIOption) (*OpenAICompatibleChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(apiURL) == "" {
		return nil, fmt.Errorf("API 地址不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		return nil, fmt.Errorf("模型名称不能为空")
	}

	m := &OpenAICompatibleChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    *float32          `json:"temperature,omitempty"`
	MaxTokens      *int              `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

// Generate 实现 model.ChatModel 接口
// model.WithModel 可在单次调用中覆盖默认模型
func (m *OpenAICompatibleChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	common := model.GetCommonOptions(&model.Options{
		Model:       &m.modelName,
		Temperature: m.temperature,
		MaxTokens:   m.maxTokens,
	}, options...)

	reqPayload := chatCompletionRequest{
		Model:       *common.Model,
		Messages:    make([]chatMessage, 0, len(messages)),
		Temperature: common.Temperature,
		MaxTokens:   common.MaxTokens,
	}
	for _, msg := range messages {
		reqPayload.Messages = append(reqPayload.Messages, chatMessage{Role: string(msg.Role), Content: msg.Content})
	}
	if m.jsonMode {
		reqPayload.ResponseFormat = map[string]string{"type": "json_object"}
	}

	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, &HTTPStatusError{StatusCode: httpResp.StatusCode, Body: truncateBody(bodyBytes)}
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(bodyBytes, &resp); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("从 API 收到空选项: %s", truncateBody(bodyBytes))
	}

	choice := resp.Choices[0]
	content := ""
	if choice.Message.Content != nil {
		content = *choice.Message.Content
	}

	out := &schema.Message{
		Role:    schema.Assistant,
		Content: content,
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: choice.FinishReason,
		},
	}
	if resp.Usage != nil {
		out.ResponseMeta.Usage = &schema.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
		logger.FromContext(ctx).Debug().
			Str("model", reqPayload.Model).
			Int("prompt_tokens", resp.Usage.PromptTokens).
			Int("completion_tokens", resp.Usage.CompletionTokens).
			Msg("LLM 调用用量")
	}
	return out, nil
}

// Stream 流式输出未实现，解析流程只使用 Generate
func (m *OpenAICompatibleChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, ErrStreamNotSupported
}

// WithTools 结构化解析不使用工具调用，返回自身
func (m *OpenAICompatibleChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
