package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiChatModel 通过 Google Gemini 实现 model.ToolCallingChatModel
type GeminiChatModel struct {
	client      *genai.Client
	modelName   string
	temperature *float32
	maxTokens   *int
}

// NewGeminiChatModel 创建 Gemini 模型客户端，JSON 输出模式始终开启
func NewGeminiChatModel(ctx context.Context, apiKey, modelName string, temperature float32, maxTokens int) (*GeminiChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		return nil, fmt.Errorf("模型名称不能为空")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("创建 Gemini 客户端失败: %w", err)
	}

	m := &GeminiChatModel{client: client, modelName: modelName, temperature: &temperature}
	if maxTokens > 0 {
		m.maxTokens = &maxTokens
	}
	return m, nil
}

// Generate 实现 model.ChatModel 接口，system 消息映射为 SystemInstruction
func (g *GeminiChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	common := model.GetCommonOptions(&model.Options{
		Model:       &g.modelName,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	}, options...)

	gm := g.client.GenerativeModel(*common.Model)
	if common.Temperature != nil {
		gm.SetTemperature(*common.Temperature)
	}
	if common.MaxTokens != nil {
		gm.SetMaxOutputTokens(int32(*common.MaxTokens))
	}
	gm.ResponseMIMEType = "application/json"

	var parts []genai.Part
	var system []string
	for _, msg := range messages {
		if msg.Role == schema.System {
			system = append(system, msg.Content)
			continue
		}
		parts = append(parts, genai.Text(msg.Content))
	}
	if len(system) > 0 {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("没有可发送的用户消息")
	}

	resp, err := gm.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("Gemini 生成失败: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("Gemini 响应中没有候选结果")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}

	out := &schema.Message{
		Role:         schema.Assistant,
		Content:      sb.String(),
		ResponseMeta: &schema.ResponseMeta{FinishReason: geminiFinishReason(resp.Candidates[0].FinishReason)},
	}
	if resp.UsageMetadata != nil {
		out.ResponseMeta.Usage = &schema.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

func geminiFinishReason(r genai.FinishReason) string {
	switch r {
	case genai.FinishReasonMaxTokens:
		return FinishReasonLength
	case genai.FinishReasonStop:
		return "stop"
	case genai.FinishReasonUnspecified:
		return ""
	default:
		return strings.ToLower(fmt.Sprint(r))
	}
}

// Stream 流式输出未实现
func (g *GeminiChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, ErrStreamNotSupported
}

// WithTools 结构化解析不使用工具调用，返回自身
func (g *GeminiChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return g, nil
}

// Close 释放底层 gRPC 连接
func (g *GeminiChatModel) Close() error {
	return g.client.Close()
}
