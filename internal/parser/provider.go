package parser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/llm"
	"resume-pipeline/internal/logger"
	"resume-pipeline/internal/ratelimit"
)

// Provider 一个"供应商+模型"组合，StructuredParser 按切片顺序依次尝试
type Provider struct {
	Name              string
	Model             string
	MaxInputChars     int
	DefaultConfidence float64
	Timeout           time.Duration
	Client            model.ToolCallingChatModel
}

// ID 供应商标识，写入提交记录的 provider 字段
func (p Provider) ID() string {
	return p.Name + ":" + p.Model
}

// BuildProviders 按配置顺序构建供应商链
// 缺少 APIKey 的条目会被跳过并记录警告；返回的 cleanup 用于释放客户端资源
func BuildProviders(ctx context.Context, cfgs []config.ProviderConfig) ([]Provider, func() error, error) {
	var providers []Provider
	var closers []func() error

	cleanup := func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}

	for _, pc := range cfgs {
		if pc.APIKey == "" {
			logger.Warn().Str("provider", pc.Name).Str("model", pc.Model).Msg("未配置 API Key，跳过该供应商")
			continue
		}

		var client model.ToolCallingChatModel
		switch pc.Vendor {
		case config.VendorGemini:
			gm, err := llm.NewGeminiChatModel(ctx, pc.APIKey, pc.Model, pc.Temperature, pc.MaxTokens)
			if err != nil {
				_ = cleanup()
				return nil, nil, fmt.Errorf("初始化供应商 %s:%s 失败: %w", pc.Name, pc.Model, err)
			}
			closers = append(closers, gm.Close)
			client = gm
		default:
			om, err := llm.NewOpenAICompatibleChatModel(pc.APIKey, pc.Model, pc.BaseURL,
				llm.WithTemperature(pc.Temperature),
				llm.WithMaxTokens(pc.MaxTokens),
				llm.WithJSONMode(true),
			)
			if err != nil {
				_ = cleanup()
				return nil, nil, fmt.Errorf("初始化供应商 %s:%s 失败: %w", pc.Name, pc.Model, err)
			}
			client = om
		}

		providers = append(providers, Provider{
			Name:              pc.Name,
			Model:             pc.Model,
			MaxInputChars:     pc.MaxInputChars,
			DefaultConfidence: pc.ConfidenceOrDefault(),
			Timeout:           config.GetDuration(pc.Timeout, 60*time.Second),
			Client:            ratelimit.NewRateLimitedLLMModel(client, pc.QPM),
		})
		logger.Info().Str("provider", pc.Name).Str("model", pc.Model).Int("max_input_chars", pc.MaxInputChars).Msg("结构化解析供应商已就绪")
	}

	return providers, cleanup, nil
}
