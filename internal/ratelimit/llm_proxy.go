package ratelimit

import (
	"context"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// RateLimitedLLMModel 对LLM模型的调用进行限流的代理
// 只负责限流，重试由调用方的退避策略决定
type RateLimitedLLMModel struct {
	original    model.ToolCallingChatModel
	rateLimiter *TokenBucket
}

// NewRateLimitedLLMModel 创建一个新的限流LLM模型代理
// qpm <= 0 时不限流，直接返回原模型
func NewRateLimitedLLMModel(original model.ToolCallingChatModel, qpm int) model.ToolCallingChatModel {
	if qpm <= 0 {
		return original
	}
	return &RateLimitedLLMModel{
		original:    original,
		rateLimiter: NewTokenBucket(qpm, qpm/2), // 容量设为QPM的一半，允许一定的突发流量
	}
}

// Generate 等待令牌后转发
func (rl *RateLimitedLLMModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	if err := rl.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	return rl.original.Generate(ctx, messages, options...)
}

// Stream 等待令牌后转发
func (rl *RateLimitedLLMModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	if err := rl.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	return rl.original.Stream(ctx, messages, options...)
}

// WithTools 代理WithTools方法，共享同一个令牌桶
func (rl *RateLimitedLLMModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	newModel, err := rl.original.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &RateLimitedLLMModel{
		original:    newModel,
		rateLimiter: rl.rateLimiter,
	}, nil
}
