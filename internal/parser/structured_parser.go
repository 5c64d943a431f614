package parser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"resume-pipeline/internal/constants"
	"resume-pipeline/internal/llm"
	"resume-pipeline/internal/logger"
	"resume-pipeline/internal/tracing"
	"resume-pipeline/internal/types"
)

var parserTracer = otel.Tracer("resume-pipeline/parser")

// Result 结构化解析成功的结果
type Result struct {
	Payload    *types.CandidatePayload
	ProviderID string
	Confidence float64
	RawJSON    json.RawMessage
	Attempts   []ProviderAttempt
}

// AttemptObserver 每次供应商尝试结束后回调，用于指标统计
type AttemptObserver func(ProviderAttempt)

// StructuredParser 按优先级依次调用供应商，将简历文本转换为结构化候选人数据
type StructuredParser struct {
	providers      []Provider
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	observer       AttemptObserver
}

// ParserOption 解析器配置选项
type ParserOption func(*StructuredParser)

// WithMaxAttempts 设置单个供应商的最大尝试次数
func WithMaxAttempts(n int) ParserOption {
	return func(p *StructuredParser) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithBackoff 设置瞬时失败的退避参数，每次重试间隔翻倍直到 max
func WithBackoff(initial, max time.Duration) ParserOption {
	return func(p *StructuredParser) {
		if initial > 0 {
			p.initialBackoff = initial
		}
		if max > 0 {
			p.maxBackoff = max
		}
	}
}

// WithAttemptObserver 注册尝试回调
func WithAttemptObserver(fn AttemptObserver) ParserOption {
	return func(p *StructuredParser) {
		p.observer = fn
	}
}

// NewStructuredParser 创建结构化解析器，providers 的顺序即优先级
func NewStructuredParser(providers []Provider, opts ...ParserOption) *StructuredParser {
	p := &StructuredParser{
		providers:      providers,
		maxAttempts:    constants.DefaultMaxAttempts,
		initialBackoff: constants.DefaultInitialBackoff,
		maxBackoff:     constants.DefaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Providers 返回配置的供应商标识列表
func (p *StructuredParser) Providers() []string {
	ids := make([]string, 0, len(p.providers))
	for _, pr := range p.providers {
		ids = append(ids, pr.ID())
	}
	return ids
}

// Parse 依次尝试每个供应商，返回第一个成功的结果
// 没有配置供应商时返回 ErrNoProviderAvailable；全部失败时返回 *AllProvidersFailedError
func (p *StructuredParser) Parse(ctx context.Context, text string) (*Result, error) {
	if len(p.providers) == 0 {
		return nil, ErrNoProviderAvailable
	}

	ctx, span := parserTracer.Start(ctx, "StructuredParser.Parse",
		trace.WithAttributes(
			attribute.Int("parser.providers", len(p.providers)),
			attribute.Int("parser.text_runes", len([]rune(text))),
		))
	defer span.End()

	log := logger.FromContext(ctx)
	var attempts []ProviderAttempt

	for _, provider := range p.providers {
		result, providerAttempts, err := p.tryProvider(ctx, provider, text, log)
		attempts = append(attempts, providerAttempts...)
		if err == nil {
			result.Attempts = attempts
			span.SetAttributes(
				attribute.String("parser.provider", result.ProviderID),
				attribute.Float64("parser.confidence", result.Confidence),
			)
			span.SetStatus(codes.Ok, "")
			return result, nil
		}

		log.Warn().Err(err).
			Str("provider", provider.ID()).
			Int("attempts", len(providerAttempts)).
			Msg("供应商解析失败，尝试下一个供应商")

		if ctxErr := ctx.Err(); ctxErr != nil {
			tracing.RecordError(span, ctxErr, tracing.ErrorTypeTimeout)
			return nil, fmt.Errorf("结构化解析被中断: %w", ctxErr)
		}
	}

	failErr := &AllProvidersFailedError{Attempts: attempts}
	tracing.RecordError(span, failErr, tracing.ErrorTypeProvider)
	return nil, failErr
}

// tryProvider 在单个供应商上执行带退避的重试，永久错误立即放弃
func (p *StructuredParser) tryProvider(ctx context.Context, provider Provider, text string, log *zerolog.Logger) (*Result, []ProviderAttempt, error) {
	var attempts []ProviderAttempt
	var result *Result
	attemptNo := 0

	input := TruncateRunes(text, provider.MaxInputChars)

	operation := func() error {
		attemptNo++
		start := time.Now()
		res, err := p.callOnce(ctx, provider, input)

		attempt := ProviderAttempt{
			ProviderID: provider.ID(),
			Attempt:    attemptNo,
			Elapsed:    time.Since(start),
			Err:        err,
		}
		switch {
		case err == nil:
			attempt.Outcome = OutcomeSuccess
		case ClassifyError(err) == KindTransient:
			attempt.Outcome = OutcomeRetryable
		default:
			attempt.Outcome = OutcomeFatal
		}
		attempts = append(attempts, attempt)
		if p.observer != nil {
			p.observer(attempt)
		}

		log.Debug().
			Str("provider", provider.ID()).
			Int("attempt", attemptNo).
			Str("outcome", string(attempt.Outcome)).
			Dur("elapsed", attempt.Elapsed).
			Err(err).
			Msg("供应商调用结束")

		if err != nil {
			if attempt.Outcome == OutcomeFatal {
				return backoff.Permanent(err)
			}
			return err
		}
		result = res
		return nil
	}

	err := backoff.RetryNotify(operation, p.newBackOff(ctx), func(err error, wait time.Duration) {
		log.Info().Err(err).
			Str("provider", provider.ID()).
			Dur("wait", wait).
			Msg("供应商瞬时失败，退避后重试")
	})
	if err != nil {
		return nil, attempts, err
	}
	return result, attempts, nil
}

func (p *StructuredParser) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.initialBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = p.maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.maxAttempts-1)), ctx)
}

// callOnce 单次调用供应商并清洗、校验、解码响应
func (p *StructuredParser) callOnce(ctx context.Context, provider Provider, input string) (*Result, error) {
	callCtx := ctx
	if provider.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, provider.Timeout)
		defer cancel()
	}

	callCtx, span := parserTracer.Start(callCtx, "StructuredParser.callOnce",
		trace.WithAttributes(
			attribute.String("provider.id", provider.ID()),
			attribute.Int("provider.input_runes", len([]rune(input))),
		))
	defer span.End()

	systemText, userText := BuildMessages(input)
	resp, err := provider.Client.Generate(callCtx, []*schema.Message{
		schema.SystemMessage(systemText),
		schema.UserMessage(userText),
	}, model.WithModel(provider.Model))
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeProvider)
		return nil, newProviderError(provider, "", err)
	}
	if resp == nil {
		err := fmt.Errorf("%w: 空响应", ErrMalformedResponse)
		tracing.RecordError(span, err, tracing.ErrorTypeProvider)
		return nil, newProviderError(provider, KindPermanent, err)
	}

	if resp.ResponseMeta != nil && resp.ResponseMeta.FinishReason == llm.FinishReasonLength {
		// 同一档位重试仍会撞上同样的输出上限，直接交给下一个供应商
		err := fmt.Errorf("%w: finish_reason=%s, 响应长度 %d", ErrResponseTruncated, resp.ResponseMeta.FinishReason, len(resp.Content))
		span.SetAttributes(attribute.String("provider.finish_reason", resp.ResponseMeta.FinishReason))
		tracing.RecordError(span, err, tracing.ErrorTypeProvider)
		logger.FromContext(ctx).Warn().
			Str("provider", provider.ID()).
			Int("content_length", len(resp.Content)).
			Msg("供应商输出达到 max_tokens 上限，响应被截断")
		return nil, newProviderError(provider, KindPermanent, err)
	}

	payload, raw, err := decodePayload(resp.Content)
	if err != nil {
		span.SetAttributes(attribute.String("provider.response", tracing.SafeResumeContent(resp.Content)))
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, newProviderError(provider, KindPermanent, err)
	}

	confidence := provider.DefaultConfidence
	if v := payload.Confidence.Float64Ptr(); v != nil {
		confidence = *v
	}

	span.SetStatus(codes.Ok, "")
	return &Result{
		Payload:    payload,
		ProviderID: provider.ID(),
		Confidence: ClampConfidence(confidence),
		RawJSON:    raw,
	}, nil
}

// decodePayload 清洗响应文本并解码为候选人数据
func decodePayload(content string) (*types.CandidatePayload, json.RawMessage, error) {
	cleaned := CleanJSON(content)
	if cleaned == "" {
		return nil, nil, fmt.Errorf("%w: 响应中没有 JSON 对象", ErrMalformedResponse)
	}
	if err := ValidateCandidateJSON([]byte(cleaned)); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var payload types.CandidatePayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	payload.Normalize()
	return &payload, json.RawMessage(cleaned), nil
}

// ClampConfidence 将置信度限制在 [0, 100]
func ClampConfidence(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

// IsNoProvider 判断是否为未配置供应商
func IsNoProvider(err error) bool {
	return errors.Is(err, ErrNoProviderAvailable)
}
