// Package processor 驱动单个提交依次经过文本提取、结构化解析和持久化。
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"resume-pipeline/internal/constants"
	"resume-pipeline/internal/events"
	"resume-pipeline/internal/logger"
	"resume-pipeline/internal/metrics"
	"resume-pipeline/internal/parser"
	"resume-pipeline/internal/tracing"
	"resume-pipeline/internal/types"
)

var tracer = otel.Tracer("resume-pipeline/processor")

// Orchestrator 处理单个提交的编排器，可被多个工作单元并发使用
type Orchestrator struct {
	extractor     Extractor
	parser        StructuredParser
	store         SubmissionStore
	events        EventSink
	minTextLength int
}

// NewOrchestrator 创建编排器
func NewOrchestrator(comp *Components, set *Settings, opts ...SettingOpt) (*Orchestrator, error) {
	if comp == nil || comp.Extractor == nil || comp.Parser == nil || comp.Store == nil {
		return nil, fmt.Errorf("编排器缺少必要组件")
	}
	if set == nil {
		set = &Settings{}
	}
	for _, opt := range opts {
		opt(set)
	}
	if set.MinTextLength <= 0 {
		set.MinTextLength = constants.DefaultMinTextLength
	}

	sink := comp.Events
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Orchestrator{
		extractor:     comp.Extractor,
		parser:        comp.Parser,
		store:         comp.Store,
		events:        sink,
		minTextLength: set.MinTextLength,
	}, nil
}

// outcome 一次编排的最终结果
type outcome struct {
	claimed  bool
	recordID string
	result   *parser.Result
	err      error
}

// Process 处理一个提交，所有失败都转为 failed 状态与事件，不向调用方返回错误
func (o *Orchestrator) Process(ctx context.Context, submissionID string) {
	start := time.Now()
	ctx = logger.WithSubmissionID(ctx, submissionID)
	log := logger.FromContext(ctx)

	ctx, span := tracer.Start(ctx, "Orchestrator.Process",
		trace.WithAttributes(attribute.String("submission.id", submissionID)))
	defer span.End()

	metrics.WorkerStarted()
	defer metrics.WorkerFinished()

	out := o.run(ctx, submissionID)

	if !out.claimed {
		// 认领失败时不改动状态，也不发终态事件
		if errors.Is(out.err, ErrInvalidTransition) {
			log.Warn().Err(out.err).Msg("提交不处于待处理状态，跳过")
		} else {
			log.Error().Err(out.err).Msg("认领提交失败")
		}
		tracing.RecordError(span, out.err, tracing.ErrorTypeDB)
		return
	}

	// 终态写入不受调用方取消影响
	persistCtx := context.WithoutCancel(ctx)

	if out.err != nil {
		detail := out.err.Error()
		if err := o.store.UpdateSubmissionStatus(persistCtx, submissionID, types.StatusFailed, detail); err != nil {
			log.Error().Err(err).Msg("标记提交失败状态时出错")
		}
		tracing.RecordError(span, out.err, errorTypeOf(out.err))
		metrics.ObserveSubmission(string(types.StatusFailed), time.Since(start))
		log.Error().Err(out.err).Dur("elapsed", time.Since(start)).Msg("简历处理失败")

		o.emit(persistCtx, events.Event{
			Type:         events.ProcessingFailed,
			SubmissionID: submissionID,
			Details:      detail,
			Success:      false,
		})
		return
	}

	span.SetStatus(codes.Ok, "")
	metrics.ObserveSubmission(string(types.StatusCompleted), time.Since(start))
	logParseQuality(log, out.result)
	log.Info().
		Str("record_id", out.recordID).
		Str("provider", out.result.ProviderID).
		Dur("elapsed", time.Since(start)).
		Msg("简历处理完成")

	o.emit(persistCtx, events.Event{
		Type:         events.ProcessingCompleted,
		SubmissionID: submissionID,
		RecordID:     out.recordID,
		Details:      fmt.Sprintf("provider=%s confidence=%.2f", out.result.ProviderID, out.result.Confidence),
		Success:      true,
	})
}

// run 执行各步骤，panic 也会转成错误
func (o *Orchestrator) run(ctx context.Context, id string) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error().Interface("panic", r).Msg("处理过程中发生 panic")
			out.err = NewPanicError(id, r)
		}
	}()

	log := logger.FromContext(ctx)

	// 1. pending -> processing
	if err := o.step(ctx, "claim", func(ctx context.Context) error {
		return o.store.UpdateSubmissionStatus(ctx, id, types.StatusProcessing, "")
	}); err != nil {
		out.err = err
		return out
	}
	out.claimed = true
	o.emit(ctx, events.Event{Type: events.ProcessingStarted, SubmissionID: id, Success: true})

	sub, err := o.store.GetSubmission(ctx, id)
	if err != nil {
		out.err = NewPersistenceError(id, "load", err)
		return out
	}

	// 2. 提取文本
	var text string
	if err := o.step(ctx, "extract", func(ctx context.Context) error {
		var err error
		text, err = o.extractor.Extract(ctx, sub.DocumentRef)
		return err
	}); err != nil {
		out.err = NewExtractionError(id, err)
		return out
	}
	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); n < o.minTextLength {
		out.err = NewInsufficientTextError(id, n, o.minTextLength)
		return out
	}
	log.Debug().Int("chars", utf8.RuneCountInString(text)).Msg("文本提取完成")

	// 3. 结构化解析
	if err := o.step(ctx, "parse", func(ctx context.Context) error {
		var err error
		out.result, err = o.parser.Parse(ctx, text)
		return err
	}); err != nil {
		out.err = NewParseError(id, err)
		return out
	}

	// 4. 持久化并关联，关联成功即进入 completed
	if err := o.step(ctx, "persist", func(ctx context.Context) error {
		var err error
		out.recordID, err = o.store.CreateStructuredRecord(ctx, id, out.result.Payload, out.result.RawJSON)
		return err
	}); err != nil {
		out.err = NewPersistenceError(id, "create_record", err)
		return out
	}
	o.emit(ctx, events.Event{
		Type:         events.CandidateSaved,
		SubmissionID: id,
		RecordID:     out.recordID,
		Success:      true,
	})

	if err := o.step(ctx, "link", func(ctx context.Context) error {
		return o.store.LinkSubmission(ctx, id, out.recordID, out.result.Confidence, out.result.ProviderID)
	}); err != nil {
		out.err = NewPersistenceError(id, "link", err)
		return out
	}
	return out
}

// emit 投递事件，事件投递失败或 panic 都不影响提交状态
func (o *Orchestrator) emit(ctx context.Context, ev events.Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(ctx).Error().
				Interface("panic", r).
				Str("event", string(ev.Type)).
				Str("submission_id", ev.SubmissionID).
				Msg("事件投递发生 panic，已忽略")
		}
	}()
	o.events.Emit(ctx, ev)
}

// step 为单个步骤创建子 span
func (o *Orchestrator) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := tracer.Start(ctx, "Orchestrator."+name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func errorTypeOf(err error) tracing.ErrorType {
	switch {
	case errors.Is(err, ErrExtractionFailed), errors.Is(err, ErrUnsupportedFormat), errors.Is(err, ErrInsufficientText):
		return tracing.ErrorTypeExtraction
	case errors.Is(err, ErrParseFailed):
		return tracing.ErrorTypeProvider
	case errors.Is(err, ErrPersistenceFailed):
		return tracing.ErrorTypeDB
	default:
		return tracing.ErrorTypeInternal
	}
}

// logParseQuality 按置信度记录解析质量
func logParseQuality(log *zerolog.Logger, res *parser.Result) {
	quality := "LOW"
	switch {
	case res.Confidence >= 80:
		quality = "HIGH"
	case res.Confidence >= 60:
		quality = "MEDIUM"
	}
	log.Info().
		Str("quality", quality).
		Float64("confidence", res.Confidence).
		Str("provider", res.ProviderID).
		Int("attempts", len(res.Attempts)).
		Msg("解析质量")
}
