package events

import (
	"context"

	"github.com/rs/zerolog"

	"resume-pipeline/internal/logger"
)

// LogSink 将事件写为结构化日志
type LogSink struct{}

// Emit 实现 Sink
func (LogSink) Emit(ctx context.Context, ev Event) {
	log := logger.FromContext(ctx)
	var e *zerolog.Event
	if ev.Success {
		e = log.Info()
	} else {
		e = log.Warn()
	}
	e = e.Str("event", string(ev.Type)).
		Str("submission_id", ev.SubmissionID).
		Bool("success", ev.Success)
	if ev.RecordID != "" {
		e = e.Str("record_id", ev.RecordID)
	}
	if ev.Details != "" {
		e = e.Str("details", ev.Details)
	}
	e.Msg("处理事件")
}
