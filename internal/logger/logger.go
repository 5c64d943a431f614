package logger // 定义了日志记录器相关的组件和功能

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// Logger 默认的全局日志实例，应用中其他地方可以直接使用
	Logger = log.Logger
)

// Config 日志配置结构体，用于定义日志系统的行为
type Config struct {
	Level        string `json:"level" yaml:"level"`                 // 日志级别：debug, info, warn, error等
	Format       string `json:"format" yaml:"format"`               // 日志格式：json 或 pretty
	TimeFormat   string `json:"time_format" yaml:"time_format"`     // 时间戳的格式
	ReportCaller bool   `json:"report_caller" yaml:"report_caller"` // 是否报告调用者的文件名和行号
	FilePath     string `json:"file_path" yaml:"file_path"`         // 可选的日志文件路径，为空时只输出到控制台
}

// Init 初始化日志系统，根据传入的配置进行设置
func Init(config Config) error {
	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || config.Level == "" {
		level = zerolog.InfoLevel // 默认使用Info级别
	}
	zerolog.SetGlobalLevel(level)

	if config.TimeFormat == "" {
		zerolog.TimeFieldFormat = time.RFC3339
	} else {
		zerolog.TimeFieldFormat = config.TimeFormat
	}

	var console io.Writer = os.Stdout
	if config.Format == "pretty" {
		console = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: config.TimeFormat,
		}
	}

	output := console
	if config.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(config.FilePath), 0o755); err != nil {
			return fmt.Errorf("创建日志目录失败: %w", err)
		}
		fileWriter, err := os.OpenFile(config.FilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("无法打开日志文件 %s: %w", config.FilePath, err)
		}
		output = zerolog.MultiLevelWriter(console, fileWriter)
	}

	contextLogger := zerolog.New(output).
		Level(level).
		With().
		Timestamp()

	if config.ReportCaller {
		contextLogger = contextLogger.Caller()
	}

	// 替换全局日志记录器
	Logger = contextLogger.Logger()
	log.Logger = Logger
	return nil
}

// Debug 开始一条调试级别的日志事件
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Info 开始一条信息级别的日志事件
func Info() *zerolog.Event {
	return Logger.Info()
}

// Warn 开始一条警告级别的日志事件
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Error 开始一条错误级别的日志事件
func Error() *zerolog.Event {
	return Logger.Error()
}

// Fatal 开始一条致命错误级别的日志事件，记录后程序将退出
func Fatal() *zerolog.Event {
	return Logger.Fatal()
}

// WithContext 将全局日志记录器添加到上下文中
func WithContext(ctx context.Context) context.Context {
	return Logger.WithContext(ctx)
}

// WithSubmissionID 返回携带 submission_id 字段的子 logger 的上下文
func WithSubmissionID(ctx context.Context, submissionID string) context.Context {
	l := FromContext(ctx).With().Str("submission_id", submissionID).Logger()
	return l.WithContext(ctx)
}

// FromContext 从上下文中获取日志记录器，不存在时回退到全局 Logger
func FromContext(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
			return l
		}
	}
	return &Logger
}
