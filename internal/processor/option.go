package processor

import (
	"resume-pipeline/internal/config"
	"resume-pipeline/internal/constants"
)

// Components 聚合编排器依赖，便于集中管理和测试替换
type Components struct {
	Extractor Extractor
	Parser    StructuredParser
	Store     SubmissionStore
	Events    EventSink
}

// Settings 纯配置项，不包含任何业务逻辑组件
type Settings struct {
	MinTextLength int // 去除首尾空白后的最少字符数
}

// ComponentOpt 组件选项类型，仅改变 Components 结构体内的字段
type ComponentOpt func(*Components)

// SettingOpt 设置选项类型，仅改变 Settings 结构体内的字段
type SettingOpt func(*Settings)

// WithExtractor 设置文本提取网关
func WithExtractor(e Extractor) ComponentOpt {
	return func(c *Components) { c.Extractor = e }
}

// WithParser 设置结构化解析器
func WithParser(p StructuredParser) ComponentOpt {
	return func(c *Components) { c.Parser = p }
}

// WithStore 设置持久化适配器
func WithStore(s SubmissionStore) ComponentOpt {
	return func(c *Components) { c.Store = s }
}

// WithEvents 设置事件接收端
func WithEvents(s EventSink) ComponentOpt {
	return func(c *Components) { c.Events = s }
}

// WithMinTextLength 设置最短文本长度
func WithMinTextLength(n int) SettingOpt {
	return func(s *Settings) {
		if n > 0 {
			s.MinTextLength = n
		}
	}
}

// SettingsFromConfig 从流水线配置生成设置
func SettingsFromConfig(cfg *config.PipelineConfig) *Settings {
	set := &Settings{MinTextLength: constants.DefaultMinTextLength}
	if cfg != nil && cfg.MinTextLength > 0 {
		set.MinTextLength = cfg.MinTextLength
	}
	return set
}

// NewComponents 按选项组装组件
func NewComponents(opts ...ComponentOpt) *Components {
	c := &Components{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
