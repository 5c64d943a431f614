package constants

import "time"

const (
	// DefaultMinTextLength 提取文本去除首尾空白后的最小有效长度
	DefaultMinTextLength = 50

	// DefaultMaxAttempts 单个供应商的最大尝试次数
	DefaultMaxAttempts = 3
	// DefaultInitialBackoff 首次重试等待时间
	DefaultInitialBackoff = 1 * time.Second
	// DefaultMaxBackoff 重试等待时间上限
	DefaultMaxBackoff = 10 * time.Second

	// DefaultMD5ExpireDuration 上传文件MD5去重记录的保留时间
	DefaultMD5ExpireDuration = 365 * 24 * time.Hour

	// EventSource CloudEvents 的 source 字段
	EventSource = "resume-pipeline/processor"
	// EventRoutingKeyPrefix 事件发布到交换机时的路由键前缀
	EventRoutingKeyPrefix = "resume.processing."
)
