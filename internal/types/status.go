package types

// SubmissionStatus 提交记录的处理状态，持久化值固定为四个小写字符串
type SubmissionStatus string

const (
	// StatusPending 已入库，等待处理
	StatusPending SubmissionStatus = "pending"
	// StatusProcessing 已被某个处理单元认领
	StatusProcessing SubmissionStatus = "processing"
	// StatusCompleted 结构化记录已持久化并关联
	StatusCompleted SubmissionStatus = "completed"
	// StatusFailed 处理失败，不会再关联结构化记录
	StatusFailed SubmissionStatus = "failed"
)

// allowedTransitions 状态机的全部合法迁移
var allowedTransitions = map[SubmissionStatus][]SubmissionStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// IsValid 判断是否为已知状态
func (s SubmissionStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal 终态不允许任何迁移
func (s SubmissionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition 判断 from -> to 是否为合法迁移
func CanTransition(from, to SubmissionStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
