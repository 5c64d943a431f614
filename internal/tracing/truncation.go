package tracing

import (
	"strings"
)

const (
	// DefaultMaxLength 默认最大属性长度
	DefaultMaxLength = 200

	// MaxSQLLength SQL语句最大长度
	MaxSQLLength = 500

	// MaxResumeLength 简历内容最大长度
	MaxResumeLength = 150
)

// maskPIILookup 需要掩码处理的关键字
var maskPIILookup = []string{
	"email", "phone", "password", "address", "name", "secret", "token", "api_key", "salary",
}

// SafeAttributeValue 确保属性值安全
// 敏感关键字对应的值返回掩码，其余按 maxLength 截断
func SafeAttributeValue(name string, value string, maxLength int) string {
	lowerName := strings.ToLower(name)
	for _, keyword := range maskPIILookup {
		if strings.Contains(lowerName, keyword) {
			return MaskPII(value)
		}
	}
	return TruncateString(value, maxLength)
}

// MaskPII 对个人敏感信息进行掩码处理
func MaskPII(value string) string {
	if value == "" {
		return ""
	}

	runes := []rune(value)
	length := len(runes)

	if length <= 1 {
		return "*"
	}
	if length <= 4 {
		if length == 2 {
			return string(runes[0:1]) + "*"
		}
		return string(runes[0:1]) + strings.Repeat("*", length-2) + string(runes[length-1:])
	}

	// "john.doe@example.com" -> "jo****************om"
	return string(runes[0:2]) + strings.Repeat("*", length-4) + string(runes[length-2:])
}

// TruncateString 截断字符串，保留首尾并以省略号连接
func TruncateString(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}

	if maxLength <= 3 {
		return string(runes[:maxLength])
	}

	half := (maxLength - 3) / 2
	if half < 1 {
		half = 1
	}
	return string(runes[:half]) + "..." + string(runes[len(runes)-half:])
}

// SafeSQL 安全处理SQL语句
func SafeSQL(sql string) string {
	return TruncateString(sql, MaxSQLLength)
}

// SafeResumeContent 安全处理简历内容
func SafeResumeContent(content string) string {
	return TruncateString(content, MaxResumeLength)
}
