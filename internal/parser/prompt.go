package parser

import "strings"

// systemPrompt 结构化解析的系统提示词，简历文本通过 user 消息传递
const systemPrompt = `You are a resume parser.
Extract the following fields from the resume text supplied by the user and return ONLY one JSON object, no explanation and no Markdown:

{
  "full_name": "",
  "emails": [],
  "phones": [],
  "location": "",
  "linkedin_url": "",
  "current_role": "",
  "current_employer": "",
  "total_experience_years": 0,
  "current_salary": "",
  "expected_salary": "",
  "notice_period": "",
  "education": [
    {"degree": "", "institution": "", "major": "", "graduation_year": ""}
  ],
  "experience": [
    {"job_title": "", "organization": "", "location": "", "reporting_to": "",
     "start_date": "", "end_date": "", "roles_responsibilities": "", "achievements": ""}
  ],
  "skills": [],
  "languages": [{"language": "", "proficiency": ""}],
  "confidence": 0
}

Rules:
- Leave a field empty ("" or []) when the resume does not state it. Never invent values.
- total_experience_years is a number of years, estimated from the experience entries when not stated.
- confidence is your own 0-100 estimate of how completely and correctly the resume was extracted.`

// BuildMessages 返回发送给供应商的 system/user 文本
func BuildMessages(resumeText string) (system string, user string) {
	return systemPrompt, "Resume text:\n" + resumeText
}

// TruncateRunes 按字符(rune)截断，保证结果确定且不切断多字节字符
func TruncateRunes(text string, maxChars int) string {
	if maxChars <= 0 {
		return text
	}
	count := 0
	for i := range text {
		if count == maxChars {
			return text[:i]
		}
		count++
	}
	return text
}

// CleanJSON 去掉供应商响应外层的代码块标记与说明文字，返回最外层 JSON 对象
// 无法找到完整对象时返回空字符串
func CleanJSON(response string) string {
	s := strings.TrimSpace(response)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
		if len(s) >= 4 && strings.EqualFold(s[:4], "json") {
			s = strings.TrimSpace(s[4:])
		}
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	// 查找匹配的 }，忽略字符串字面量中的括号
	level := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			level++
		case '}':
			level--
			if level == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}
	return ""
}
