package types

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// CandidatePayload 供应商返回的结构化候选人信息
type CandidatePayload struct {
	FullName             string            `json:"full_name"`
	Emails               []string          `json:"emails"`
	Phones               []string          `json:"phones"`
	Location             string            `json:"location"`
	LinkedInURL          string            `json:"linkedin_url"`
	CurrentRole          string            `json:"current_role"`
	CurrentEmployer      string            `json:"current_employer"`
	TotalExperienceYears *FlexFloat        `json:"total_experience_years"`
	CurrentSalary        FlexString        `json:"current_salary"`
	ExpectedSalary       FlexString        `json:"expected_salary"`
	NoticePeriod         FlexString        `json:"notice_period"`
	Education            []EducationEntry  `json:"education"`
	Experience           []ExperienceEntry `json:"experience"`
	Skills               []string          `json:"skills"`
	Languages            []LanguageEntry   `json:"languages"`
	// Confidence 供应商自报的置信度(0-100)，缺省时由解析器按供应商档位补默认值
	Confidence *FlexFloat `json:"confidence,omitempty"`
}

// EducationEntry 教育经历
type EducationEntry struct {
	Degree         string     `json:"degree"`
	Institution    string     `json:"institution"`
	Major          string     `json:"major"`
	GraduationYear FlexString `json:"graduation_year"`
}

// ExperienceEntry 工作经历
type ExperienceEntry struct {
	JobTitle              string     `json:"job_title"`
	Organization          string     `json:"organization"`
	Location              string     `json:"location"`
	ReportingTo           string     `json:"reporting_to"`
	StartDate             FlexString `json:"start_date"`
	EndDate               FlexString `json:"end_date"`
	RolesResponsibilities FlexString `json:"roles_responsibilities"`
	Achievements          FlexString `json:"achievements"`
}

// LanguageEntry 语言能力，兼容纯字符串和对象两种写法
type LanguageEntry struct {
	Language    string `json:"language"`
	Proficiency string `json:"proficiency,omitempty"`
}

// UnmarshalJSON 接受 "English" 或 {"language":"English","proficiency":"native"}
func (l *LanguageEntry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		l.Language = s
		return nil
	}

	type plain LanguageEntry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*l = LanguageEntry(p)
	return nil
}

// FlexString 模型常把字符串字段输出成数字，统一收敛为字符串
type FlexString string

// UnmarshalJSON 接受字符串、数字、布尔值和 null
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = ""
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	case '{', '[':
		// 列表类字段（如 achievements）拼接为多行文本
		var items []string
		if err := json.Unmarshal(data, &items); err == nil {
			*f = FlexString(strings.Join(items, "\n"))
			return nil
		}
		*f = FlexString(string(data))
		return nil
	default:
		*f = FlexString(string(data))
		return nil
	}
}

// String 返回字符串值
func (f FlexString) String() string {
	return string(f)
}

// FlexFloat 接受数字或数字字符串，无法识别的值记为未知(NaN)
type FlexFloat float64

// unknownFloat 未知数值的哨兵
var unknownFloat = FlexFloat(math.NaN())

// UnmarshalJSON 接受 5、5.5、"5.5"、"5 years"、"85%"；
// ""、"N/A"、"Not specified" 等非数值字符串不报错，记为未知
func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*f = unknownFloat
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = parseLooseFloat(s)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexFloat(v)
	return nil
}

// MarshalJSON 未知值输出为 null
func (f FlexFloat) MarshalJSON() ([]byte, error) {
	if !f.Known() {
		return []byte("null"), nil
	}
	return json.Marshal(float64(f))
}

// Known 是否为有效数值
func (f FlexFloat) Known() bool {
	v := float64(f)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Float64Ptr 返回 float64 指针，nil 与未知值均返回 nil
func (f *FlexFloat) Float64Ptr() *float64 {
	if f == nil || !f.Known() {
		return nil
	}
	v := float64(*f)
	return &v
}

func parseLooseFloat(s string) FlexFloat {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return unknownFloat
	}
	token := strings.TrimRight(fields[0], "+%")
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return unknownFloat
	}
	return FlexFloat(v)
}

// Normalize 去除首尾空白、空值与重复项
func (p *CandidatePayload) Normalize() {
	p.FullName = strings.TrimSpace(p.FullName)
	p.Location = strings.TrimSpace(p.Location)
	p.LinkedInURL = strings.TrimSpace(p.LinkedInURL)
	p.CurrentRole = strings.TrimSpace(p.CurrentRole)
	p.CurrentEmployer = strings.TrimSpace(p.CurrentEmployer)
	if p.TotalExperienceYears != nil && !p.TotalExperienceYears.Known() {
		p.TotalExperienceYears = nil
	}
	if p.Confidence != nil && !p.Confidence.Known() {
		p.Confidence = nil
	}
	p.Emails = uniqueNonEmpty(p.Emails, strings.ToLower)
	p.Phones = uniqueNonEmpty(p.Phones, nil)
	p.Skills = uniqueNonEmpty(p.Skills, nil)

	langs := p.Languages[:0]
	seen := make(map[string]bool)
	for _, l := range p.Languages {
		l.Language = strings.TrimSpace(l.Language)
		key := strings.ToLower(l.Language)
		if l.Language == "" || seen[key] {
			continue
		}
		seen[key] = true
		l.Proficiency = strings.TrimSpace(l.Proficiency)
		langs = append(langs, l)
	}
	p.Languages = langs
}

// uniqueNonEmpty 去重时以 key 函数(可为 nil)的结果为准，保留首次出现的原始值
func uniqueNonEmpty(values []string, key func(string) string) []string {
	if len(values) == 0 {
		return values
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		k := strings.ToLower(v)
		if key != nil {
			k = key(v)
		}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}
