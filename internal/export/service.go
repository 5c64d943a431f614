// Package export 将候选人数据导出为 XLSX 工作簿。
package export

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"resume-pipeline/internal/logger"
	"resume-pipeline/internal/storage"
	"resume-pipeline/internal/storage/models"
)

const (
	candidatesSheet = "Candidates"
	skillsSheet     = "Skills Summary"
	metadataSheet   = "Export Metadata"

	schemaVersion = "1.0"
)

var candidateHeaders = []string{
	"Candidate ID",
	"Full Name",
	"Current Role",
	"Current Employer",
	"Total Experience (Years)",
	"Current Location",
	"Primary Email",
	"All Emails",
	"Primary Phone",
	"All Phones",
	"LinkedIn URL",
	"Current Salary",
	"Expected Salary",
	"Notice Period",
	"Skills",
	"Languages",
	"Education",
	"Resume Filename",
	"Parse Confidence",
	"Parse Model",
	"Processing Date",
	"Status",
}

// CandidateLister 导出所需的查询接口
type CandidateLister interface {
	ListCandidates(ctx context.Context, filter storage.CandidateFilter) ([]models.Candidate, error)
}

// Service 生成候选人导出文件
type Service struct {
	repo CandidateLister
	now  func() time.Time
}

// NewService 创建导出服务
func NewService(repo CandidateLister) *Service {
	return &Service{repo: repo, now: time.Now}
}

// FileName 导出文件名，例如 candidates_export_20240102_150405.xlsx
func (s *Service) FileName() string {
	return fmt.Sprintf("candidates_export_%s.xlsx", s.now().Format("20060102_150405"))
}

// ExportCandidatesXLSX 按过滤条件导出候选人，返回 XLSX 字节
func (s *Service) ExportCandidatesXLSX(ctx context.Context, filter storage.CandidateFilter) ([]byte, error) {
	start := time.Now()

	candidates, err := s.repo.ListCandidates(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("查询候选人失败: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	// 默认的 Sheet1 直接改名为主表
	if err := f.SetSheetName(f.GetSheetName(0), candidatesSheet); err != nil {
		return nil, err
	}
	for _, name := range []string{skillsSheet, metadataSheet} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	if err := writeRow(f, candidatesSheet, 1, toAny(candidateHeaders)); err != nil {
		return nil, err
	}
	skillCounts := make(map[string]int)
	for i := range candidates {
		row, skills := candidateRow(&candidates[i])
		if err := writeRow(f, candidatesSheet, i+2, row); err != nil {
			return nil, err
		}
		for _, skill := range skills {
			skillCounts[skill]++
		}
	}
	_ = f.SetColWidth(candidatesSheet, "A", "A", 38)
	_ = f.SetColWidth(candidatesSheet, "B", "D", 24)
	_ = f.SetColWidth(candidatesSheet, "O", "Q", 48)

	if err := writeSkills(f, skillCounts); err != nil {
		return nil, err
	}
	if err := s.writeMetadata(f, len(candidates), filter); err != nil {
		return nil, err
	}

	idx, _ := f.GetSheetIndex(candidatesSheet)
	f.SetActiveSheet(idx)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("写出 xlsx 失败: %w", err)
	}

	logger.Info().
		Int("rows", len(candidates)).
		Int("skills", len(skillCounts)).
		Dur("elapsed", time.Since(start)).
		Msg("候选人导出完成")
	return buf.Bytes(), nil
}

// candidateRow 生成一行数据，同时返回该候选人的技能名
func candidateRow(c *models.Candidate) ([]any, []string) {
	emails := make([]string, 0, len(c.Emails))
	for _, e := range c.Emails {
		emails = append(emails, e.EmailAddress)
	}
	phones := make([]string, 0, len(c.Phones))
	for _, p := range c.Phones {
		phones = append(phones, p.PhoneNumber)
	}
	skills := make([]string, 0, len(c.Skills))
	for _, s := range c.Skills {
		if s.MasterSkill != nil {
			skills = append(skills, s.MasterSkill.SkillName)
		}
	}
	languages := make([]string, 0, len(c.Languages))
	for _, l := range c.Languages {
		if l.Proficiency != "" {
			languages = append(languages, fmt.Sprintf("%s (%s)", l.Language, l.Proficiency))
		} else {
			languages = append(languages, l.Language)
		}
	}
	education := make([]string, 0, len(c.Education))
	for _, e := range c.Education {
		entry := strings.Trim(strings.Join([]string{e.Degree, e.Institution}, " - "), " -")
		if e.GraduationYear != nil {
			entry = fmt.Sprintf("%s (%d)", entry, *e.GraduationYear)
		}
		education = append(education, entry)
	}

	var experience any = ""
	if c.TotalExperienceYears != nil {
		experience = *c.TotalExperienceYears
	}

	var filename, model, status string
	var confidence any = ""
	if sub := c.Submission; sub != nil {
		filename = sub.OriginalFilename
		status = sub.Status
		if sub.ProviderID != nil {
			model = *sub.ProviderID
		}
		if sub.Confidence != nil {
			confidence = *sub.Confidence
		}
	}

	return []any{
		c.CandidateID,
		c.FullName,
		c.CurrentRole,
		c.CurrentEmployer,
		experience,
		c.CurrentLocation,
		first(emails),
		strings.Join(emails, "; "),
		first(phones),
		strings.Join(phones, "; "),
		c.LinkedInURL,
		c.CurrentSalary,
		c.ExpectedSalary,
		c.NoticePeriod,
		strings.Join(skills, "; "),
		strings.Join(languages, "; "),
		strings.Join(education, "; "),
		filename,
		confidence,
		model,
		c.CreatedAt.Format("2006-01-02 15:04:05"),
		status,
	}, skills
}

// writeSkills 技能按出现次数降序，次数相同按名称排序
func writeSkills(f *excelize.File, counts map[string]int) error {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})

	if err := writeRow(f, skillsSheet, 1, []any{"Skill", "Candidates"}); err != nil {
		return err
	}
	for i, name := range names {
		if err := writeRow(f, skillsSheet, i+2, []any{name, counts[name]}); err != nil {
			return err
		}
	}
	return f.SetColWidth(skillsSheet, "A", "A", 32)
}

func (s *Service) writeMetadata(f *excelize.File, total int, filter storage.CandidateFilter) error {
	rows := [][]any{
		{"Field", "Value"},
		{"Export Date", s.now().Format("2006-01-02 15:04:05")},
		{"Total Candidates", total},
		{"Filters Applied", describeFilter(filter)},
		{"Export Schema Version", schemaVersion},
	}
	for i, row := range rows {
		if err := writeRow(f, metadataSheet, i+1, row); err != nil {
			return err
		}
	}
	return f.SetColWidth(metadataSheet, "A", "B", 28)
}

func describeFilter(filter storage.CandidateFilter) string {
	var parts []string
	if filter.Since != nil {
		parts = append(parts, "since="+filter.Since.Format("2006-01-02"))
	}
	if filter.Until != nil {
		parts = append(parts, "until="+filter.Until.Format("2006-01-02"))
	}
	if filter.Limit > 0 {
		parts = append(parts, "limit="+strconv.Itoa(filter.Limit))
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, ", ")
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func first(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}
