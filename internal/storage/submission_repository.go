package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"resume-pipeline/internal/storage/models"
	"resume-pipeline/internal/tracing"
	"resume-pipeline/internal/types"
)

var (
	// ErrSubmissionNotFound 提交记录不存在
	ErrSubmissionNotFound = errors.New("提交记录不存在")
	// ErrInvalidTransition 状态机不允许的迁移
	ErrInvalidTransition = errors.New("非法的状态迁移")
)

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// CandidateFilter 导出候选人时的筛选条件
type CandidateFilter struct {
	Since *time.Time
	Until *time.Time
	Limit int
}

// SubmissionRepository 提交记录与结构化候选人记录的持久化
type SubmissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository 创建仓储
func NewSubmissionRepository(db *gorm.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// DB 返回底层连接，供同库事务使用
func (r *SubmissionRepository) DB() *gorm.DB {
	return r.db
}

// CreateSubmission 以 pending 状态落库一条提交记录，返回 UUIDv7 标识
func (r *SubmissionRepository) CreateSubmission(ctx context.Context, documentRef, filename string) (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("生成UUIDv7失败: %w", err)
	}

	sub := &models.Submission{
		SubmissionID:     id.String(),
		DocumentRef:      documentRef,
		OriginalFilename: filename,
		Status:           string(types.StatusPending),
	}
	if err := r.db.WithContext(ctx).Create(sub).Error; err != nil {
		return "", fmt.Errorf("创建提交记录失败: %w", err)
	}
	return sub.SubmissionID, nil
}

// GetSubmission 按ID查询提交记录
func (r *SubmissionRepository) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	var sub models.Submission
	err := r.db.WithContext(ctx).First(&sub, "submission_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSubmissionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("查询提交记录失败: %w", err)
	}
	return &sub, nil
}

// UpdateSubmissionStatus 在行锁内校验并执行状态迁移
// completed 只能经由 LinkSubmission 进入
func (r *SubmissionRepository) UpdateSubmissionStatus(ctx context.Context, id string, to types.SubmissionStatus, detail string) error {
	if to == types.StatusCompleted {
		return fmt.Errorf("%w: completed 需通过关联结构化记录进入", ErrInvalidTransition)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := lockSubmission(tx, id)
		if err != nil {
			return err
		}

		from := types.SubmissionStatus(sub.Status)
		if !types.CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}

		return tx.Model(&models.Submission{}).
			Where("submission_id = ?", id).
			Updates(map[string]interface{}{
				"status":        string(to),
				"status_detail": detail,
			}).Error
	})
}

// CreateStructuredRecord 在一个事务内写入候选人及其全部子表
// 同一提交重复调用时返回已有记录的ID
func (r *SubmissionRepository) CreateStructuredRecord(ctx context.Context, submissionID string, payload *types.CandidatePayload, raw json.RawMessage) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("结构化数据不能为空")
	}

	ctx, span := dbTracer.Start(ctx, "SubmissionRepository.CreateStructuredRecord",
		trace.WithAttributes(
			attribute.String("submission.id", submissionID),
			attribute.Int("candidate.skills", len(payload.Skills)),
			attribute.Int("candidate.experience", len(payload.Experience)),
		))
	defer span.End()

	var candidateID string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Candidate
		err := tx.Select("candidate_id").Where("submission_id = ?", submissionID).Take(&existing).Error
		if err == nil {
			candidateID = existing.CandidateID
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("查询已有候选人失败: %w", err)
		}

		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("生成UUIDv7失败: %w", err)
		}
		candidateID = id.String()

		candidate := buildCandidate(candidateID, submissionID, payload, raw)
		if err := tx.Omit(clause.Associations).Create(candidate).Error; err != nil {
			return fmt.Errorf("创建候选人失败: %w", err)
		}
		return saveCandidateChildren(tx, candidateID, payload)
	})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return "", err
	}

	span.SetAttributes(attribute.String("candidate.id", candidateID))
	return candidateID, nil
}

// LinkSubmission 关联结构化记录并在同一次更新中置为 completed，仅允许从 processing 进入
func (r *SubmissionRepository) LinkSubmission(ctx context.Context, id, recordID string, confidence float64, providerID string) error {
	if recordID == "" || providerID == "" {
		return fmt.Errorf("关联提交记录需要结构化记录ID和供应商标识")
	}
	if confidence < 0 || confidence > 100 {
		return fmt.Errorf("置信度超出范围: %.2f", confidence)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := lockSubmission(tx, id)
		if err != nil {
			return err
		}

		from := types.SubmissionStatus(sub.Status)
		if !types.CanTransition(from, types.StatusCompleted) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, types.StatusCompleted)
		}

		now := time.Now().UTC()
		return tx.Model(&models.Submission{}).
			Where("submission_id = ?", id).
			Updates(map[string]interface{}{
				"status":        string(types.StatusCompleted),
				"status_detail": "",
				"candidate_id":  recordID,
				"confidence":    confidence,
				"provider_id":   providerID,
				"completed_at":  now,
			}).Error
	})
}

// ListSubmissionIDsByStatus 按创建时间顺序列出指定状态的提交
func (r *SubmissionRepository) ListSubmissionIDsByStatus(ctx context.Context, status types.SubmissionStatus, limit int) ([]string, error) {
	var ids []string
	q := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("status = ?", string(status)).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("submission_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("查询 %s 状态的提交失败: %w", status, err)
	}
	return ids, nil
}

// CountSubmissionsByStatus 统计各状态的提交数量
func (r *SubmissionRepository) CountSubmissionsByStatus(ctx context.Context) (map[types.SubmissionStatus]int64, error) {
	var rows []struct {
		Status string
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&models.Submission{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("统计提交状态失败: %w", err)
	}

	counts := make(map[types.SubmissionStatus]int64, len(rows))
	for _, row := range rows {
		counts[types.SubmissionStatus(row.Status)] = row.Total
	}
	return counts, nil
}

// ListCandidates 预加载全部子表，按创建时间倒序返回候选人
func (r *SubmissionRepository) ListCandidates(ctx context.Context, filter CandidateFilter) ([]models.Candidate, error) {
	q := r.db.WithContext(ctx).
		Preload("Emails").
		Preload("Phones").
		Preload("Education").
		Preload("Experience").
		Preload("Skills.MasterSkill").
		Preload("Languages").
		Preload("Submission").
		Order("created_at DESC")
	if filter.Since != nil {
		q = q.Where("created_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		q = q.Where("created_at < ?", *filter.Until)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var candidates []models.Candidate
	if err := q.Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("查询候选人失败: %w", err)
	}
	return candidates, nil
}

// SaveProcessingEvent 在一个事务内写入处理日志和出站消息
func (r *SubmissionRepository) SaveProcessingEvent(ctx context.Context, entry *models.ProcessingLog, outbox *models.OutboxMessage) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if entry != nil {
			if err := tx.Create(entry).Error; err != nil {
				return fmt.Errorf("写入处理日志失败: %w", err)
			}
		}
		if outbox != nil {
			if err := tx.Create(outbox).Error; err != nil {
				return fmt.Errorf("写入出站消息失败: %w", err)
			}
		}
		return nil
	})
}

func lockSubmission(tx *gorm.DB, id string) (*models.Submission, error) {
	var sub models.Submission
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&sub, "submission_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSubmissionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("锁定提交记录失败: %w", err)
	}
	return &sub, nil
}

func buildCandidate(candidateID, submissionID string, p *types.CandidatePayload, raw json.RawMessage) *models.Candidate {
	c := &models.Candidate{
		CandidateID:          candidateID,
		SubmissionID:         submissionID,
		FullName:             clip(p.FullName, models.WidthDefault),
		CurrentRole:          clip(p.CurrentRole, models.WidthDefault),
		CurrentEmployer:      clip(p.CurrentEmployer, models.WidthDefault),
		CurrentLocation:      clip(p.Location, models.WidthDefault),
		LinkedInURL:          p.LinkedInURL,
		CurrentSalary:        clip(p.CurrentSalary.String(), models.WidthDefault),
		ExpectedSalary:       clip(p.ExpectedSalary.String(), models.WidthDefault),
		NoticePeriod:         clip(p.NoticePeriod.String(), models.WidthMedium),
		TotalExperienceYears: p.TotalExperienceYears.Float64Ptr(),
	}
	if len(raw) > 0 {
		c.RawJSON = datatypes.JSON(raw)
	} else if b, err := json.Marshal(p); err == nil {
		c.RawJSON = datatypes.JSON(b)
	}
	return c
}

func saveCandidateChildren(tx *gorm.DB, candidateID string, p *types.CandidatePayload) error {
	if len(p.Emails) > 0 {
		rows := make([]models.CandidateEmail, 0, len(p.Emails))
		for _, e := range p.Emails {
			rows = append(rows, models.CandidateEmail{CandidateID: candidateID, EmailAddress: clip(e, models.WidthDefault)})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("写入候选人邮箱失败: %w", err)
		}
	}

	if len(p.Phones) > 0 {
		rows := make([]models.CandidatePhone, 0, len(p.Phones))
		for _, ph := range p.Phones {
			rows = append(rows, models.CandidatePhone{CandidateID: candidateID, PhoneNumber: clip(ph, models.WidthShort)})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("写入候选人电话失败: %w", err)
		}
	}

	if len(p.Education) > 0 {
		rows := make([]models.CandidateEducation, 0, len(p.Education))
		for _, e := range p.Education {
			rows = append(rows, models.CandidateEducation{
				CandidateID:    candidateID,
				Degree:         clip(e.Degree, models.WidthDefault),
				Institution:    clip(e.Institution, models.WidthDefault),
				Major:          clip(e.Major, models.WidthDefault),
				GraduationYear: parseYear(e.GraduationYear.String()),
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("写入教育经历失败: %w", err)
		}
	}

	if len(p.Experience) > 0 {
		rows := make([]models.CandidateExperience, 0, len(p.Experience))
		for _, e := range p.Experience {
			rows = append(rows, models.CandidateExperience{
				CandidateID:           candidateID,
				JobTitle:              clip(e.JobTitle, models.WidthDefault),
				Organization:          clip(e.Organization, models.WidthDefault),
				Location:              clip(e.Location, models.WidthDefault),
				ReportingTo:           clip(e.ReportingTo, models.WidthDefault),
				StartDate:             clip(e.StartDate.String(), models.WidthShort),
				EndDate:               clip(e.EndDate.String(), models.WidthShort),
				RolesResponsibilities: e.RolesResponsibilities.String(),
				Achievements:          e.Achievements.String(),
			})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("写入工作经历失败: %w", err)
		}
	}

	for _, name := range p.Skills {
		skill, err := upsertMasterSkill(tx, clip(name, models.WidthDefault))
		if err != nil {
			return err
		}
		link := models.CandidateSkill{CandidateID: candidateID, SkillID: skill.ID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
			return fmt.Errorf("关联技能 %s 失败: %w", name, err)
		}
	}

	if len(p.Languages) > 0 {
		rows := make([]models.CandidateLanguage, 0, len(p.Languages))
		for _, l := range p.Languages {
			rows = append(rows, models.CandidateLanguage{CandidateID: candidateID, Language: clip(l.Language, models.WidthMedium), Proficiency: clip(l.Proficiency, models.WidthShort)})
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("写入语言能力失败: %w", err)
		}
	}
	return nil
}

// upsertMasterSkill 技能字典按名称唯一，冲突时读取已有行
func upsertMasterSkill(tx *gorm.DB, name string) (*models.MasterSkill, error) {
	skill := models.MasterSkill{SkillName: name}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "skill_name"}},
		DoNothing: true,
	}).Create(&skill).Error; err != nil {
		return nil, fmt.Errorf("写入技能字典 %s 失败: %w", name, err)
	}

	var stored models.MasterSkill
	if err := tx.Where("skill_name = ?", name).Take(&stored).Error; err != nil {
		return nil, fmt.Errorf("读取技能字典 %s 失败: %w", name, err)
	}
	return &stored, nil
}

// clip 按字符数截断到列宽，严格模式的 MySQL 会拒绝超长值
func clip(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	return string([]rune(s)[:width])
}

func parseYear(s string) *int {
	m := yearPattern.FindString(s)
	if m == "" {
		return nil
	}
	y, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &y
}
