package models

import (
	"time"

	"gorm.io/datatypes"
)

// varchar 列宽(字符数)，写入前按此截断
const (
	WidthShort   = 50
	WidthMedium  = 100
	WidthDefault = 255
)

// Submission 简历提交记录，状态机: pending -> processing -> completed|failed
type Submission struct {
	SubmissionID     string    `gorm:"type:char(36);primaryKey"`
	DocumentRef      string    `gorm:"type:varchar(1024);not null"`
	OriginalFilename string    `gorm:"type:varchar(255)"`
	Status           string    `gorm:"type:varchar(20);not null;default:'pending';index:idx_sub_status_created_at,priority:1"`
	StatusDetail     string    `gorm:"type:text"`
	CandidateID      *string   `gorm:"type:char(36);index:idx_sub_candidate_id"` // completed 时非空
	Confidence       *float64  `gorm:"type:decimal(5,2)"`
	ProviderID       *string   `gorm:"type:varchar(255)"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index:idx_sub_status_created_at,priority:2"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime"`
	CompletedAt      *time.Time
}

func (Submission) TableName() string {
	return "submissions"
}

// Candidate 结构化候选人记录，每个提交最多一条
type Candidate struct {
	CandidateID          string         `gorm:"type:char(36);primaryKey"`
	SubmissionID         string         `gorm:"type:char(36);not null;uniqueIndex:idx_candidates_submission_unique"`
	FullName             string         `gorm:"type:varchar(255)"`
	CurrentRole          string         `gorm:"type:varchar(255)"`
	CurrentEmployer      string         `gorm:"type:varchar(255)"`
	CurrentLocation      string         `gorm:"type:varchar(255)"`
	LinkedInURL          string         `gorm:"type:text"`
	CurrentSalary        string         `gorm:"type:varchar(255)"`
	ExpectedSalary       string         `gorm:"type:varchar(255)"`
	NoticePeriod         string         `gorm:"type:varchar(100)"`
	TotalExperienceYears *float64       `gorm:"type:decimal(4,1)"`
	RawJSON              datatypes.JSON `gorm:"column:raw_json"`
	CreatedAt            time.Time      `gorm:"autoCreateTime;index:idx_candidates_created_at"`
	UpdatedAt            time.Time      `gorm:"autoUpdateTime"`

	Emails     []CandidateEmail      `gorm:"foreignKey:CandidateID;references:CandidateID;constraint:OnDelete:CASCADE"`
	Phones     []CandidatePhone      `gorm:"foreignKey:CandidateID;references:CandidateID;constraint:OnDelete:CASCADE"`
	Education  []CandidateEducation  `gorm:"foreignKey:CandidateID;references:CandidateID;constraint:OnDelete:CASCADE"`
	Experience []CandidateExperience `gorm:"foreignKey:CandidateID;references:CandidateID;constraint:OnDelete:CASCADE"`
	Skills     []CandidateSkill      `gorm:"foreignKey:CandidateID;references:CandidateID;constraint:OnDelete:CASCADE"`
	Languages  []CandidateLanguage   `gorm:"foreignKey:CandidateID;references:CandidateID;constraint:OnDelete:CASCADE"`

	Submission *Submission `gorm:"foreignKey:SubmissionID;references:SubmissionID"`
}

func (Candidate) TableName() string {
	return "candidates"
}

// CandidateEmail 候选人邮箱
type CandidateEmail struct {
	ID           uint64 `gorm:"primaryKey;autoIncrement"`
	CandidateID  string `gorm:"type:char(36);not null;index:idx_ce_candidate_id"`
	EmailAddress string `gorm:"type:varchar(255);index:idx_ce_email"`
}

func (CandidateEmail) TableName() string {
	return "candidate_emails"
}

// CandidatePhone 候选人电话
type CandidatePhone struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	CandidateID string `gorm:"type:char(36);not null;index:idx_cp_candidate_id"`
	PhoneNumber string `gorm:"type:varchar(50)"`
}

func (CandidatePhone) TableName() string {
	return "candidate_phones"
}

// CandidateEducation 教育经历
type CandidateEducation struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement"`
	CandidateID    string `gorm:"type:char(36);not null;index:idx_ced_candidate_id"`
	Degree         string `gorm:"type:varchar(255)"`
	Institution    string `gorm:"type:varchar(255)"`
	Major          string `gorm:"type:varchar(255)"`
	GraduationYear *int
}

func (CandidateEducation) TableName() string {
	return "candidate_education"
}

// CandidateExperience 工作经历，日期保留供应商给出的原始文本
type CandidateExperience struct {
	ID                    uint64 `gorm:"primaryKey;autoIncrement"`
	CandidateID           string `gorm:"type:char(36);not null;index:idx_cex_candidate_id"`
	JobTitle              string `gorm:"type:varchar(255)"`
	Organization          string `gorm:"type:varchar(255)"`
	Location              string `gorm:"type:varchar(255)"`
	ReportingTo           string `gorm:"type:varchar(255)"`
	StartDate             string `gorm:"type:varchar(50)"`
	EndDate               string `gorm:"type:varchar(50)"`
	RolesResponsibilities string `gorm:"type:text"`
	Achievements          string `gorm:"type:text"`
}

func (CandidateExperience) TableName() string {
	return "candidate_experience"
}

// MasterSkill 技能字典，名称唯一
type MasterSkill struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	SkillName string `gorm:"type:varchar(255);not null;uniqueIndex:idx_master_skills_name_unique"`
	SkillType string `gorm:"type:varchar(50)"`
	Category  string `gorm:"type:varchar(100)"`
}

func (MasterSkill) TableName() string {
	return "master_skills"
}

// CandidateSkill 候选人与技能的关联
type CandidateSkill struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	CandidateID string `gorm:"type:char(36);not null;uniqueIndex:idx_cs_candidate_skill_unique,priority:1"`
	SkillID     uint64 `gorm:"not null;uniqueIndex:idx_cs_candidate_skill_unique,priority:2"`
	SkillLevel  string `gorm:"type:varchar(50)"`

	MasterSkill *MasterSkill `gorm:"foreignKey:SkillID;references:ID;constraint:OnDelete:CASCADE"`
}

func (CandidateSkill) TableName() string {
	return "candidate_skills"
}

// CandidateLanguage 语言能力
type CandidateLanguage struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	CandidateID string `gorm:"type:char(36);not null;index:idx_cl_candidate_id"`
	Language    string `gorm:"type:varchar(100)"`
	Proficiency string `gorm:"type:varchar(50)"`
}

func (CandidateLanguage) TableName() string {
	return "candidate_languages"
}

// ProcessingLog 处理事件日志
type ProcessingLog struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	SubmissionID string    `gorm:"type:char(36);not null;index:idx_pl_submission_id"`
	CandidateID  *string   `gorm:"type:char(36)"`
	Action       string    `gorm:"type:varchar(64);not null;index:idx_pl_action"`
	Details      string    `gorm:"type:text"`
	Success      bool      `gorm:"not null"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

func (ProcessingLog) TableName() string {
	return "processing_logs"
}

// AllModels 需要自动迁移的全部模型
func AllModels() []interface{} {
	return []interface{}{
		&Submission{},
		&Candidate{},
		&CandidateEmail{},
		&CandidatePhone{},
		&CandidateEducation{},
		&CandidateExperience{},
		&MasterSkill{},
		&CandidateSkill{},
		&CandidateLanguage{},
		&ProcessingLog{},
		&OutboxMessage{},
	}
}
