package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/storage/models"
	"resume-pipeline/internal/types"
)

func newTestRepository(t *testing.T) *SubmissionRepository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := NewDatabase(&config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		LogLevel:   1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSubmissionRepository(db.DB())
}

func samplePayload(t *testing.T) (*types.CandidatePayload, json.RawMessage) {
	t.Helper()
	raw := json.RawMessage(`{
		"full_name": "Jane Doe",
		"emails": ["jane@example.com", "JANE@example.com"],
		"phones": ["+1 555 0100"],
		"location": "Berlin",
		"current_role": "Backend Engineer",
		"total_experience_years": "7.5 years",
		"current_salary": 90000,
		"education": [{"degree": "BSc", "institution": "TU Berlin", "major": "CS", "graduation_year": "2015"}],
		"experience": [{"job_title": "Engineer", "organization": "Acme", "start_date": "2016", "roles_responsibilities": ["APIs", "Ops"]}],
		"skills": ["Go", "SQL", "go"],
		"languages": ["English", {"language": "German", "proficiency": "B2"}]
	}`)
	var p types.CandidatePayload
	require.NoError(t, json.Unmarshal(raw, &p))
	p.Normalize()
	return &p, raw
}

func TestCreateSubmissionStartsPending(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	id, err := repo.CreateSubmission(ctx, "resume/abc/original.pdf", "cv.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sub, err := repo.GetSubmission(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(types.StatusPending), sub.Status)
	assert.Equal(t, "cv.pdf", sub.OriginalFilename)
	assert.Nil(t, sub.CandidateID)
	assert.Nil(t, sub.Confidence)
	assert.Nil(t, sub.ProviderID)
}

func TestGetSubmissionNotFound(t *testing.T) {
	repo := newTestRepository(t)
	_, err := repo.GetSubmission(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestUpdateSubmissionStatusTransitions(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	id, err := repo.CreateSubmission(ctx, "ref", "cv.txt")
	require.NoError(t, err)

	err = repo.UpdateSubmissionStatus(ctx, id, types.StatusFailed, "skip")
	assert.ErrorIs(t, err, ErrInvalidTransition, "pending 不能直接失败")

	require.NoError(t, repo.UpdateSubmissionStatus(ctx, id, types.StatusProcessing, ""))

	err = repo.UpdateSubmissionStatus(ctx, id, types.StatusProcessing, "")
	assert.ErrorIs(t, err, ErrInvalidTransition, "重复认领必须被拒绝")

	err = repo.UpdateSubmissionStatus(ctx, id, types.StatusCompleted, "")
	assert.ErrorIs(t, err, ErrInvalidTransition, "completed 只能通过关联进入")

	require.NoError(t, repo.UpdateSubmissionStatus(ctx, id, types.StatusFailed, "text too short"))

	sub, err := repo.GetSubmission(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(types.StatusFailed), sub.Status)
	assert.Equal(t, "text too short", sub.StatusDetail)
	assert.Nil(t, sub.CandidateID)

	err = repo.UpdateSubmissionStatus(ctx, id, types.StatusProcessing, "")
	assert.ErrorIs(t, err, ErrInvalidTransition, "终态不可再迁移")
}

func TestUpdateSubmissionStatusMissing(t *testing.T) {
	repo := newTestRepository(t)
	err := repo.UpdateSubmissionStatus(context.Background(), "missing", types.StatusProcessing, "")
	assert.ErrorIs(t, err, ErrSubmissionNotFound)
}

func TestCreateStructuredRecordAndLink(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	payload, raw := samplePayload(t)

	id, err := repo.CreateSubmission(ctx, "ref", "cv.pdf")
	require.NoError(t, err)
	require.NoError(t, repo.UpdateSubmissionStatus(ctx, id, types.StatusProcessing, ""))

	recordID, err := repo.CreateStructuredRecord(ctx, id, payload, raw)
	require.NoError(t, err)
	require.NotEmpty(t, recordID)

	again, err := repo.CreateStructuredRecord(ctx, id, payload, raw)
	require.NoError(t, err)
	assert.Equal(t, recordID, again, "同一提交只能有一条结构化记录")

	require.NoError(t, repo.LinkSubmission(ctx, id, recordID, 85, "groq:llama-3.1-8b-instant"))

	sub, err := repo.GetSubmission(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(types.StatusCompleted), sub.Status)
	require.NotNil(t, sub.CandidateID)
	assert.Equal(t, recordID, *sub.CandidateID)
	require.NotNil(t, sub.Confidence)
	assert.InDelta(t, 85, *sub.Confidence, 0.001)
	require.NotNil(t, sub.ProviderID)
	assert.Equal(t, "groq:llama-3.1-8b-instant", *sub.ProviderID)
	assert.NotNil(t, sub.CompletedAt)

	err = repo.LinkSubmission(ctx, id, recordID, 85, "groq:llama-3.1-8b-instant")
	assert.ErrorIs(t, err, ErrInvalidTransition, "已完成的提交不能再次关联")

	candidates, err := repo.ListCandidates(ctx, CandidateFilter{})
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	c := candidates[0]
	assert.Equal(t, "Jane Doe", c.FullName)
	assert.Equal(t, "Berlin", c.CurrentLocation)
	assert.Equal(t, "90000", c.CurrentSalary)
	require.NotNil(t, c.TotalExperienceYears)
	assert.InDelta(t, 7.5, *c.TotalExperienceYears, 0.001)
	assert.Len(t, c.Emails, 1)
	assert.Len(t, c.Phones, 1)
	require.Len(t, c.Education, 1)
	require.NotNil(t, c.Education[0].GraduationYear)
	assert.Equal(t, 2015, *c.Education[0].GraduationYear)
	require.Len(t, c.Experience, 1)
	assert.Equal(t, "APIs\nOps", c.Experience[0].RolesResponsibilities)
	require.Len(t, c.Skills, 2)
	assert.NotNil(t, c.Skills[0].MasterSkill)
	assert.Len(t, c.Languages, 2)
	require.NotNil(t, c.Submission)
	assert.Equal(t, "cv.pdf", c.Submission.OriginalFilename)
}

func TestCreateStructuredRecordClipsToColumnWidth(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	longSkill := strings.Repeat("k", 300)
	p := &types.CandidatePayload{
		FullName: "Jane Doe",
		Phones:   []string{"+1 555 0100 ext. 42 (office, mornings only, ask for Jane)"},
		Experience: []types.ExperienceEntry{{
			JobTitle:  "Engineer",
			StartDate: types.FlexString("since the early days of the company, roughly spring 2016"),
		}},
		Skills:    []string{longSkill},
		Languages: []types.LanguageEntry{{Language: strings.Repeat("语", 120), Proficiency: "native"}},
	}

	id, err := repo.CreateSubmission(ctx, "ref", "cv.pdf")
	require.NoError(t, err)
	_, err = repo.CreateStructuredRecord(ctx, id, p, nil)
	require.NoError(t, err)

	candidates, err := repo.ListCandidates(ctx, CandidateFilter{})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	c := candidates[0]

	require.Len(t, c.Phones, 1)
	assert.Len(t, []rune(c.Phones[0].PhoneNumber), models.WidthShort)
	require.Len(t, c.Experience, 1)
	assert.Len(t, []rune(c.Experience[0].StartDate), models.WidthShort)
	require.Len(t, c.Languages, 1)
	assert.Equal(t, strings.Repeat("语", models.WidthMedium), c.Languages[0].Language)
	require.Len(t, c.Skills, 1)
	require.NotNil(t, c.Skills[0].MasterSkill)
	assert.Equal(t, longSkill[:models.WidthDefault], c.Skills[0].MasterSkill.SkillName)
}

func TestClip(t *testing.T) {
	assert.Equal(t, "abc", clip("abc", 5))
	assert.Equal(t, "ab", clip("abcdef", 2))
	assert.Equal(t, "简历", clip("简历内容", 2))
}

func TestLinkSubmissionRequiresProcessing(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	id, err := repo.CreateSubmission(ctx, "ref", "cv.pdf")
	require.NoError(t, err)

	err = repo.LinkSubmission(ctx, id, "record", 90, "openai:gpt-4o-mini")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	err = repo.LinkSubmission(ctx, id, "record", 120, "openai:gpt-4o-mini")
	assert.Error(t, err)
}

func TestMasterSkillsSharedAcrossCandidates(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	payload, raw := samplePayload(t)

	for i := 0; i < 2; i++ {
		id, err := repo.CreateSubmission(ctx, "ref", "cv.pdf")
		require.NoError(t, err)
		_, err = repo.CreateStructuredRecord(ctx, id, payload, raw)
		require.NoError(t, err)
	}

	var skills int64
	require.NoError(t, repo.DB().Model(&models.MasterSkill{}).Count(&skills).Error)
	assert.Equal(t, int64(2), skills)

	var links int64
	require.NoError(t, repo.DB().Model(&models.CandidateSkill{}).Count(&links).Error)
	assert.Equal(t, int64(4), links)
}

func TestListSubmissionIDsByStatusAndCounts(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := repo.CreateSubmission(ctx, fmt.Sprintf("ref-%d", i), "cv.txt")
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.NoError(t, repo.UpdateSubmissionStatus(ctx, ids[0], types.StatusProcessing, ""))

	pending, err := repo.ListSubmissionIDsByStatus(ctx, types.StatusPending, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids[1:], pending)

	limited, err := repo.ListSubmissionIDsByStatus(ctx, types.StatusPending, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	counts, err := repo.CountSubmissionsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[types.StatusPending])
	assert.Equal(t, int64(1), counts[types.StatusProcessing])
}

func TestSaveProcessingEvent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	err := repo.SaveProcessingEvent(ctx,
		&models.ProcessingLog{SubmissionID: "s1", Action: "PROCESSING_STARTED", Success: true},
		&models.OutboxMessage{AggregateID: "s1", EventType: "PROCESSING_STARTED", Payload: "{}", TargetExchange: "x", TargetRoutingKey: "k", Status: models.OutboxStatusPending},
	)
	require.NoError(t, err)

	var logs, outbox int64
	require.NoError(t, repo.DB().Model(&models.ProcessingLog{}).Count(&logs).Error)
	require.NoError(t, repo.DB().Model(&models.OutboxMessage{}).Count(&outbox).Error)
	assert.Equal(t, int64(1), logs)
	assert.Equal(t, int64(1), outbox)
}

func TestParseYear(t *testing.T) {
	assert.Nil(t, parseYear(""))
	assert.Nil(t, parseYear("expected soon"))
	y := parseYear("May 2019")
	require.NotNil(t, y)
	assert.Equal(t, 2019, *y)
}

func TestErrorsAreDistinct(t *testing.T) {
	assert.False(t, errors.Is(ErrInvalidTransition, ErrSubmissionNotFound))
}
