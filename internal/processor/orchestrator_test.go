package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/events"
	"resume-pipeline/internal/extractor"
	"resume-pipeline/internal/parser"
	"resume-pipeline/internal/storage"
	"resume-pipeline/internal/storage/models"
	"resume-pipeline/internal/types"
)

const longText = "Jane Doe, Backend Engineer with seven years of Go, SQL and distributed systems experience."

type fakeExtractor struct {
	text  string
	err   error
	panic bool
	calls atomic.Int32
}

func (f *fakeExtractor) Extract(ctx context.Context, ref string) (string, error) {
	f.calls.Add(1)
	if f.panic {
		panic("extractor exploded")
	}
	return f.text, f.err
}

type fakeParser struct {
	result *parser.Result
	err    error
	calls  atomic.Int32
}

func (f *fakeParser) Parse(ctx context.Context, text string) (*parser.Result, error) {
	f.calls.Add(1)
	return f.result, f.err
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSink) Emit(ctx context.Context, ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type linkFailingStore struct {
	*storage.SubmissionRepository
}

func (linkFailingStore) LinkSubmission(ctx context.Context, id, recordID string, confidence float64, providerID string) error {
	return errors.New("connection reset")
}

func newRepo(t *testing.T) *storage.SubmissionRepository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := storage.NewDatabase(&config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
		LogLevel:   1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewSubmissionRepository(db.DB())
}

func parsedResult(t *testing.T) *parser.Result {
	t.Helper()
	raw := json.RawMessage(`{"full_name":"Jane Doe","emails":["jane@example.com"],"skills":["Go"]}`)
	var p types.CandidatePayload
	require.NoError(t, json.Unmarshal(raw, &p))
	p.Normalize()
	return &parser.Result{Payload: &p, ProviderID: "groq:llama-3.1-8b-instant", Confidence: 85, RawJSON: raw}
}

func newTestOrchestrator(t *testing.T, store SubmissionStore, ex Extractor, p StructuredParser, sink EventSink) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(
		NewComponents(WithExtractor(ex), WithParser(p), WithStore(store), WithEvents(sink)),
		&Settings{},
		WithMinTextLength(50),
	)
	require.NoError(t, err)
	return o
}

func TestProcessCompletesSubmission(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	id, err := repo.CreateSubmission(ctx, "resume/x/original.pdf", "cv.pdf")
	require.NoError(t, err)

	sink := &recordingSink{}
	o := newTestOrchestrator(t, repo, &fakeExtractor{text: longText}, &fakeParser{result: parsedResult(t)}, sink)
	o.Process(ctx, id)

	sub, err := repo.GetSubmission(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(types.StatusCompleted), sub.Status)
	require.NotNil(t, sub.CandidateID)
	require.NotNil(t, sub.Confidence)
	assert.InDelta(t, 85, *sub.Confidence, 0.001)
	require.NotNil(t, sub.ProviderID)
	assert.Equal(t, "groq:llama-3.1-8b-instant", *sub.ProviderID)

	assert.Equal(t, []events.Type{events.ProcessingStarted, events.CandidateSaved, events.ProcessingCompleted}, sink.types())
}

type panickingSink struct {
	calls atomic.Int32
}

func (p *panickingSink) Emit(ctx context.Context, ev events.Event) {
	p.calls.Add(1)
	panic("sink exploded")
}

func TestProcessSurvivesPanickingSink(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	okID, err := repo.CreateSubmission(ctx, "resume/ok/original.pdf", "ok.pdf")
	require.NoError(t, err)
	failID, err := repo.CreateSubmission(ctx, "resume/short/original.pdf", "short.pdf")
	require.NoError(t, err)

	sink := &panickingSink{}
	o := newTestOrchestrator(t, repo, &fakeExtractor{text: longText}, &fakeParser{result: parsedResult(t)}, sink)
	require.NotPanics(t, func() { o.Process(ctx, okID) })

	sub, err := repo.GetSubmission(ctx, okID)
	require.NoError(t, err)
	assert.Equal(t, string(types.StatusCompleted), sub.Status, "事件投递 panic 不应让成功的提交失败")
	assert.Equal(t, int32(3), sink.calls.Load())

	short := newTestOrchestrator(t, repo, &fakeExtractor{text: "too short"}, &fakeParser{}, sink)
	require.NotPanics(t, func() { short.Process(ctx, failID) })

	sub, err = repo.GetSubmission(ctx, failID)
	require.NoError(t, err)
	assert.Equal(t, string(types.StatusFailed), sub.Status)
}

func TestProcessShortTextSkipsParser(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	id, err := repo.CreateSubmission(ctx, "resume/x/original.txt", "cv.txt")
	require.NoError(t, err)

	p := &fakeParser{result: parsedResult(t)}
	sink := &recordingSink{}
	o := newTestOrchestrator(t, repo, &fakeExtractor{text: "   too short   "}, p, sink)
	o.Process(ctx, id)

	assert.Zero(t, p.calls.Load(), "文本过短时不应调用解析器")
	sub, err := repo.GetSubmission(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(types.StatusFailed), sub.Status)
	assert.Contains(t, sub.StatusDetail, ErrInsufficientText.Error())
	assert.Nil(t, sub.CandidateID)

	got := sink.types()
	require.NotEmpty(t, got)
	assert.Equal(t, events.ProcessingFailed, got[len(got)-1])
}

func TestProcessFailureModes(t *testing.T) {
	cases := []struct {
		name      string
		extractor *fakeExtractor
		parser    *fakeParser
		wantInErr string
	}{
		{
			name:      "unsupported format",
			extractor: &fakeExtractor{err: &extractor.ExtractionError{Ref: "a.docx", Err: extractor.ErrUnsupportedFormat}},
			parser:    &fakeParser{},
			wantInErr: ErrUnsupportedFormat.Error(),
		},
		{
			name:      "extraction failed",
			extractor: &fakeExtractor{err: errors.New("object not found")},
			parser:    &fakeParser{},
			wantInErr: ErrExtractionFailed.Error(),
		},
		{
			name:      "all providers failed",
			extractor: &fakeExtractor{text: longText},
			parser:    &fakeParser{err: &parser.AllProvidersFailedError{}},
			wantInErr: ErrParseFailed.Error(),
		},
		{
			name:      "no provider",
			extractor: &fakeExtractor{text: longText},
			parser:    &fakeParser{err: parser.ErrNoProviderAvailable},
			wantInErr: ErrParseFailed.Error(),
		},
		{
			name:      "panic in extractor",
			extractor: &fakeExtractor{panic: true},
			parser:    &fakeParser{},
			wantInErr: "extractor exploded",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newRepo(t)
			ctx := context.Background()
			id, err := repo.CreateSubmission(ctx, "ref.pdf", "cv.pdf")
			require.NoError(t, err)

			sink := &recordingSink{}
			o := newTestOrchestrator(t, repo, tc.extractor, tc.parser, sink)
			assert.NotPanics(t, func() { o.Process(ctx, id) })

			sub, err := repo.GetSubmission(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, string(types.StatusFailed), sub.Status)
			assert.Contains(t, sub.StatusDetail, tc.wantInErr)
			assert.Nil(t, sub.CandidateID)
			assert.Nil(t, sub.Confidence)

			got := sink.types()
			assert.Equal(t, events.ProcessingFailed, got[len(got)-1])
		})
	}
}

func TestProcessLinkFailureLeavesSubmissionUnlinked(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	id, err := repo.CreateSubmission(ctx, "ref.txt", "cv.txt")
	require.NoError(t, err)

	o := newTestOrchestrator(t, linkFailingStore{repo}, &fakeExtractor{text: longText}, &fakeParser{result: parsedResult(t)}, nil)
	o.Process(ctx, id)

	sub, err := repo.GetSubmission(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(types.StatusFailed), sub.Status)
	assert.Nil(t, sub.CandidateID)
	assert.Contains(t, sub.StatusDetail, ErrPersistenceFailed.Error())
}

func TestProcessRejectsCompletedSubmission(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	id, err := repo.CreateSubmission(ctx, "ref.txt", "cv.txt")
	require.NoError(t, err)

	ex := &fakeExtractor{text: longText}
	p := &fakeParser{result: parsedResult(t)}
	o := newTestOrchestrator(t, repo, ex, p, nil)
	o.Process(ctx, id)
	o.Process(ctx, id)

	assert.Equal(t, int32(1), ex.calls.Load(), "已完成的提交不应被再次处理")
	assert.Equal(t, int32(1), p.calls.Load())

	var records int64
	require.NoError(t, repo.DB().Model(&models.Candidate{}).Where("submission_id = ?", id).Count(&records).Error)
	assert.Equal(t, int64(1), records)

	sub, err := repo.GetSubmission(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(types.StatusCompleted), sub.Status)
}

func TestProcessUnknownSubmission(t *testing.T) {
	repo := newRepo(t)
	ex := &fakeExtractor{text: longText}
	o := newTestOrchestrator(t, repo, ex, &fakeParser{}, nil)
	assert.NotPanics(t, func() { o.Process(context.Background(), "missing") })
	assert.Zero(t, ex.calls.Load())
}

func TestNewOrchestratorRequiresComponents(t *testing.T) {
	_, err := NewOrchestrator(&Components{}, nil)
	assert.Error(t, err)
}

func TestPipelineErrorMatching(t *testing.T) {
	cause := &extractor.ExtractionError{Ref: "a.docx", Err: extractor.ErrUnsupportedFormat}
	err := NewExtractionError("id-1", cause)

	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "extract", pe.Op)
	assert.Equal(t, "id-1", pe.SubmissionID)

	var ee *extractor.ExtractionError
	assert.ErrorAs(t, err, &ee, "底层原因仍可取出")

	parseErr := NewParseError("id-2", parser.ErrNoProviderAvailable)
	assert.ErrorIs(t, parseErr, ErrParseFailed)
	assert.ErrorIs(t, parseErr, parser.ErrNoProviderAvailable)
	assert.NotErrorIs(t, parseErr, ErrPersistenceFailed)
}
