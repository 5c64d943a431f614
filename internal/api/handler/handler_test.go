package handler

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/dispatcher"
)

type fakeBlobs struct {
	uploaded map[string]string
	err      error
}

func (f *fakeBlobs) UploadDocument(ctx context.Context, objectID, filename string, reader io.Reader, size int64) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	data, _ := io.ReadAll(reader)
	if f.uploaded == nil {
		f.uploaded = map[string]string{}
	}
	ref := "resumes/" + objectID + ".pdf"
	f.uploaded[ref] = string(data)
	return ref, "md5-" + string(data), nil
}

func (f *fakeBlobs) Download(ctx context.Context, ref string) ([]byte, error) {
	return []byte(f.uploaded[ref]), nil
}

type fakeDedup struct {
	seen map[string]string
	err  error
}

func (f *fakeDedup) RecordFileMD5(ctx context.Context, md5Hex, submissionID string) (bool, string, error) {
	if f.err != nil {
		return false, "", f.err
	}
	if f.seen == nil {
		f.seen = map[string]string{}
	}
	if first, ok := f.seen[md5Hex]; ok {
		return true, first, nil
	}
	f.seen[md5Hex] = submissionID
	return false, "", nil
}

type fakeSubmitter struct {
	mu    sync.Mutex
	refs  []string
	names []string
	err   error
}

func (f *fakeSubmitter) Submit(ctx context.Context, ref, filename string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.refs = append(f.refs, ref)
	f.names = append(f.names, filename)
	return "sub-" + string(rune('0'+len(f.refs))), nil
}

func (f *fakeSubmitter) Stats() dispatcher.Stats {
	return dispatcher.Stats{Workers: 2}
}

func TestHandleResumeUploadAcceptsAndFlagsDuplicates(t *testing.T) {
	blobs := &fakeBlobs{}
	sub := &fakeSubmitter{}
	h := NewResumeHandler(blobs, &fakeDedup{}, sub, nil)

	first, err := h.HandleResumeUpload(context.Background(), strings.NewReader("same"), 4, "a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "sub-1", first.SubmissionID)
	assert.Equal(t, "pending", first.Status)
	assert.False(t, first.Duplicate)

	second, err := h.HandleResumeUpload(context.Background(), strings.NewReader("same"), 4, "b.pdf")
	require.NoError(t, err)
	assert.Equal(t, "sub-2", second.SubmissionID)
	assert.True(t, second.Duplicate)
	assert.Equal(t, "sub-1", second.DuplicateOf)

	require.Len(t, sub.refs, 2)
	assert.NotEqual(t, sub.refs[0], sub.refs[1])
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, sub.names)
}

func TestHandleResumeUploadDedupErrorDoesNotReject(t *testing.T) {
	h := NewResumeHandler(&fakeBlobs{}, &fakeDedup{err: errors.New("redis down")}, &fakeSubmitter{}, nil)

	resp, err := h.HandleResumeUpload(context.Background(), strings.NewReader("x"), 1, "a.pdf")
	require.NoError(t, err)
	assert.False(t, resp.Duplicate)
}

func TestHandleResumeUploadErrors(t *testing.T) {
	t.Run("上传失败不登记提交", func(t *testing.T) {
		sub := &fakeSubmitter{}
		h := NewResumeHandler(&fakeBlobs{err: errors.New("minio down")}, nil, sub, nil)
		_, err := h.HandleResumeUpload(context.Background(), strings.NewReader("x"), 1, "a.pdf")
		assert.Error(t, err)
		assert.Empty(t, sub.refs)
	})

	t.Run("调度器已关闭", func(t *testing.T) {
		h := NewResumeHandler(&fakeBlobs{}, nil, &fakeSubmitter{err: dispatcher.ErrDispatcherClosed}, nil)
		_, err := h.HandleResumeUpload(context.Background(), strings.NewReader("x"), 1, "a.pdf")
		assert.ErrorIs(t, err, dispatcher.ErrDispatcherClosed)
	})
}

func TestParseFilter(t *testing.T) {
	f, err := parseFilter("2024-01-01", "2024-01-31", "10")
	require.NoError(t, err)
	require.NotNil(t, f.Since)
	require.NotNil(t, f.Until)
	assert.Equal(t, "2024-01-01", f.Since.Format("2006-01-02"))
	assert.Equal(t, "2024-02-01", f.Until.Format("2006-01-02"))
	assert.Equal(t, 10, f.Limit)

	empty, err := parseFilter("", "", "")
	require.NoError(t, err)
	assert.Nil(t, empty.Since)
	assert.Nil(t, empty.Until)
	assert.Zero(t, empty.Limit)

	_, err = parseFilter("01/02/2024", "", "")
	assert.Error(t, err)
	_, err = parseFilter("", "", "-1")
	assert.Error(t, err)
}

type fakeQueue struct {
	queues    []string
	exchanges []string
	bindings  []string
	consumers int
}

func (q *fakeQueue) PublishMessage(ctx context.Context, exchange, key string, body []byte, contentType string) error {
	return nil
}
func (q *fakeQueue) EnsureExchange(name, kind string, durable bool) error {
	q.exchanges = append(q.exchanges, name)
	return nil
}
func (q *fakeQueue) EnsureQueue(name string, durable bool) error {
	q.queues = append(q.queues, name)
	return nil
}
func (q *fakeQueue) BindQueue(queue, exchange, key string) error {
	q.bindings = append(q.bindings, exchange+":"+queue+":"+key)
	return nil
}
func (q *fakeQueue) StartConsumer(ctx context.Context, queue string, prefetch int, handler func(context.Context, []byte) bool) error {
	q.consumers++
	return nil
}
func (q *fakeQueue) Close() error { return nil }

func TestIntakeConsumerStart(t *testing.T) {
	q := &fakeQueue{}
	cfg := &config.RabbitMQConfig{
		IntakeExchange: "resume.intake",
		IntakeQueue:    "resume.intake.q",
		IntakeKey:      "submit",
		IntakeWorkers:  3,
	}
	require.NoError(t, NewIntakeConsumer(q, cfg, &fakeSubmitter{}).Start(context.Background()))

	assert.Equal(t, []string{"resume.intake.q"}, q.queues)
	assert.Equal(t, []string{"resume.intake"}, q.exchanges)
	assert.Equal(t, []string{"resume.intake:resume.intake.q:submit"}, q.bindings)
	assert.Equal(t, 3, q.consumers)

	err := NewIntakeConsumer(q, &config.RabbitMQConfig{}, &fakeSubmitter{}).Start(context.Background())
	assert.Error(t, err)
}

func TestIntakeConsumerHandleMessage(t *testing.T) {
	sub := &fakeSubmitter{}
	c := NewIntakeConsumer(&fakeQueue{}, &config.RabbitMQConfig{}, sub)

	assert.True(t, c.HandleMessage(context.Background(), []byte(`{"document_ref":"resumes/a.pdf","filename":"a.pdf"}`)))
	assert.Equal(t, []string{"resumes/a.pdf"}, sub.refs)

	// 格式错误或缺字段的消息被确认丢弃
	assert.True(t, c.HandleMessage(context.Background(), []byte(`not json`)))
	assert.True(t, c.HandleMessage(context.Background(), []byte(`{"filename":"a.pdf"}`)))
	assert.Len(t, sub.refs, 1)

	failing := NewIntakeConsumer(&fakeQueue{}, &config.RabbitMQConfig{}, &fakeSubmitter{err: errors.New("db down")})
	assert.False(t, failing.HandleMessage(context.Background(), []byte(`{"document_ref":"resumes/a.pdf","filename":"a.pdf"}`)))
}
