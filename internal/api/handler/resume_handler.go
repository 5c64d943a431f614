package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"resume-pipeline/internal/dispatcher"
	"resume-pipeline/internal/logger"
	"resume-pipeline/internal/storage"
	"resume-pipeline/internal/storage/models"
	"resume-pipeline/internal/tracing"
	"resume-pipeline/internal/types"
)

// Submitter 接收新提交，dispatcher.Dispatcher 实现该接口
type Submitter interface {
	Submit(ctx context.Context, documentRef, filename string) (string, error)
	Stats() dispatcher.Stats
}

// SubmissionReader 查询提交状态
type SubmissionReader interface {
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
}

// ResumeHandler 简历上传与状态查询
type ResumeHandler struct {
	blobs       storage.BlobStore
	dedup       storage.DedupRecorder // 可为 nil
	submitter   Submitter
	submissions SubmissionReader
}

// NewResumeHandler 创建简历处理器，dedup 为 nil 时不做上传去重
func NewResumeHandler(blobs storage.BlobStore, dedup storage.DedupRecorder, submitter Submitter, submissions SubmissionReader) *ResumeHandler {
	return &ResumeHandler{
		blobs:       blobs,
		dedup:       dedup,
		submitter:   submitter,
		submissions: submissions,
	}
}

// ResumeUploadResponse 简历上传响应
type ResumeUploadResponse struct {
	SubmissionID string `json:"submission_id"`
	Status       string `json:"status"`
	Duplicate    bool   `json:"duplicate"`
	DuplicateOf  string `json:"duplicate_of,omitempty"`
}

// SubmissionView 提交状态视图
type SubmissionView struct {
	SubmissionID     string     `json:"submission_id"`
	Status           string     `json:"status"`
	StatusDetail     string     `json:"status_detail,omitempty"`
	OriginalFilename string     `json:"original_filename"`
	RecordID         *string    `json:"record_id"`
	Confidence       *float64   `json:"confidence"`
	ProviderID       *string    `json:"provider_id"`
	CreatedAt        time.Time  `json:"created_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// HandleResumeUpload 上传原始文件并登记提交；重复文件同样受理，只在响应中标记
func (h *ResumeHandler) HandleResumeUpload(ctx context.Context, reader io.Reader, fileSize int64, filename string) (*ResumeUploadResponse, error) {
	if h.blobs == nil {
		return nil, fmt.Errorf("对象存储未配置")
	}

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("upload.filename", tracing.SafeAttributeValue("filename", filename, tracing.DefaultMaxLength)),
		attribute.Int64("upload.size", fileSize),
	)

	objectID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("生成对象ID失败: %w", err)
	}

	ref, md5Hex, err := h.blobs.UploadDocument(ctx, objectID.String(), filename, reader, fileSize)
	if err != nil {
		return nil, fmt.Errorf("上传简历到MinIO失败: %w", err)
	}

	submissionID, err := h.submitter.Submit(ctx, ref, filename)
	if err != nil {
		return nil, fmt.Errorf("登记提交失败: %w", err)
	}

	resp := &ResumeUploadResponse{
		SubmissionID: submissionID,
		Status:       string(types.StatusPending),
	}

	if h.dedup != nil {
		dup, firstID, err := h.dedup.RecordFileMD5(ctx, md5Hex, submissionID)
		if err != nil {
			// 去重只影响响应标记，不影响受理
			tracing.RecordError(span, err, tracing.ErrorTypeRedis)
			logger.Warn().Err(err).Str("md5", md5Hex).Str("submission_id", submissionID).Msg("记录文件MD5失败")
		} else if dup {
			resp.Duplicate = true
			resp.DuplicateOf = firstID
			logger.Info().
				Str("md5", md5Hex).
				Str("submission_id", submissionID).
				Str("duplicate_of", firstID).
				Msg("检测到重复上传的文件")
		}
	}

	logger.Info().
		Str("submission_id", submissionID).
		Str("filename", filename).
		Int64("size", fileSize).
		Str("ref", ref).
		Msg("简历已受理")
	return resp, nil
}

// HandleUpload POST /api/v1/resumes
func (h *ResumeHandler) HandleUpload(c context.Context, ctx *app.RequestContext) {
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "文件未找到"})
		return
	}
	if fileHeader.Size == 0 {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": "文件为空"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "打开文件失败"})
		return
	}
	defer file.Close()

	resp, err := h.HandleResumeUpload(c, file, fileHeader.Size, fileHeader.Filename)
	if err != nil {
		logger.Error().Err(err).Str("filename", fileHeader.Filename).Msg("处理上传失败")
		status := consts.StatusInternalServerError
		if errors.Is(err, dispatcher.ErrDispatcherClosed) {
			status = consts.StatusServiceUnavailable
		}
		tracing.RecordHTTPError(trace.SpanFromContext(c), err, status)
		ctx.JSON(status, utils.H{"error": err.Error()})
		return
	}
	ctx.JSON(consts.StatusAccepted, resp)
}

// HandleGetSubmission GET /api/v1/submissions/:id
func (h *ResumeHandler) HandleGetSubmission(c context.Context, ctx *app.RequestContext) {
	id := ctx.Param("id")
	sub, err := h.submissions.GetSubmission(c, id)
	if err != nil {
		if errors.Is(err, storage.ErrSubmissionNotFound) {
			ctx.JSON(consts.StatusNotFound, utils.H{"error": "提交不存在"})
			return
		}
		logger.Error().Err(err).Str("submission_id", id).Msg("查询提交失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "查询提交失败"})
		return
	}
	ctx.JSON(consts.StatusOK, toView(sub))
}

func toView(sub *models.Submission) SubmissionView {
	return SubmissionView{
		SubmissionID:     sub.SubmissionID,
		Status:           sub.Status,
		StatusDetail:     sub.StatusDetail,
		OriginalFilename: sub.OriginalFilename,
		RecordID:         sub.CandidateID,
		Confidence:       sub.Confidence,
		ProviderID:       sub.ProviderID,
		CreatedAt:        sub.CreatedAt,
		CompletedAt:      sub.CompletedAt,
	}
}
