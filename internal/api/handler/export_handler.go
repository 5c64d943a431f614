package handler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"resume-pipeline/internal/logger"
	"resume-pipeline/internal/storage"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Exporter 候选人导出，export.Service 实现该接口
type Exporter interface {
	ExportCandidatesXLSX(ctx context.Context, filter storage.CandidateFilter) ([]byte, error)
	FileName() string
}

// ExportHandler 候选人导出接口
type ExportHandler struct {
	exporter Exporter
}

// NewExportHandler 创建导出处理器
func NewExportHandler(exporter Exporter) *ExportHandler {
	return &ExportHandler{exporter: exporter}
}

// HandleExport GET /api/v1/candidates/export?since=2024-01-01&until=2024-02-01&limit=100
func (h *ExportHandler) HandleExport(c context.Context, ctx *app.RequestContext) {
	filter, err := parseFilter(ctx.Query("since"), ctx.Query("until"), ctx.Query("limit"))
	if err != nil {
		ctx.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
		return
	}

	data, err := h.exporter.ExportCandidatesXLSX(c, filter)
	if err != nil {
		logger.Error().Err(err).Msg("导出候选人失败")
		ctx.JSON(consts.StatusInternalServerError, utils.H{"error": "导出失败"})
		return
	}

	ctx.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, h.exporter.FileName()))
	ctx.Data(consts.StatusOK, xlsxContentType, data)
}

// parseFilter 日期格式为 YYYY-MM-DD，until 为开区间的次日零点
func parseFilter(since, until, limit string) (storage.CandidateFilter, error) {
	var filter storage.CandidateFilter
	if since != "" {
		t, err := time.Parse(time.DateOnly, since)
		if err != nil {
			return filter, fmt.Errorf("since 格式错误，应为 YYYY-MM-DD")
		}
		filter.Since = &t
	}
	if until != "" {
		t, err := time.Parse(time.DateOnly, until)
		if err != nil {
			return filter, fmt.Errorf("until 格式错误，应为 YYYY-MM-DD")
		}
		t = t.AddDate(0, 0, 1)
		filter.Until = &t
	}
	if limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("limit 必须是非负整数")
		}
		filter.Limit = n
	}
	return filter, nil
}
