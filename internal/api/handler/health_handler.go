package handler

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck 依赖检查函数
type HealthCheck func(ctx context.Context) error

// HealthHandler 健康检查，任一依赖失败返回 503
type HealthHandler struct {
	checks    map[string]HealthCheck
	submitter Submitter
}

// NewHealthHandler submitter 可为 nil
func NewHealthHandler(submitter Submitter, checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks, submitter: submitter}
}

// HandleHealth GET /api/v1/health
func (h *HealthHandler) HandleHealth(c context.Context, ctx *app.RequestContext) {
	c, cancel := context.WithTimeout(c, healthCheckTimeout)
	defer cancel()

	status := "ok"
	code := consts.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(c); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			code = consts.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := utils.H{"status": status, "dependencies": deps}
	if h.submitter != nil {
		body["dispatcher"] = h.submitter.Stats()
	}
	ctx.JSON(code, body)
}
