package router

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/hertz-contrib/keyauth"

	"resume-pipeline/internal/api/handler"
	"resume-pipeline/internal/logger"
)

const (
	apiKeyHeader = "X-API-Key"
	healthPath   = "/api/v1/health"
)

var errInvalidAPIKey = errors.New("API Key 无效")

// Handlers 路由依赖的处理器
type Handlers struct {
	Resume *handler.ResumeHandler
	Export *handler.ExportHandler
	Health *handler.HealthHandler
}

// RegisterRoutes 注册 API 路由；apiKey 非空时除健康检查外均需携带 X-API-Key
func RegisterRoutes(h *server.Hertz, handlers Handlers, apiKey string) {
	api := h.Group("/api/v1")
	if apiKey != "" {
		api.Use(apiKeyAuth(apiKey))
	}

	api.POST("/resumes", handlers.Resume.HandleUpload)
	api.GET("/submissions/:id", handlers.Resume.HandleGetSubmission)
	if handlers.Export != nil {
		api.GET("/candidates/export", handlers.Export.HandleExport)
	}

	if handlers.Health != nil {
		api.GET("/health", handlers.Health.HandleHealth)
	} else {
		api.GET("/health", func(c context.Context, ctx *app.RequestContext) {
			ctx.JSON(consts.StatusOK, utils.H{"status": "ok"})
		})
	}
}

func apiKeyAuth(apiKey string) app.HandlerFunc {
	return keyauth.New(
		keyauth.WithKeyLookUp("header:"+apiKeyHeader, ""),
		keyauth.WithValidator(func(c context.Context, ctx *app.RequestContext, key string) (bool, error) {
			if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(key)), []byte(apiKey)) == 1 {
				return true, nil
			}
			return false, errInvalidAPIKey
		}),
		keyauth.WithFilter(func(c context.Context, ctx *app.RequestContext) bool {
			return string(ctx.Path()) == healthPath
		}),
		keyauth.WithErrorHandler(func(c context.Context, ctx *app.RequestContext, err error) {
			logger.Warn().Err(err).Str("path", string(ctx.Path())).Msg("API 鉴权失败")
			ctx.AbortWithStatusJSON(consts.StatusUnauthorized, utils.H{"error": "未授权"})
		}),
	)
}
