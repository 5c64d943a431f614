package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"

	"resume-pipeline/internal/api/handler"
	"resume-pipeline/internal/api/router"
	"resume-pipeline/internal/config"
	"resume-pipeline/internal/constants"
	"resume-pipeline/internal/dispatcher"
	"resume-pipeline/internal/events"
	"resume-pipeline/internal/export"
	"resume-pipeline/internal/extractor"
	"resume-pipeline/internal/logger"
	"resume-pipeline/internal/metrics"
	"resume-pipeline/internal/outbox"
	"resume-pipeline/internal/parser"
	"resume-pipeline/internal/processor"
	"resume-pipeline/internal/storage"
	"resume-pipeline/internal/tracing"
)

const defaultShutdownTimeout = 30 * time.Second

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "Path to config file")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("加载配置失败")
	}
	if err := logger.Init(cfg.Logger); err != nil {
		logger.Fatal().Err(err).Msg("初始化日志失败")
	}
	glog.SetLogger(hertzadapter.From(logger.Logger))
	logger.Info().Str("config", configPath).Msg("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer, err := tracing.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化链路追踪失败")
	}

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化存储失败")
	}
	logger.Info().Msg("存储服务初始化成功")

	providers, closeProviders, err := parser.BuildProviders(ctx, cfg.Providers)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化解析供应商失败")
	}
	structuredParser := parser.NewStructuredParser(providers,
		parser.WithMaxAttempts(cfg.Pipeline.MaxAttempts),
		parser.WithBackoff(
			config.GetDuration(cfg.Pipeline.InitialBackoff, constants.DefaultInitialBackoff),
			config.GetDuration(cfg.Pipeline.MaxBackoff, constants.DefaultMaxBackoff),
		),
		parser.WithAttemptObserver(func(a parser.ProviderAttempt) {
			metrics.IncreaseProviderAttempt(a.ProviderID, string(a.Outcome))
		}),
	)
	logger.Info().Strs("providers", structuredParser.Providers()).Msg("结构化解析器初始化成功")

	var blobs storage.BlobStore
	if storageManager.MinIO != nil {
		blobs = storageManager.MinIO
	}
	var extractorOpts []extractor.Option
	if cfg.Extraction.TikaURL != "" {
		tika := extractor.NewTikaBackend(cfg.Extraction.TikaURL,
			extractor.WithTikaTimeout(config.GetDuration(cfg.Extraction.TikaTimeout, time.Minute)))
		extractorOpts = append(extractorOpts, extractor.WithBackend(tika, extractor.TikaExtensions...))
	}
	gateway, err := extractor.NewGateway(ctx, blobs, extractorOpts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化文本提取网关失败")
	}

	sink := events.MultiSink{
		events.LogSink{},
		events.NewStoreSink(storageManager.Submissions, cfg.RabbitMQ.EventsExchange),
	}

	orchestrator, err := processor.NewOrchestrator(
		processor.NewComponents(
			processor.WithExtractor(gateway),
			processor.WithParser(structuredParser),
			processor.WithStore(storageManager.Submissions),
			processor.WithEvents(sink),
		),
		processor.SettingsFromConfig(&cfg.Pipeline),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化处理编排器失败")
	}

	disp := dispatcher.New(storageManager.Submissions, orchestrator, &cfg.Pipeline)
	if cfg.Pipeline.ResumePendingOnStart {
		n, err := disp.Resume(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("恢复待处理提交失败")
		} else {
			logger.Info().Int("count", n).Msg("已重新入队待处理提交")
		}
	}

	var relay *outbox.MessageRelay
	if storageManager.RabbitMQ != nil {
		relay = outbox.NewMessageRelay(storageManager.Database.DB(), storageManager.RabbitMQ, &cfg.Outbox)
		relay.Start(ctx)
		logger.Info().Msg("消息中继服务已启动")
	} else {
		logger.Warn().Msg("RabbitMQ未配置，事件保留在出站表中")
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Address)
		metricsServer.Start()
	}

	consumerCtx, stopConsumers := context.WithCancel(ctx)
	defer stopConsumers()
	if storageManager.RabbitMQ != nil && cfg.RabbitMQ.IntakeQueue != "" {
		intake := handler.NewIntakeConsumer(storageManager.RabbitMQ, &cfg.RabbitMQ, disp)
		if err := intake.Start(consumerCtx); err != nil {
			logger.Error().Err(err).Msg("启动提交队列消费者失败")
		}
	}

	var dedup storage.DedupRecorder
	checks := map[string]handler.HealthCheck{"database": storageManager.Database.Ping}
	if storageManager.Redis != nil {
		dedup = storageManager.Redis
		checks["redis"] = storageManager.Redis.Ping
	}

	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.Default(
		tracer,
		server.WithHostPorts(cfg.Server.Address),
		server.WithMaxRequestBodySize(cfg.Server.MaxUploadMB<<20),
		server.WithHandleMethodNotAllowed(true),
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		ctx.Next(c)
		logger.Debug().
			Str("method", string(ctx.Method())).
			Str("path", string(ctx.Path())).
			Int("status", ctx.Response.StatusCode()).
			Dur("elapsed", time.Since(start)).
			Msg("HTTP请求")
	})

	router.RegisterRoutes(h, router.Handlers{
		Resume: handler.NewResumeHandler(blobs, dedup, disp, storageManager.Submissions),
		Export: handler.NewExportHandler(export.NewService(storageManager.Submissions)),
		Health: handler.NewHealthHandler(disp, checks),
	}, cfg.Server.APIKey)

	go func() {
		logger.Info().Str("address", cfg.Server.Address).Msg("HTTP 服务器启动中")
		if err := h.Run(); err != nil {
			logger.Fatal().Err(err).Msg("启动HTTP服务器失败")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("接收到终止信号，正在优雅退出...")

	stopConsumers()

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelHTTP()
	if err := h.Shutdown(httpCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP服务器关闭失败")
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(),
		config.GetDuration(cfg.Pipeline.ShutdownTimeout, defaultShutdownTimeout))
	defer cancelDrain()
	if err := disp.Shutdown(drainCtx); err != nil {
		logger.Warn().Err(err).Msg("处理单元未在期限内结束，已取消")
	}

	if relay != nil {
		relay.Stop()
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("关闭指标服务失败")
		}
	}
	if closeProviders != nil {
		if err := closeProviders(); err != nil {
			logger.Error().Err(err).Msg("关闭解析供应商失败")
		}
	}
	if err := shutdownTracer(context.Background()); err != nil {
		logger.Error().Err(err).Msg("关闭链路追踪失败")
	}
	storageManager.Close()
	logger.Info().Msg("优雅退出完成")
}
