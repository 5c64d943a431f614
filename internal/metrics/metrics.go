// Package metrics 定义流水线的 Prometheus 指标，并在独立端口上暴露 /metrics。
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"resume-pipeline/internal/logger"
)

const (
	namespace = "resume_pipeline"

	statusLabel   = "status"
	providerLabel = "provider"
	outcomeLabel  = "outcome"
)

var submissionsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_total",
		Help:      "number of submissions that reached a terminal status",
	},
	[]string{statusLabel},
)

var providerAttemptsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "provider_attempts_total",
		Help:      "number of structured parsing attempts by provider and outcome",
	},
	[]string{providerLabel, outcomeLabel},
)

var processingDurationMetric = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "processing_duration_seconds",
		Help:      "end to end processing time of one submission",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
	},
	[]string{statusLabel},
)

var inFlightMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "in_flight_workers",
		Help:      "number of submissions currently being processed",
	},
)

var queuedMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queued_submissions",
		Help:      "number of accepted submissions waiting for a worker slot",
	},
)

func init() {
	prometheus.MustRegister(submissionsTotalMetric)
	prometheus.MustRegister(providerAttemptsTotalMetric)
	prometheus.MustRegister(processingDurationMetric)
	prometheus.MustRegister(inFlightMetric)
	prometheus.MustRegister(queuedMetric)
}

// ObserveSubmission 记录一次提交的终态与耗时
func ObserveSubmission(status string, elapsed time.Duration) {
	submissionsTotalMetric.With(prometheus.Labels{statusLabel: status}).Inc()
	processingDurationMetric.With(prometheus.Labels{statusLabel: status}).Observe(elapsed.Seconds())
}

// IncreaseProviderAttempt 记录一次供应商调用结果
func IncreaseProviderAttempt(provider, outcome string) {
	providerAttemptsTotalMetric.With(prometheus.Labels{providerLabel: provider, outcomeLabel: outcome}).Inc()
}

// WorkerStarted 工作单元开始
func WorkerStarted() { inFlightMetric.Inc() }

// WorkerFinished 工作单元结束
func WorkerFinished() { inFlightMetric.Dec() }

// SetQueued 更新排队数量
func SetQueued(n int) { queuedMetric.Set(float64(n)) }

// Server 独立的指标监听端口
type Server struct {
	srv *http.Server
}

// NewServer 创建 /metrics 服务
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// Start 在后台监听
func (s *Server) Start() {
	go func() {
		logger.Info().Str("address", s.srv.Addr).Msg("指标服务启动")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("指标服务异常退出")
		}
	}()
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
