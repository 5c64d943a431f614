// Package dispatcher 接收新提交并以有界并发启动独立的处理单元。
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"resume-pipeline/internal/config"
	"resume-pipeline/internal/logger"
	"resume-pipeline/internal/metrics"
	"resume-pipeline/internal/types"
)

// ErrDispatcherClosed 关闭后不再接收新提交
var ErrDispatcherClosed = errors.New("dispatcher 已关闭")

// Processor 处理单个提交，processor.Orchestrator 实现该接口
type Processor interface {
	Process(ctx context.Context, submissionID string)
}

// Store 提交记录的最小持久化接口
type Store interface {
	CreateSubmission(ctx context.Context, documentRef, filename string) (string, error)
	ListSubmissionIDsByStatus(ctx context.Context, status types.SubmissionStatus, limit int) ([]string, error)
}

// Stats 调度器运行时计数
type Stats struct {
	Workers  int   `json:"workers"`
	Queued   int64 `json:"queued"`
	InFlight int64 `json:"in_flight"`
}

// Dispatcher 每个提交一个 goroutine，用信号量限制同时处理的数量
type Dispatcher struct {
	store       Store
	proc        Processor
	sem         *semaphore.Weighted
	workers     int
	resumeBatch int

	// queueCtx 取消后排队中的单元放弃等待，workCtx 取消后处理中的单元被中断
	queueCtx    context.Context
	cancelQueue context.CancelFunc
	workCtx     context.Context
	cancelWork  context.CancelFunc

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	queued   atomic.Int64
	inFlight atomic.Int64
}

// New 创建调度器，workers 小于 1 时按 1 处理
func New(store Store, proc Processor, cfg *config.PipelineConfig) *Dispatcher {
	workers, batch := 1, 0
	if cfg != nil {
		if cfg.Workers > 0 {
			workers = cfg.Workers
		}
		batch = cfg.ResumeBatchSize
	}

	d := &Dispatcher{
		store:       store,
		proc:        proc,
		sem:         semaphore.NewWeighted(int64(workers)),
		workers:     workers,
		resumeBatch: batch,
	}
	d.queueCtx, d.cancelQueue = context.WithCancel(context.Background())
	d.workCtx, d.cancelWork = context.WithCancel(context.Background())
	return d
}

// Submit 持久化 pending 提交后立即返回，处理异步进行；工作池饱和时排队而不是拒绝
func (d *Dispatcher) Submit(ctx context.Context, documentRef, filename string) (string, error) {
	if d.isClosed() {
		return "", ErrDispatcherClosed
	}
	id, err := d.store.CreateSubmission(ctx, documentRef, filename)
	if err != nil {
		return "", fmt.Errorf("创建提交记录失败: %w", err)
	}
	if !d.enqueue(id) {
		// 已落库，重启后由 Resume 接续
		logger.Warn().Str("submission_id", id).Msg("调度器正在关闭，提交保持 pending")
	}
	return id, nil
}

// Resume 重新排队启动前遗留的 pending 提交，返回排队数量
func (d *Dispatcher) Resume(ctx context.Context) (int, error) {
	ids, err := d.store.ListSubmissionIDsByStatus(ctx, types.StatusPending, d.resumeBatch)
	if err != nil {
		return 0, fmt.Errorf("查询待处理提交失败: %w", err)
	}
	n := 0
	for _, id := range ids {
		if d.enqueue(id) {
			n++
		}
	}
	if n > 0 {
		logger.Info().Int("count", n).Msg("已重新排队遗留的待处理提交")
	}
	return n, nil
}

// Stats 返回当前排队与处理中数量
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Workers:  d.workers,
		Queued:   d.queued.Load(),
		InFlight: d.inFlight.Load(),
	}
}

// Shutdown 停止接收，排队中的提交保持 pending；等待处理中的单元结束，
// ctx 到期后中断它们并返回 ctx 的错误
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancelQueue()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancelWork()
		logger.Info().Msg("调度器已关闭，所有处理单元已结束")
		return nil
	case <-ctx.Done():
		logger.Warn().Int64("in_flight", d.inFlight.Load()).Msg("关闭超时，中断处理中的提交")
		d.cancelWork()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

// enqueue 为提交启动一个处理单元，关闭后返回 false
func (d *Dispatcher) enqueue(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}

	d.wg.Add(1)
	metrics.SetQueued(int(d.queued.Add(1)))

	go func() {
		defer d.wg.Done()

		err := d.sem.Acquire(d.queueCtx, 1)
		metrics.SetQueued(int(d.queued.Add(-1)))
		if err != nil {
			logger.Debug().Str("submission_id", id).Msg("调度器关闭，放弃排队中的提交")
			return
		}
		defer d.sem.Release(1)

		if d.isClosed() {
			return
		}

		d.inFlight.Add(1)
		defer d.inFlight.Add(-1)
		d.proc.Process(d.workCtx, id)
	}()
	return true
}
