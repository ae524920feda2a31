package pipeline

import (
	"context"
	"errors"
	"sync"

	"cmsreport/internal/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrPoolClosed 工作池已关闭
	ErrPoolClosed = errors.New("报告工作池已关闭")
	// ErrPoolFull 等待队列已满
	ErrPoolFull = errors.New("报告工作池队列已满")
)

// Runner 执行单个报告请求
type Runner interface {
	Run(ctx context.Context, req ReportRequest) (*ReportResult, error)
}

// Pool 进程内有界工作池，请求之间并发执行
type Pool struct {
	runner Runner
	log    *zap.Logger
	jobs   chan ReportRequest

	mu        sync.Mutex
	closed    bool
	running   map[string]context.CancelFunc
	queued    map[string]struct{}
	cancelled map[string]struct{} // 排队中被取消，轮到时跳过

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool 创建工作池，size 个 worker，队列长度为 size 的 4 倍
func NewPool(runner Runner, size int, log *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		runner:  runner,
		log:     logger.OrNop(log),
		jobs:    make(chan ReportRequest, size*4),
		running:   make(map[string]context.CancelFunc),
		queued:    make(map[string]struct{}),
		cancelled: make(map[string]struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit 提交请求，返回报告 ID，不等待执行
func (p *Pool) Submit(req ReportRequest) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", ErrPoolClosed
	}
	select {
	case p.jobs <- req:
		p.queued[req.ID] = struct{}{}
		return req.ID, nil
	default:
		return "", ErrPoolFull
	}
}

// Cancel 取消排队中或执行中的报告，两者都不是时返回 false
// 排队中的报告不会再执行。
func (p *Pool) Cancel(reportID string) bool {
	p.mu.Lock()
	cancel, running := p.running[reportID]
	_, queued := p.queued[reportID]
	if !running && queued {
		delete(p.queued, reportID)
		p.cancelled[reportID] = struct{}{}
	}
	p.mu.Unlock()
	if running {
		cancel()
	}
	return running || queued
}

// Close 停止接收新请求，取消执行中的报告并等待 worker 退出
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for req := range p.jobs {
		p.execute(req)
	}
}

func (p *Pool) execute(req ReportRequest) {
	ctx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	p.mu.Lock()
	if _, skip := p.cancelled[req.ID]; skip {
		delete(p.cancelled, req.ID)
		p.mu.Unlock()
		p.log.Debug("报告在排队中被取消", zap.String("report_id", req.ID))
		return
	}
	delete(p.queued, req.ID)
	p.running[req.ID] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.running, req.ID)
		p.mu.Unlock()
	}()

	if _, err := p.runner.Run(ctx, req); err != nil {
		p.log.Debug("异步报告失败", zap.String("report_id", req.ID), zap.Error(err))
	}
}
