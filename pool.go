package job_dispatcher

import (
	"context"
	"errors"
	"sync"

	"github.com/TimeWtr/job_dispatcher/logger"
	"golang.org/x/sync/semaphore"
)

var ErrPoolClosed = errors.New("worker pool closed")

// workerPool 有界协程池：core个常驻协程消费有界队列，队列满时最多再扩容到max个协程，
// 仍然满则由提交方协程直接执行
type workerPool struct {
	name   string
	logger logger.Logger
	queue  chan func()
	// 扩容协程的配额
	extra *semaphore.Weighted

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func newWorkerPool(name string, core, max, queueSize int, l logger.Logger) *workerPool {
	if core < 1 {
		core = 1
	}
	if max < core {
		max = core
	}
	p := &workerPool{
		name:   name,
		logger: l,
		queue:  make(chan func(), queueSize),
		extra:  semaphore.NewWeighted(int64(max - core)),
	}
	p.wg.Add(core)
	for i := 0; i < core; i++ {
		go p.worker()
	}
	return p
}

func (p *workerPool) worker() {
	defer p.wg.Done()
	for task := range p.queue {
		p.run(task)
	}
}

func (p *workerPool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker pool task panic",
				logger.Field{Key: "pool", Val: p.name},
				logger.Field{Key: "panic", Val: r})
		}
	}()
	task()
}

// Submit 提交任务，池饱和时在当前协程执行
func (p *workerPool) Submit(task func()) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	select {
	case p.queue <- task:
		p.mu.RUnlock()
		return nil
	default:
	}

	if p.extra.TryAcquire(1) {
		p.wg.Add(1)
		p.mu.RUnlock()
		go func() {
			defer p.wg.Done()
			defer p.extra.Release(1)
			p.run(task)
		}()
		return nil
	}
	p.mu.RUnlock()

	p.logger.Warn("worker pool saturated, run in caller",
		logger.Field{Key: "pool", Val: p.name})
	p.run(task)
	return nil
}

// Stop 不再接收新任务，等待已入队的任务执行完，最多等到ctx结束
func (p *workerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
