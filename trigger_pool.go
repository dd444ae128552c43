package job_dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TimeWtr/job_dispatcher/logger"
)

const (
	fastPoolName = "fast"
	slowPoolName = "slow"
	// slowThreshold 单次触发耗时超过该值记一次慢触发
	slowThreshold = 500 * time.Millisecond
	// slowLimit 一分钟内慢触发次数超过该值的任务改走慢池
	slowLimit = 10
)

// Triggerer 执行一次触发
type Triggerer interface {
	Trigger(ctx context.Context, req TriggerRequest)
}

// slowCounter 按分钟统计每个任务的慢触发次数
type slowCounter struct {
	minute atomic.Int64
	counts sync.Map // jobID -> *atomic.Int32
}

func (c *slowCounter) isSlow(jobID int64) bool {
	v, ok := c.counts.Load(jobID)
	return ok && v.(*atomic.Int32).Load() > slowLimit
}

func (c *slowCounter) record(jobID int64, cost time.Duration, now time.Time) {
	minute := now.Unix() / 60
	if old := c.minute.Load(); old != minute && c.minute.CompareAndSwap(old, minute) {
		c.counts.Clear()
	}
	if cost > slowThreshold {
		v, _ := c.counts.LoadOrStore(jobID, new(atomic.Int32))
		v.(*atomic.Int32).Add(1)
	}
}

// TriggerPool 快慢两个触发池，慢任务隔离到慢池避免拖累其他任务
type TriggerPool struct {
	fast    *workerPool
	slow    *workerPool
	trigger Triggerer
	counter slowCounter
	metrics *triggerMetrics
	logger  logger.Logger
	now     nowFunc
}

func NewTriggerPool(trigger Triggerer, fastMax, slowMax int, metrics *triggerMetrics,
	l logger.Logger, now nowFunc) *TriggerPool {
	return &TriggerPool{
		fast:    newWorkerPool(fastPoolName, 10, fastMax, 1000, l),
		slow:    newWorkerPool(slowPoolName, 10, slowMax, 2000, l),
		trigger: trigger,
		metrics: metrics,
		logger:  l,
		now:     now,
	}
}

// Submit 异步触发，池饱和时在调用方协程执行。
// 已提交的触发不随ctx取消，停止时由Stop等待其完成
func (p *TriggerPool) Submit(ctx context.Context, req TriggerRequest) {
	ctx = context.WithoutCancel(ctx)
	pool, name := p.fast, fastPoolName
	if p.counter.isSlow(req.JobID) {
		pool, name = p.slow, slowPoolName
	}
	err := pool.Submit(func() {
		start := p.now()
		p.trigger.Trigger(ctx, req)
		cost := p.now().Sub(start)
		p.counter.record(req.JobID, cost, p.now())
		if p.metrics != nil {
			p.metrics.record(ctx, name, req.Type, cost)
		}
	})
	if err != nil {
		p.logger.Warn("failed to submit trigger",
			logger.Field{Key: "jobId", Val: req.JobID},
			logger.Field{Key: "pool", Val: name}, logger.Error(err))
	}
}

func (p *TriggerPool) Stop(ctx context.Context) error {
	return errors.Join(p.fast.Stop(ctx), p.slow.Stop(ctx))
}
