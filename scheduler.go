package job_dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/cronclock"
	"github.com/TimeWtr/job_dispatcher/domain"
	"github.com/TimeWtr/job_dispatcher/logger"
	"github.com/TimeWtr/job_dispatcher/repository"
)

var ErrSchedulerStarted = errors.New("scheduler already started")

// Submitter 异步提交触发请求
type Submitter interface {
	Submit(ctx context.Context, req TriggerRequest)
}

// Scheduler 扫描线程在全局锁内预读即将触发的任务，时间轮线程按秒触发
type Scheduler struct {
	store        repository.JobStore
	clock        *cronclock.Clock
	pool         Submitter
	wheel        *TimeWheel
	strategy     ScanStrategy
	preReadCount int
	drainTimeout time.Duration
	logger       logger.Logger
	now          nowFunc

	mu         sync.Mutex
	started    bool
	scanCancel context.CancelFunc
	ringCancel context.CancelFunc
	scanDone   chan struct{}
	ringDone   chan struct{}
}

func NewScheduler(store repository.JobStore, clock *cronclock.Clock, pool Submitter,
	preReadCount int, l logger.Logger, now nowFunc) *Scheduler {
	return &Scheduler{
		store:        store,
		clock:        clock,
		pool:         pool,
		wheel:        NewTimeWheel(),
		strategy:     NewAlignedScanStrategy(time.Second, _const.PreReadWindow),
		preReadCount: preReadCount,
		drainTimeout: 8 * time.Second,
		logger:       l,
		now:          now,
	}
}

// Start 启动扫描线程和时间轮线程，触发请求使用脱离ctx取消的上下文
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrSchedulerStarted
	}
	s.started = true

	scanCtx, scanCancel := context.WithCancel(ctx)
	ringCtx, ringCancel := context.WithCancel(ctx)
	s.scanCancel, s.ringCancel = scanCancel, ringCancel
	s.scanDone, s.ringDone = make(chan struct{}), make(chan struct{})
	// 停止时时间轮还要把已预读的任务提交出去
	dispatchCtx := context.WithoutCancel(ctx)

	go func() {
		defer close(s.scanDone)
		s.scanLoop(scanCtx, dispatchCtx)
	}()
	go func() {
		defer close(s.ringDone)
		s.ringLoop(ringCtx, dispatchCtx)
	}()
	s.logger.Info("scheduler started")
	return nil
}

// Stop 先停扫描，等待时间轮中已预读的任务触发完，再停时间轮
func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false

	s.scanCancel()
	waitDone(ctx, s.scanDone)

	if !s.wheel.Empty() {
		drainCtx, cancel := context.WithTimeout(ctx, s.drainTimeout)
		for !s.wheel.Empty() && sleepCtx(drainCtx, 100*time.Millisecond) {
		}
		cancel()
		if n := s.wheel.Len(); n > 0 {
			s.logger.Warn("scheduler stopped with pending ring jobs", logger.Field{Key: "count", Val: n})
		}
	}

	s.ringCancel()
	waitDone(ctx, s.ringDone)
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) scanLoop(ctx, dispatchCtx context.Context) {
	// 错开启动，对齐到整秒
	if !sleepCtx(ctx, alignTo(_const.PreReadWindow, s.now())) {
		return
	}
	for {
		start := s.now()
		preReadSuc, err := s.ScanOnce(dispatchCtx)
		if err != nil {
			s.logger.Error("failed to scan jobs", logger.Error(err))
		}
		cost := s.now().Sub(start)
		if !sleepCtx(ctx, s.strategy.Next(preReadSuc, cost, s.now())) {
			return
		}
	}
}

// ScanOnce 一轮扫描，返回是否预读到任务
func (s *Scheduler) ScanOnce(ctx context.Context) (preReadSuc bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scan jobs panic", logger.Field{Key: "panic", Val: r})
		}
	}()

	windowMs := _const.PreReadWindow.Milliseconds()
	err = s.store.WithScheduleLock(ctx, func(ctx context.Context, tx repository.JobStore) error {
		now := s.now()
		nowMs := now.UnixMilli()
		jobs, err := tx.ScheduleJobQuery(ctx, nowMs+windowMs, s.preReadCount)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}
		preReadSuc = true

		for i := range jobs {
			job := &jobs[i]
			switch {
			case nowMs > job.TriggerNextTime+windowMs:
				// 过期超过预读窗口，按过期策略处理后从当前时间重新计算
				s.logger.Warn("job misfire", logger.Field{Key: "jobId", Val: job.ID})
				if job.MisfireStrategy == _const.MisfireFireOnceNow {
					s.pool.Submit(ctx, TriggerRequest{JobID: job.ID, Type: _const.TriggerMisfire, FailRetryCount: -1})
				}
				s.refreshNextValidTime(job, now)
			case nowMs >= job.TriggerNextTime:
				// 过期但在窗口内，立即触发一次
				s.pool.Submit(ctx, TriggerRequest{JobID: job.ID, Type: _const.TriggerCron, FailRetryCount: -1})
				s.refreshNextValidTime(job, now)
				if job.Status == _const.JobStatusRunning && nowMs+windowMs > job.TriggerNextTime {
					s.wheel.Push(ringSecond(job.TriggerNextTime), job.ID)
					s.refreshNextValidTime(job, time.UnixMilli(job.TriggerNextTime))
				}
			default:
				s.wheel.Push(ringSecond(job.TriggerNextTime), job.ID)
				s.refreshNextValidTime(job, time.UnixMilli(job.TriggerNextTime))
			}
		}

		for _, job := range jobs {
			if err := tx.ScheduleUpdate(ctx, job); err != nil {
				s.logger.Error("failed to update job schedule",
					logger.Field{Key: "jobId", Val: job.ID}, logger.Error(err))
			}
		}
		return nil
	})
	return preReadSuc, err
}

// refreshNextValidTime 计算from之后的触发时间，没有下次触发时停止调度
func (s *Scheduler) refreshNextValidTime(job *domain.JobDefinition, from time.Time) {
	next, ok, err := s.clock.NextFireTime(job.ScheduleType, job.ScheduleConf, from)
	if err != nil || !ok {
		job.Status = _const.JobStatusStopped
		job.TriggerLastTime = 0
		job.TriggerNextTime = 0
		fields := []logger.Field{
			{Key: "jobId", Val: job.ID},
			{Key: "scheduleType", Val: job.ScheduleType},
			{Key: "scheduleConf", Val: job.ScheduleConf},
		}
		if err != nil {
			fields = append(fields, logger.Error(err))
		}
		s.logger.Warn("job has no next fire time, stop scheduling", fields...)
		return
	}
	job.TriggerLastTime = job.TriggerNextTime
	job.TriggerNextTime = next.UnixMilli()
}

func (s *Scheduler) ringLoop(ctx, dispatchCtx context.Context) {
	for {
		wait := time.Second - time.Duration(s.now().UnixMilli()%1000)*time.Millisecond
		if !sleepCtx(ctx, wait) {
			return
		}
		s.RingOnce(dispatchCtx, s.now().Second())
	}
}

// RingOnce 触发当前秒和上一秒桶中的任务，上一秒用于补偿跨秒的处理耗时
func (s *Scheduler) RingOnce(ctx context.Context, second int) {
	for _, id := range s.wheel.Drain(second, second-1) {
		s.pool.Submit(ctx, TriggerRequest{JobID: id, Type: _const.TriggerCron, FailRetryCount: -1})
	}
}

func ringSecond(ms int64) int {
	return int((ms / 1000) % wheelSize)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func waitDone(ctx context.Context, done <-chan struct{}) {
	select {
	case <-done:
	case <-ctx.Done():
	}
}
