package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/logger"
	"github.com/TimeWtr/job_dispatcher/remoting"
)

const (
	defaultPollInterval = 3 * time.Second
	// defaultIdleLimit 连续空轮询次数超过该值且队列为空时销毁线程
	defaultIdleLimit = 30
	maxResultMsgLen  = 50000

	MsgIdleTimesOver   = "excutor idel times over limit."
	MsgResultLost      = "job handle result lost."
	MsgExecuteTimeout  = "job execute timeout"
	suffixQueuedKilled = " [job not executed, in the job queue, killed.]"
	suffixRunKilled    = " [job running, killed]"
)

// threadOwner 任务线程的宿主
type threadOwner interface {
	removeIdleThread(t *jobThread)
	pushCallback(p remoting.HandleCallbackParam)
}

// jobThread 每个任务一个，按调度记录ID先进先出地串行执行
type jobThread struct {
	jobID       int64
	handlerName string
	handler     Handler
	owner       threadOwner
	logs        *LogStore
	logger      logger.Logger

	pollInterval time.Duration
	idleLimit    int

	mu     sync.Mutex
	queue  []remoting.TriggerParam
	logIDs map[int64]struct{}
	notify chan struct{}

	running atomic.Bool
	// 当前执行的取消函数
	cancelRun context.CancelFunc

	stopOnce    sync.Once
	stopCh      chan struct{}
	stopReason  string
	awaitHandle bool
	done        chan struct{}
}

func newJobThread(jobID int64, name string, h Handler, owner threadOwner, logs *LogStore, l logger.Logger) *jobThread {
	return &jobThread{
		jobID:        jobID,
		handlerName:  name,
		handler:      h,
		owner:        owner,
		logs:         logs,
		logger:       l.With(logger.Field{Key: "jobId", Val: jobID}),
		pollInterval: defaultPollInterval,
		idleLimit:    defaultIdleLimit,
		logIDs:       make(map[int64]struct{}),
		notify:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// push 加入调度队列，同一调度记录重复下发时拒绝
func (t *jobThread) push(p remoting.TriggerParam) remoting.ReturnT {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.logIDs[p.LogID]; ok {
		t.logger.Info("repeate trigger job", logger.Field{Key: "logId", Val: p.LogID})
		return remoting.Fail("repeate trigger job, logId:" + strconv.FormatInt(p.LogID, 10))
	}
	t.logIDs[p.LogID] = struct{}{}
	t.queue = append(t.queue, p)
	select {
	case t.notify <- struct{}{}:
	default:
	}
	return remoting.Success()
}

// busy 正在执行或者队列中有待执行的调度
func (t *jobThread) busy() bool {
	if t.running.Load() {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue) > 0
}

func (t *jobThread) pop() (remoting.TriggerParam, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return remoting.TriggerParam{}, false
	}
	p := t.queue[0]
	t.queue = t.queue[1:]
	delete(t.logIDs, p.LogID)
	// 出队和置为运行中在同一把锁内，busy不会观察到中间状态
	t.running.Store(true)
	return p, true
}

// stop 通知线程退出，await为true时等待执行中的处理器返回
func (t *jobThread) stop(reason string, await bool) {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.stopReason = reason
		t.awaitHandle = await
		cancel := t.cancelRun
		t.mu.Unlock()
		close(t.stopCh)
		if cancel != nil {
			cancel()
		}
	})
}

func (t *jobThread) stopped() bool {
	select {
	case <-t.stopCh:
		return true
	default:
		return false
	}
}

func (t *jobThread) reason() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopReason, t.awaitHandle
}

func (t *jobThread) start(ctx context.Context) {
	go t.loop(ctx)
}

func (t *jobThread) loop(ctx context.Context) {
	defer close(t.done)
	if h, ok := t.handler.(Initializer); ok {
		if err := h.Init(ctx); err != nil {
			t.logger.Error("failed to init job handler", logger.Error(err))
		}
	}

	idle := 0
	timer := time.NewTimer(t.pollInterval)
	defer timer.Stop()
	for !t.stopped() {
		p, ok := t.pop()
		if ok {
			idle = 0
			t.execute(ctx, p)
			t.running.Store(false)
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(t.pollInterval)
		select {
		case <-t.stopCh:
		case <-t.notify:
		case <-timer.C:
			idle++
			if idle > t.idleLimit {
				t.owner.removeIdleThread(t)
			}
		}
	}

	reason, _ := t.reason()
	t.mu.Lock()
	queued := t.queue
	t.queue, t.logIDs = nil, make(map[int64]struct{})
	t.mu.Unlock()
	for _, p := range queued {
		t.owner.pushCallback(remoting.HandleCallbackParam{
			LogID:       p.LogID,
			LogDateTime: p.LogDateTime,
			HandleCode:  _const.CodeFail,
			HandleMsg:   reason + suffixQueuedKilled,
		})
	}

	if h, ok := t.handler.(Destroyer); ok {
		if err := h.Destroy(context.WithoutCancel(ctx)); err != nil {
			t.logger.Error("failed to destroy job handler", logger.Error(err))
		}
	}
	t.logger.Info("job thread stopped", logger.Field{Key: "reason", Val: reason})
}

func (t *jobThread) execute(ctx context.Context, p remoting.TriggerParam) {
	logFile := t.logs.FileName(p.LogDateTime, p.LogID)
	jc := newJobContext(p.JobID, p.LogID, p.ExecutorParams, p.BroadcastIndex, p.BroadcastTotal, logFile, t.logs)
	jc.Log("----------- job execute start -----------")
	jc.Log("----------- Param:%s", p.ExecutorParams)

	runCtx, cancel := context.WithCancel(ctx)
	if p.ExecutorTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(p.ExecutorTimeout)*time.Second)
	}
	defer cancel()
	t.mu.Lock()
	t.cancelRun = cancel
	t.mu.Unlock()
	// stop可能发生在设置cancelRun之前
	if t.stopped() {
		cancel()
	}

	resCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resCh <- fmt.Errorf("job handler panic: %v", r)
			}
		}()
		resCh <- t.handler.Execute(runCtx, jc)
	}()

	select {
	case err := <-resCh:
		if err != nil {
			jc.HandleFail(err.Error())
		}
	case <-runCtx.Done():
		if _, await := t.reason(); t.stopped() && await {
			<-resCh
		}
	}
	// 处理器可能先于select观察到取消，按取消原因判定结果
	killed := t.stopped() && runCtx.Err() != nil
	if !killed && errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		// 超时后放弃处理器协程，依赖其响应ctx退出
		jc.Log("----------- job execute timeout")
		jc.HandleTimeout(MsgExecuteTimeout)
	}

	t.mu.Lock()
	t.cancelRun = nil
	t.mu.Unlock()

	code, msg := jc.Result()
	switch {
	case killed:
		reason, _ := t.reason()
		code, msg = _const.CodeFail, reason+suffixRunKilled
		jc.Log("----------- job thread stopped, stop reason: %s", reason)
	case code <= 0:
		code, msg = _const.CodeFail, MsgResultLost
	case utf8.RuneCountInString(msg) > maxResultMsgLen:
		msg = string([]rune(msg)[:maxResultMsgLen]) + "..."
	}
	jc.Log("----------- job execute end(finish) -----------")
	jc.Log("----------- Result: handleCode=%d, handleMsg = %s", code, msg)

	t.owner.pushCallback(remoting.HandleCallbackParam{
		LogID:       p.LogID,
		LogDateTime: p.LogDateTime,
		HandleCode:  code,
		HandleMsg:   msg,
	})
}
