package job_dispatcher

import (
	"context"
	"fmt"
	"strings"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/domain"
	"github.com/TimeWtr/job_dispatcher/logger"
	"github.com/TimeWtr/job_dispatcher/remoting"
	"github.com/TimeWtr/job_dispatcher/repository"
)

const (
	maxHandleMsgLen = 15000

	MsgLogNotFound     = "log item not found."
	MsgRepeateCallback = "log repeate callback."
)

// Completer 处理执行结果：回写记录，成功时触发子任务
type Completer struct {
	store  repository.JobStore
	pool   *workerPool
	submit Submitter
	logger logger.Logger
	now    nowFunc
}

func NewCompleter(store repository.JobStore, submit Submitter, l logger.Logger, now nowFunc) *Completer {
	return &Completer{
		store:  store,
		pool:   newWorkerPool("callback", 2, 20, 3000, l),
		submit: submit,
		logger: l,
		now:    now,
	}
}

// Callback 异步处理一批回调，入队即返回成功
func (c *Completer) Callback(ctx context.Context, params []remoting.HandleCallbackParam) remoting.ReturnT {
	ctx = context.WithoutCancel(ctx)
	err := c.pool.Submit(func() {
		for _, p := range params {
			res := c.callbackOne(ctx, p)
			if !res.OK() {
				c.logger.Warn("callback rejected",
					logger.Field{Key: "logId", Val: p.LogID},
					logger.Field{Key: "msg", Val: res.Msg})
			}
		}
	})
	if err != nil {
		return remoting.Fail(err.Error())
	}
	return remoting.Success()
}

func (c *Completer) callbackOne(ctx context.Context, p remoting.HandleCallbackParam) remoting.ReturnT {
	record, err := c.store.LoadRecord(ctx, p.LogID)
	if err != nil {
		return remoting.Fail(MsgLogNotFound)
	}
	if record.HandleCode > 0 {
		return remoting.Fail(MsgRepeateCallback)
	}

	var msg strings.Builder
	if record.HandleMsg != "" {
		msg.WriteString(record.HandleMsg)
		msg.WriteString("\n")
	}
	msg.WriteString(p.HandleMsg)

	record.HandleTime = c.now()
	record.HandleCode = p.HandleCode
	record.HandleMsg = msg.String()
	changed, err := c.UpdateHandleInfoAndFinish(ctx, record)
	if err != nil {
		return remoting.Fail(err.Error())
	}
	if !changed {
		return remoting.Fail(MsgRepeateCallback)
	}
	return remoting.Success()
}

// UpdateHandleInfoAndFinish 回写执行结果，执行成功时触发子任务。
// 记录已有执行结果时不覆盖，也不触发子任务，返回false
func (c *Completer) UpdateHandleInfoAndFinish(ctx context.Context, record domain.DispatchRecord) (bool, error) {
	var children []int64
	if record.HandleCode == _const.CodeSuccess {
		children = c.childJobIDs(ctx, record.JobID)
		record.HandleMsg += childTriggerMsg(children)
	}
	record.HandleMsg = truncateRunes(record.HandleMsg, maxHandleMsgLen)
	changed, err := c.store.UpdateHandleInfo(ctx, record)
	if err != nil {
		return false, fmt.Errorf("update handle info of log %d: %w", record.ID, err)
	}
	if !changed {
		return false, nil
	}
	for _, child := range children {
		c.submit.Submit(context.WithoutCancel(ctx), TriggerRequest{JobID: child, Type: _const.TriggerParent, FailRetryCount: -1})
	}
	return true, nil
}

func (c *Completer) childJobIDs(ctx context.Context, jobID int64) []int64 {
	job, err := c.store.LoadJob(ctx, jobID)
	if err != nil {
		return nil
	}
	return job.ChildJobIDs
}

func childTriggerMsg(children []int64) string {
	if len(children) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n----------- Trigger child jobs:")
	for i, child := range children {
		fmt.Fprintf(&sb, "\n%d/%d [Job ID: %d], trigger submitted", i+1, len(children), child)
	}
	return sb.String()
}

func (c *Completer) Stop(ctx context.Context) error {
	return c.pool.Stop(ctx)
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
