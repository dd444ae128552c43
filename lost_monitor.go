package job_dispatcher

import (
	"context"
	"time"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/logger"
	"github.com/TimeWtr/job_dispatcher/repository"
)

const (
	lostMonitorInterval = time.Minute
	// lostTimeout 调度后超过该时间仍无结果的记录标记为失败
	lostTimeout = 10 * time.Minute

	MsgResultLost  = "job result lost, marked failed"
	MsgTriggerLost = "job trigger interrupted, marked failed"
)

// LostMonitor 把长时间没有执行结果的调度记录标记为失败，包括调度中途被中断的记录
type LostMonitor struct {
	store     repository.JobStore
	completer *Completer
	logger    logger.Logger
	now       nowFunc
}

func NewLostMonitor(store repository.JobStore, completer *Completer, l logger.Logger, now nowFunc) *LostMonitor {
	return &LostMonitor{store: store, completer: completer, logger: l, now: now}
}

func (m *LostMonitor) Run(ctx context.Context) {
	runLoop(ctx, m.logger, "lost monitor", lostMonitorInterval, m.Once)
}

func (m *LostMonitor) Once(ctx context.Context) error {
	now := m.now()
	ids, err := m.store.FindLostRecordIDs(ctx, now.Add(-lostTimeout))
	if err != nil {
		return err
	}
	for _, id := range ids {
		record, err := m.store.LoadRecord(ctx, id)
		if err != nil {
			m.logger.Warn("failed to load lost record", logger.Field{Key: "logId", Val: id}, logger.Error(err))
			continue
		}
		record.HandleTime = now
		record.HandleCode = _const.CodeFail
		record.HandleMsg = MsgResultLost
		if record.TriggerCode == 0 {
			// 调度过程中被中断，没有写回调度结果
			record.HandleMsg = MsgTriggerLost
		}
		changed, err := m.completer.UpdateHandleInfoAndFinish(ctx, record)
		if err != nil {
			m.logger.Error("failed to mark lost record", logger.Field{Key: "logId", Val: id}, logger.Error(err))
			continue
		}
		if !changed {
			m.logger.Debug("lost record already handled", logger.Field{Key: "logId", Val: id})
		}
	}
	return nil
}
