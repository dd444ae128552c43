package job_dispatcher

import (
	"context"
	"time"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/logger"
	"github.com/TimeWtr/job_dispatcher/repository"
)

const (
	failMonitorInterval = 10 * time.Second
	failBatchSize       = 1000
)

// FailMonitor 处理失败的调度记录：按剩余次数重试，并发送告警
type FailMonitor struct {
	store   repository.JobStore
	submit  Submitter
	alarmer JobAlarm
	logger  logger.Logger
}

func NewFailMonitor(store repository.JobStore, submit Submitter, alarmer JobAlarm, l logger.Logger) *FailMonitor {
	return &FailMonitor{store: store, submit: submit, alarmer: alarmer, logger: l}
}

func (m *FailMonitor) Run(ctx context.Context) {
	runLoop(ctx, m.logger, "fail monitor", failMonitorInterval, m.Once)
}

func (m *FailMonitor) Once(ctx context.Context) error {
	ids, err := m.store.FindFailRecordIDs(ctx, failBatchSize)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err = m.handle(ctx, id); err != nil {
			m.logger.Error("failed to handle fail record",
				logger.Field{Key: "logId", Val: id}, logger.Error(err))
		}
	}
	return nil
}

func (m *FailMonitor) handle(ctx context.Context, id int64) error {
	// 先锁定，多个调度中心实例只有一个能处理
	locked, err := m.store.UpdateAlarmStatus(ctx, id, _const.AlarmStatusPending, _const.AlarmStatusLocked)
	if err != nil || !locked {
		return err
	}
	record, err := m.store.LoadRecord(ctx, id)
	if err != nil {
		// 解锁，留给下一轮处理
		if _, unlockErr := m.store.UpdateAlarmStatus(ctx, id, _const.AlarmStatusLocked, _const.AlarmStatusPending); unlockErr != nil {
			m.logger.Error("failed to unlock fail record", logger.Field{Key: "logId", Val: id}, logger.Error(unlockErr))
		}
		return err
	}
	job, jobErr := m.store.LoadJob(ctx, record.JobID)

	if record.FailRetryCount > 0 {
		param := record.ExecutorParam
		m.submit.Submit(ctx, TriggerRequest{
			JobID:          record.JobID,
			Type:           _const.TriggerRetry,
			FailRetryCount: record.FailRetryCount - 1,
			ShardingParam:  record.ShardingParam,
			ExecutorParam:  &param,
		})
		record.TriggerMsg += "\n----------- Fail retry triggered -----------"
		if err = m.store.UpdateTriggerInfo(ctx, record); err != nil {
			return err
		}
	}

	status := _const.AlarmStatusNotNeeded
	if jobErr == nil && job.AlarmEmail != "" {
		status = _const.AlarmStatusAlarmed
		if err = m.alarmer.Alarm(ctx, job, record); err != nil {
			m.logger.Warn("failed to send alarm",
				logger.Field{Key: "jobId", Val: job.ID},
				logger.Field{Key: "logId", Val: record.ID}, logger.Error(err))
			status = _const.AlarmStatusAlarmFailed
		}
	}
	_, err = m.store.UpdateAlarmStatus(ctx, id, _const.AlarmStatusLocked, status)
	return err
}
