package repository

import (
	"context"
	"errors"
	"time"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/domain"
)

var ErrNotFound = errors.New("record not found")

type JobRepository interface {
	LoadJob(ctx context.Context, id int64) (domain.JobDefinition, error)
	// SaveJob 新建任务，成功后回填ID
	SaveJob(ctx context.Context, job *domain.JobDefinition) error
	UpdateJob(ctx context.Context, job domain.JobDefinition) error
	DeleteJob(ctx context.Context, id int64) error
	// ScheduleJobQuery 查询调度中且下次触发时间不晚于maxNextMs的任务
	ScheduleJobQuery(ctx context.Context, maxNextMs int64, limit int) ([]domain.JobDefinition, error)
	// ScheduleUpdate 只更新触发时间和调度状态
	ScheduleUpdate(ctx context.Context, job domain.JobDefinition) error
}

type GroupRepository interface {
	LoadGroup(ctx context.Context, id int64) (domain.WorkerGroup, error)
	SaveGroup(ctx context.Context, group *domain.WorkerGroup) error
	FindGroupsByAddressType(ctx context.Context, typ _const.AddressType) ([]domain.WorkerGroup, error)
	UpdateGroupAddressList(ctx context.Context, id int64, addresses []string, now time.Time) error
}

type RegistryRepository interface {
	RegistryUpsert(ctx context.Context, group _const.RegistryType, key, value string, now time.Time) error
	RegistryDelete(ctx context.Context, group _const.RegistryType, key, value string) error
	FindDeadRegistrations(ctx context.Context, timeout time.Duration, now time.Time) ([]int64, error)
	RemoveRegistrations(ctx context.Context, ids []int64) error
	FindLiveRegistrations(ctx context.Context, timeout time.Duration, now time.Time) ([]domain.Registration, error)
}

type RecordRepository interface {
	// SaveRecord 新建调度记录，成功后回填ID
	SaveRecord(ctx context.Context, record *domain.DispatchRecord) error
	LoadRecord(ctx context.Context, id int64) (domain.DispatchRecord, error)
	UpdateTriggerInfo(ctx context.Context, record domain.DispatchRecord) error
	// UpdateHandleInfo 写入执行结果，记录已有结果时不覆盖并返回false
	UpdateHandleInfo(ctx context.Context, record domain.DispatchRecord) (bool, error)
	// FindFailRecordIDs 查询失败且尚未处理告警的记录
	FindFailRecordIDs(ctx context.Context, limit int) ([]int64, error)
	// UpdateAlarmStatus 告警状态CAS，返回是否更新成功
	UpdateAlarmStatus(ctx context.Context, id int64, from, to _const.AlarmStatus) (bool, error)
	// FindLostRecordIDs 在before之前调度成功或调度中断，且一直没有执行结果的记录
	FindLostRecordIDs(ctx context.Context, before time.Time) ([]int64, error)
	FindRecordIDsBefore(ctx context.Context, before time.Time, limit int) ([]int64, error)
	DeleteRecords(ctx context.Context, ids []int64) error
	// CountReport 统计 [from, to) 内的调度结果
	CountReport(ctx context.Context, from, to time.Time) (domain.LogReport, error)
	UpsertReport(ctx context.Context, report domain.LogReport) error
}

// JobStore 调度中心的全部持久化能力
type JobStore interface {
	JobRepository
	GroupRepository
	RegistryRepository
	RecordRepository
	// WithScheduleLock 在持有全局调度锁的事务内执行fn，fn中必须使用tx
	WithScheduleLock(ctx context.Context, fn func(ctx context.Context, tx JobStore) error) error
}
