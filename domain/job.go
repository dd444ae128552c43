package domain

import (
	"time"

	_const "github.com/TimeWtr/job_dispatcher/const"
)

// JobDefinition 任务定义
type JobDefinition struct {
	// ID 在数据库中的ID信息
	ID int64
	// GroupID 所属执行器分组
	GroupID     int64
	Description string
	Author      string
	// AlarmEmail 告警邮箱，多个用逗号分隔，为空则不告警
	AlarmEmail string

	ScheduleType    _const.ScheduleType
	ScheduleConf    string
	MisfireStrategy _const.MisfireStrategy
	RouteStrategy   _const.RouteStrategy
	BlockStrategy   _const.BlockStrategy

	HandlerName  string
	HandlerParam string
	// TimeoutSeconds 执行超时时间，0表示不限制
	TimeoutSeconds int
	FailRetryCount int
	// ChildJobIDs 执行成功后需要触发的子任务
	ChildJobIDs []int64

	Status _const.JobStatus
	// TriggerLastTime 上次调度时间，毫秒
	TriggerLastTime int64
	// TriggerNextTime 下次调度时间，毫秒
	TriggerNextTime int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkerGroup 执行器分组
type WorkerGroup struct {
	ID          int64
	AppName     string
	Title       string
	AddressType _const.AddressType
	AddressList []string
	UpdatedAt   time.Time
}

// Registration 心跳注册记录
type Registration struct {
	ID        int64
	Group     _const.RegistryType
	Key       string
	Value     string
	UpdatedAt time.Time
}

// DispatchRecord 一次调度的完整记录，调度结果和执行结果都落在这里
type DispatchRecord struct {
	ID      int64
	GroupID int64
	JobID   int64

	ExecutorAddress string
	HandlerName     string
	ExecutorParam   string
	// ShardingParam 分片参数，格式 index/total
	ShardingParam  string
	FailRetryCount int

	TriggerType _const.TriggerType
	TriggerTime time.Time
	TriggerCode int
	TriggerMsg  string

	HandleTime time.Time
	HandleCode int
	HandleMsg  string

	AlarmStatus _const.AlarmStatus
}

// LogReport 按天统计的调度结果
type LogReport struct {
	Day          time.Time
	RunningCount int64
	SucCount     int64
	FailCount    int64
}
