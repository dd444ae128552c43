package dao

import (
	"strconv"
	"strings"
	"time"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/domain"
)

// ScheduleLockName 全局调度锁所在的行
const ScheduleLockName = "schedule_lock"

type JobInfo struct {
	ID      int64 `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	GroupID int64 `gorm:"column:job_group;not null;index" json:"job_group"`
	// Description 任务描述
	Description string `gorm:"column:job_desc;type:varchar(255);not null" json:"job_desc"`
	Author      string `gorm:"column:author;type:varchar(64)" json:"author"`
	AlarmEmail  string `gorm:"column:alarm_email;type:varchar(255)" json:"alarm_email"`
	// ScheduleType 调度类型 NONE/CRON/FIXED_RATE
	ScheduleType    string `gorm:"column:schedule_type;type:varchar(50);not null" json:"schedule_type"`
	ScheduleConf    string `gorm:"column:schedule_conf;type:varchar(128)" json:"schedule_conf"`
	MisfireStrategy string `gorm:"column:misfire_strategy;type:varchar(50);not null" json:"misfire_strategy"`
	RouteStrategy   string `gorm:"column:executor_route_strategy;type:varchar(50)" json:"executor_route_strategy"`
	HandlerName     string `gorm:"column:executor_handler;type:varchar(255)" json:"executor_handler"`
	HandlerParam    string `gorm:"column:executor_param;type:varchar(512)" json:"executor_param"`
	BlockStrategy   string `gorm:"column:executor_block_strategy;type:varchar(50)" json:"executor_block_strategy"`
	TimeoutSeconds  int    `gorm:"column:executor_timeout;not null;default:0" json:"executor_timeout"`
	FailRetryCount  int    `gorm:"column:executor_fail_retry_count;not null;default:0" json:"executor_fail_retry_count"`
	// ChildJobIDs 子任务ID，逗号分隔
	ChildJobIDs string `gorm:"column:child_jobid;type:varchar(255)" json:"child_jobid"`
	// Status 调度状态 0-停止 1-运行
	Status          int   `gorm:"column:trigger_status;not null;default:0;index:idx_schedule,priority:1" json:"trigger_status"`
	TriggerLastTime int64 `gorm:"column:trigger_last_time;not null;default:0" json:"trigger_last_time"`
	TriggerNextTime int64 `gorm:"column:trigger_next_time;not null;default:0;index:idx_schedule,priority:2" json:"trigger_next_time"`
	// UpdatedTime 更新时间，毫秒
	UpdatedTime int64 `gorm:"column:update_time;not null" json:"update_time"`
	// CreatedTime 创建时间，毫秒
	CreatedTime int64 `gorm:"column:add_time;not null" json:"add_time"`
}

func (JobInfo) TableName() string { return "job_info" }

type JobGroup struct {
	ID      int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	AppName string `gorm:"column:app_name;type:varchar(64);not null;uniqueIndex" json:"app_name"`
	Title   string `gorm:"column:title;type:varchar(64)" json:"title"`
	// AddressType 0-自动注册 1-手动录入
	AddressType int `gorm:"column:address_type;not null;default:0" json:"address_type"`
	// AddressList 地址列表，逗号分隔
	AddressList string `gorm:"column:address_list;type:text" json:"address_list"`
	UpdatedTime int64  `gorm:"column:update_time;not null" json:"update_time"`
}

func (JobGroup) TableName() string { return "job_group" }

type JobRegistry struct {
	ID            int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	RegistryGroup string `gorm:"column:registry_group;type:varchar(50);not null;uniqueIndex:uk_registry,priority:1" json:"registry_group"`
	RegistryKey   string `gorm:"column:registry_key;type:varchar(255);not null;uniqueIndex:uk_registry,priority:2" json:"registry_key"`
	RegistryValue string `gorm:"column:registry_value;type:varchar(255);not null;uniqueIndex:uk_registry,priority:3" json:"registry_value"`
	UpdatedTime   int64  `gorm:"column:update_time;not null;index" json:"update_time"`
}

func (JobRegistry) TableName() string { return "job_registry" }

type JobLog struct {
	ID              int64  `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	GroupID         int64  `gorm:"column:job_group;not null" json:"job_group"`
	JobID           int64  `gorm:"column:job_id;not null;index" json:"job_id"`
	ExecutorAddress string `gorm:"column:executor_address;type:varchar(255)" json:"executor_address"`
	HandlerName     string `gorm:"column:executor_handler;type:varchar(255)" json:"executor_handler"`
	ExecutorParam   string `gorm:"column:executor_param;type:varchar(512)" json:"executor_param"`
	ShardingParam   string `gorm:"column:executor_sharding_param;type:varchar(20)" json:"executor_sharding_param"`
	FailRetryCount  int    `gorm:"column:executor_fail_retry_count;not null;default:0" json:"executor_fail_retry_count"`
	TriggerType     string `gorm:"column:trigger_type;type:varchar(20);index" json:"trigger_type"`
	// TriggerTime 调度时间，毫秒
	TriggerTime int64  `gorm:"column:trigger_time;not null;index" json:"trigger_time"`
	TriggerCode int    `gorm:"column:trigger_code;not null;default:0" json:"trigger_code"`
	TriggerMsg  string `gorm:"column:trigger_msg;type:text" json:"trigger_msg"`
	// HandleTime 执行结果回调时间，毫秒，0表示尚未回调
	HandleTime  int64  `gorm:"column:handle_time;not null;default:0" json:"handle_time"`
	HandleCode  int    `gorm:"column:handle_code;not null;default:0;index" json:"handle_code"`
	HandleMsg   string `gorm:"column:handle_msg;type:text" json:"handle_msg"`
	AlarmStatus int    `gorm:"column:alarm_status;not null;default:0" json:"alarm_status"`
}

func (JobLog) TableName() string { return "job_log" }

type JobLogReport struct {
	ID int64 `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	// TriggerDay 统计日零点，毫秒
	TriggerDay   int64 `gorm:"column:trigger_day;not null;uniqueIndex" json:"trigger_day"`
	RunningCount int64 `gorm:"column:running_count;not null;default:0" json:"running_count"`
	SucCount     int64 `gorm:"column:suc_count;not null;default:0" json:"suc_count"`
	FailCount    int64 `gorm:"column:fail_count;not null;default:0" json:"fail_count"`
}

func (JobLogReport) TableName() string { return "job_log_report" }

type JobLock struct {
	LockName string `gorm:"column:lock_name;type:varchar(50);primaryKey" json:"lock_name"`
}

func (JobLock) TableName() string { return "job_lock" }

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func joinIDs(ids []int64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	return strings.Join(parts, ",")
}

func splitIDs(s string) []int64 {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

func splitAddresses(s string) []string {
	var res []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			res = append(res, part)
		}
	}
	return res
}

func newJobInfo(job domain.JobDefinition) JobInfo {
	return JobInfo{
		ID:              job.ID,
		GroupID:         job.GroupID,
		Description:     job.Description,
		Author:          job.Author,
		AlarmEmail:      job.AlarmEmail,
		ScheduleType:    string(job.ScheduleType),
		ScheduleConf:    job.ScheduleConf,
		MisfireStrategy: string(job.MisfireStrategy),
		RouteStrategy:   string(job.RouteStrategy),
		HandlerName:     job.HandlerName,
		HandlerParam:    job.HandlerParam,
		BlockStrategy:   string(job.BlockStrategy),
		TimeoutSeconds:  job.TimeoutSeconds,
		FailRetryCount:  job.FailRetryCount,
		ChildJobIDs:     joinIDs(job.ChildJobIDs),
		Status:          int(job.Status),
		TriggerLastTime: job.TriggerLastTime,
		TriggerNextTime: job.TriggerNextTime,
		UpdatedTime:     toMillis(job.UpdatedAt),
		CreatedTime:     toMillis(job.CreatedAt),
	}
}

func (j JobInfo) toDomain() domain.JobDefinition {
	return domain.JobDefinition{
		ID:              j.ID,
		GroupID:         j.GroupID,
		Description:     j.Description,
		Author:          j.Author,
		AlarmEmail:      j.AlarmEmail,
		ScheduleType:    _const.ScheduleType(j.ScheduleType),
		ScheduleConf:    j.ScheduleConf,
		MisfireStrategy: _const.MisfireStrategy(j.MisfireStrategy),
		RouteStrategy:   _const.RouteStrategy(j.RouteStrategy),
		BlockStrategy:   _const.BlockStrategy(j.BlockStrategy),
		HandlerName:     j.HandlerName,
		HandlerParam:    j.HandlerParam,
		TimeoutSeconds:  j.TimeoutSeconds,
		FailRetryCount:  j.FailRetryCount,
		ChildJobIDs:     splitIDs(j.ChildJobIDs),
		Status:          _const.JobStatus(j.Status),
		TriggerLastTime: j.TriggerLastTime,
		TriggerNextTime: j.TriggerNextTime,
		CreatedAt:       fromMillis(j.CreatedTime),
		UpdatedAt:       fromMillis(j.UpdatedTime),
	}
}

func (g JobGroup) toDomain() domain.WorkerGroup {
	return domain.WorkerGroup{
		ID:          g.ID,
		AppName:     g.AppName,
		Title:       g.Title,
		AddressType: _const.AddressType(g.AddressType),
		AddressList: splitAddresses(g.AddressList),
		UpdatedAt:   fromMillis(g.UpdatedTime),
	}
}

func newJobLog(r domain.DispatchRecord) JobLog {
	return JobLog{
		ID:              r.ID,
		GroupID:         r.GroupID,
		JobID:           r.JobID,
		ExecutorAddress: r.ExecutorAddress,
		HandlerName:     r.HandlerName,
		ExecutorParam:   r.ExecutorParam,
		ShardingParam:   r.ShardingParam,
		FailRetryCount:  r.FailRetryCount,
		TriggerType:     string(r.TriggerType),
		TriggerTime:     toMillis(r.TriggerTime),
		TriggerCode:     r.TriggerCode,
		TriggerMsg:      r.TriggerMsg,
		HandleTime:      toMillis(r.HandleTime),
		HandleCode:      r.HandleCode,
		HandleMsg:       r.HandleMsg,
		AlarmStatus:     int(r.AlarmStatus),
	}
}

func (l JobLog) toDomain() domain.DispatchRecord {
	return domain.DispatchRecord{
		ID:              l.ID,
		GroupID:         l.GroupID,
		JobID:           l.JobID,
		ExecutorAddress: l.ExecutorAddress,
		HandlerName:     l.HandlerName,
		ExecutorParam:   l.ExecutorParam,
		ShardingParam:   l.ShardingParam,
		FailRetryCount:  l.FailRetryCount,
		TriggerType:     _const.TriggerType(l.TriggerType),
		TriggerTime:     fromMillis(l.TriggerTime),
		TriggerCode:     l.TriggerCode,
		TriggerMsg:      l.TriggerMsg,
		HandleTime:      fromMillis(l.HandleTime),
		HandleCode:      l.HandleCode,
		HandleMsg:       l.HandleMsg,
		AlarmStatus:     _const.AlarmStatus(l.AlarmStatus),
	}
}
