package job_dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/cronclock"
	"github.com/TimeWtr/job_dispatcher/domain"
	"github.com/TimeWtr/job_dispatcher/remoting"
	"github.com/TimeWtr/job_dispatcher/repository"
)

var (
	ErrScheduleTypeNone = errors.New("schedule type NONE can not be started")
	ErrNoNextFireTime   = errors.New("schedule has no next fire time")
)

// ValidationError 任务定义不合法
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid job %s: %s", e.Field, e.Reason)
}

// JobService 任务的增删改、启停、手动触发以及对执行器的日志、终止代理
type JobService struct {
	store     repository.JobStore
	clock     *cronclock.Clock
	submit    Submitter
	clients   ExecutorClients
	completer *Completer
	now       nowFunc
}

func NewJobService(store repository.JobStore, clock *cronclock.Clock, submit Submitter,
	clients ExecutorClients, completer *Completer, now nowFunc) *JobService {
	return &JobService{
		store:     store,
		clock:     clock,
		submit:    submit,
		clients:   clients,
		completer: completer,
		now:       now,
	}
}

// Validate 校验任务定义，策略别名和子任务ID会被规范化
func (s *JobService) Validate(ctx context.Context, job *domain.JobDefinition) error {
	if _, err := s.store.LoadGroup(ctx, job.GroupID); err != nil {
		return &ValidationError{Field: "group", Reason: "worker group not found"}
	}
	if strings.TrimSpace(job.Description) == "" {
		return &ValidationError{Field: "description", Reason: "required"}
	}
	if !job.ScheduleType.Valid() {
		return &ValidationError{Field: "scheduleType", Reason: "unknown schedule type " + string(job.ScheduleType)}
	}
	if err := s.clock.ValidateSchedule(job.ScheduleType, job.ScheduleConf); err != nil {
		return &ValidationError{Field: "scheduleConf", Reason: err.Error()}
	}
	job.RouteStrategy = job.RouteStrategy.Canonical()
	job.MisfireStrategy = job.MisfireStrategy.Canonical()
	job.BlockStrategy = job.BlockStrategy.Canonical()
	if !job.RouteStrategy.Valid() {
		return &ValidationError{Field: "routeStrategy", Reason: "unknown route strategy " + string(job.RouteStrategy)}
	}
	if !job.MisfireStrategy.Valid() {
		return &ValidationError{Field: "misfireStrategy", Reason: "unknown misfire strategy " + string(job.MisfireStrategy)}
	}
	if !job.BlockStrategy.Valid() {
		return &ValidationError{Field: "blockStrategy", Reason: "unknown block strategy " + string(job.BlockStrategy)}
	}
	if strings.TrimSpace(job.HandlerName) == "" {
		return &ValidationError{Field: "handlerName", Reason: "required"}
	}
	if job.TimeoutSeconds < 0 {
		return &ValidationError{Field: "timeout", Reason: "must be >= 0"}
	}
	if job.FailRetryCount < 0 {
		return &ValidationError{Field: "failRetryCount", Reason: "must be >= 0"}
	}

	seen := make(map[int64]struct{}, len(job.ChildJobIDs))
	children := make([]int64, 0, len(job.ChildJobIDs))
	for _, id := range job.ChildJobIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		if id == job.ID && id != 0 {
			return &ValidationError{Field: "childJobIds", Reason: "job can not be its own child"}
		}
		if _, err := s.store.LoadJob(ctx, id); err != nil {
			return &ValidationError{Field: "childJobIds", Reason: "child job " + strconv.FormatInt(id, 10) + " not found"}
		}
		seen[id] = struct{}{}
		children = append(children, id)
	}
	job.ChildJobIDs = children
	return nil
}

// ParseChildJobIDs 解析逗号分隔的子任务ID
func ParseChildJobIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, &ValidationError{Field: "childJobIds", Reason: "invalid child job id " + part}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Add 新建任务，初始为停止状态
func (s *JobService) Add(ctx context.Context, job *domain.JobDefinition) error {
	if err := s.Validate(ctx, job); err != nil {
		return err
	}
	job.Status = _const.JobStatusStopped
	job.TriggerLastTime, job.TriggerNextTime = 0, 0
	return s.store.SaveJob(ctx, job)
}

// Update 修改任务，运行中且调度配置变化时从 now+预读窗口 重新计算下次触发时间
func (s *JobService) Update(ctx context.Context, job domain.JobDefinition) error {
	if err := s.Validate(ctx, &job); err != nil {
		return err
	}
	old, err := s.store.LoadJob(ctx, job.ID)
	if err != nil {
		return err
	}
	job.Status = old.Status
	job.TriggerLastTime = old.TriggerLastTime
	job.TriggerNextTime = old.TriggerNextTime
	job.CreatedAt = old.CreatedAt

	changed := old.ScheduleType != job.ScheduleType || old.ScheduleConf != job.ScheduleConf
	if old.Status == _const.JobStatusRunning && changed {
		next, ok, err := s.clock.NextFireTime(job.ScheduleType, job.ScheduleConf, s.now().Add(_const.PreReadWindow))
		if err != nil {
			return &ValidationError{Field: "scheduleConf", Reason: err.Error()}
		}
		if !ok {
			return ErrNoNextFireTime
		}
		job.TriggerNextTime = next.UnixMilli()
	}
	return s.store.UpdateJob(ctx, job)
}

// Start 启动调度，跳过预读窗口以免与正在进行的扫描冲突
func (s *JobService) Start(ctx context.Context, id int64) error {
	job, err := s.store.LoadJob(ctx, id)
	if err != nil {
		return err
	}
	if job.ScheduleType == _const.ScheduleTypeNone {
		return ErrScheduleTypeNone
	}
	next, ok, err := s.clock.NextFireTime(job.ScheduleType, job.ScheduleConf, s.now().Add(_const.PreReadWindow))
	if err != nil {
		return &ValidationError{Field: "scheduleConf", Reason: err.Error()}
	}
	if !ok {
		return ErrNoNextFireTime
	}
	job.Status = _const.JobStatusRunning
	job.TriggerLastTime = 0
	job.TriggerNextTime = next.UnixMilli()
	return s.store.ScheduleUpdate(ctx, job)
}

func (s *JobService) Stop(ctx context.Context, id int64) error {
	job, err := s.store.LoadJob(ctx, id)
	if err != nil {
		return err
	}
	job.Status = _const.JobStatusStopped
	job.TriggerLastTime, job.TriggerNextTime = 0, 0
	return s.store.ScheduleUpdate(ctx, job)
}

func (s *JobService) Remove(ctx context.Context, id int64) error {
	if _, err := s.store.LoadJob(ctx, id); err != nil {
		return err
	}
	return s.store.DeleteJob(ctx, id)
}

// TriggerManually 手动触发，param和addressList可选
func (s *JobService) TriggerManually(ctx context.Context, id int64, param *string, addressList string) error {
	if _, err := s.store.LoadJob(ctx, id); err != nil {
		return err
	}
	s.submit.Submit(context.WithoutCancel(ctx), TriggerRequest{
		JobID:          id,
		Type:           _const.TriggerManual,
		FailRetryCount: -1,
		ExecutorParam:  param,
		AddressList:    addressList,
	})
	return nil
}

// Kill 终止某次调度在执行器上的运行，成功后记录标记为失败
func (s *JobService) Kill(ctx context.Context, recordID int64) (remoting.ReturnT, error) {
	record, err := s.store.LoadRecord(ctx, recordID)
	if err != nil {
		return remoting.ReturnT{}, err
	}
	if record.TriggerCode != _const.CodeSuccess || record.ExecutorAddress == "" {
		return remoting.Fail("trigger failed, nothing to kill"), nil
	}
	res := s.clients.Get(record.ExecutorAddress).Kill(ctx, remoting.KillParam{JobID: record.JobID})
	if !res.OK() {
		return res, nil
	}
	record.HandleTime = s.now()
	record.HandleCode = _const.CodeFail
	record.HandleMsg = "manual kill"
	if res.Msg != "" {
		record.HandleMsg += ": " + res.Msg
	}
	// 终止前已经有执行结果时保留原结果
	if _, err = s.completer.UpdateHandleInfoAndFinish(context.WithoutCancel(ctx), record); err != nil {
		return remoting.ReturnT{}, err
	}
	return res, nil
}

// Log 从执行器读取某次调度的日志
func (s *JobService) Log(ctx context.Context, recordID int64, fromLine int) (remoting.LogReturnT, error) {
	record, err := s.store.LoadRecord(ctx, recordID)
	if err != nil {
		return remoting.LogReturnT{}, err
	}
	if record.ExecutorAddress == "" {
		return remoting.LogReturnT{Code: _const.CodeFail, Msg: "no executor address"}, nil
	}
	res := s.clients.Get(record.ExecutorAddress).Log(ctx, remoting.LogParam{
		LogDateTime: record.TriggerTime.UnixMilli(),
		LogID:       record.ID,
		FromLineNum: fromLine,
	})
	// 已有执行结果且没有更多行时日志读取结束
	if res.Content != nil && record.HandleCode > 0 && res.Content.FromLineNum > res.Content.ToLineNum {
		res.Content.IsEnd = true
	}
	return res, nil
}
