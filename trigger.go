package job_dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/domain"
	"github.com/TimeWtr/job_dispatcher/logger"
	"github.com/TimeWtr/job_dispatcher/remoting"
	"github.com/TimeWtr/job_dispatcher/repository"
)

// TriggerRequest 一次触发请求
type TriggerRequest struct {
	JobID int64
	Type  _const.TriggerType
	// FailRetryCount 小于0时使用任务自身的配置
	FailRetryCount int
	// ShardingParam 指定分片 index/total，为空时按路由策略决定
	ShardingParam string
	// ExecutorParam 不为nil时覆盖任务参数
	ExecutorParam *string
	// AddressList 不为空时覆盖执行器分组的地址，逗号分隔
	AddressList string
}

// JobTrigger 负责一次触发的完整流程：落调度记录、路由、下发、回写调度结果
type JobTrigger struct {
	store        repository.JobStore
	clients      ExecutorClients
	routers      routerTable
	adminAddress string
	logger       logger.Logger
	now          nowFunc
}

func NewJobTrigger(store repository.JobStore, clients ExecutorClients, adminAddress string,
	l logger.Logger, now nowFunc) *JobTrigger {
	return &JobTrigger{
		store:        store,
		clients:      clients,
		routers:      newRouterTable(clients, now),
		adminAddress: adminAddress,
		logger:       l,
		now:          now,
	}
}

// Trigger 触发任务，错误都落到调度记录中，不向上返回
func (t *JobTrigger) Trigger(ctx context.Context, req TriggerRequest) {
	job, err := t.store.LoadJob(ctx, req.JobID)
	if err != nil {
		t.logger.Warn("trigger fail, job invalid",
			logger.Field{Key: "jobId", Val: req.JobID}, logger.Error(err))
		return
	}
	if req.ExecutorParam != nil {
		job.HandlerParam = *req.ExecutorParam
	}
	retryCount := job.FailRetryCount
	if req.FailRetryCount >= 0 {
		retryCount = req.FailRetryCount
	}

	group, err := t.store.LoadGroup(ctx, job.GroupID)
	if err != nil {
		t.logger.Warn("trigger fail, worker group invalid",
			logger.Field{Key: "jobId", Val: job.ID},
			logger.Field{Key: "groupId", Val: job.GroupID}, logger.Error(err))
		return
	}
	if list := splitAddressList(req.AddressList); len(list) > 0 {
		group.AddressType = _const.AddressTypeManual
		group.AddressList = list
	}

	index, total, sharded := parseSharding(req.ShardingParam)
	if job.RouteStrategy == _const.RouteShardingBroadcast && !sharded && len(group.AddressList) > 0 {
		for i := range group.AddressList {
			t.processTrigger(ctx, group, job, retryCount, req.Type, i, len(group.AddressList))
		}
		return
	}
	if !sharded {
		index, total = 0, 1
	}
	t.processTrigger(ctx, group, job, retryCount, req.Type, index, total)
}

func (t *JobTrigger) processTrigger(ctx context.Context, group domain.WorkerGroup, job domain.JobDefinition,
	retryCount int, typ _const.TriggerType, index, total int) {
	block := job.BlockStrategy
	if !block.Valid() {
		block = _const.BlockSerial
	}
	route := job.RouteStrategy
	shardingParam := ""
	if route == _const.RouteShardingBroadcast {
		shardingParam = fmt.Sprintf("%d/%d", index, total)
	}

	// 先落调度记录，拿到ID作为本次调度的唯一标识
	record := domain.DispatchRecord{
		GroupID:        job.GroupID,
		JobID:          job.ID,
		HandlerName:    job.HandlerName,
		ExecutorParam:  job.HandlerParam,
		ShardingParam:  shardingParam,
		FailRetryCount: retryCount,
		TriggerType:    typ,
		TriggerTime:    t.now(),
	}
	if err := t.store.SaveRecord(ctx, &record); err != nil {
		t.logger.Error("failed to save dispatch record",
			logger.Field{Key: "jobId", Val: job.ID}, logger.Error(err))
		return
	}

	param := remoting.TriggerParam{
		JobID:                 job.ID,
		ExecutorHandler:       job.HandlerName,
		ExecutorParams:        job.HandlerParam,
		ExecutorBlockStrategy: string(block),
		ExecutorTimeout:       job.TimeoutSeconds,
		LogID:                 record.ID,
		LogDateTime:           record.TriggerTime.UnixMilli(),
		BroadcastIndex:        index,
		BroadcastTotal:        total,
	}

	var (
		address  string
		routeRes remoting.ReturnT
	)
	switch {
	case len(group.AddressList) == 0:
		routeRes = remoting.Fail(msgAddressEmpty)
	case route == _const.RouteShardingBroadcast:
		address = group.AddressList[0]
		if index < len(group.AddressList) {
			address = group.AddressList[index]
		}
		routeRes = remoting.Success()
	default:
		address, routeRes = t.routers.Route(ctx, route, param, group.AddressList)
	}

	var triggerRes remoting.ReturnT
	if address != "" {
		triggerRes = t.runExecutor(ctx, param, address)
	} else {
		triggerRes = remoting.Fail("")
	}

	record.ExecutorAddress = address
	record.HandlerName = job.HandlerName
	record.ExecutorParam = job.HandlerParam
	record.ShardingParam = shardingParam
	record.FailRetryCount = retryCount
	record.TriggerCode = triggerRes.Code
	record.TriggerMsg = t.triggerMsg(group, job, typ, block, retryCount, shardingParam, routeRes, triggerRes)
	if err := t.store.UpdateTriggerInfo(ctx, record); err != nil {
		t.logger.Error("failed to update trigger info",
			logger.Field{Key: "logId", Val: record.ID}, logger.Error(err))
		return
	}
	t.logger.Debug("job triggered",
		logger.Field{Key: "jobId", Val: job.ID},
		logger.Field{Key: "logId", Val: record.ID},
		logger.Field{Key: "code", Val: record.TriggerCode})
}

func (t *JobTrigger) runExecutor(ctx context.Context, param remoting.TriggerParam, address string) remoting.ReturnT {
	res := t.clients.Get(address).Run(ctx, param)
	msg := fmt.Sprintf("Trigger executor:\naddress: %s\ncode: %d", address, res.Code)
	if res.Msg != "" {
		msg += "\nmsg: " + res.Msg
	}
	res.Msg = msg
	return res
}

func (t *JobTrigger) triggerMsg(group domain.WorkerGroup, job domain.JobDefinition, typ _const.TriggerType,
	block _const.BlockStrategy, retryCount int, shardingParam string, routeRes, triggerRes remoting.ReturnT) string {
	addressMode := "Auto registry"
	if group.AddressType == _const.AddressTypeManual {
		addressMode = "Manual entry"
	}
	route := job.RouteStrategy.Title()
	if shardingParam != "" {
		route += "(" + shardingParam + ")"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Trigger type: %s\n", typ.Title())
	fmt.Fprintf(&sb, "Admin address: %s\n", t.adminAddress)
	fmt.Fprintf(&sb, "Address mode: %s\n", addressMode)
	fmt.Fprintf(&sb, "Executor address: [%s]\n", strings.Join(group.AddressList, ","))
	fmt.Fprintf(&sb, "Route strategy: %s\n", route)
	fmt.Fprintf(&sb, "Block strategy: %s\n", block.Title())
	fmt.Fprintf(&sb, "Timeout: %d\n", job.TimeoutSeconds)
	fmt.Fprintf(&sb, "Fail retry count: %d\n", retryCount)
	sb.WriteString("----------- Trigger result:\n")
	if routeRes.Msg != "" {
		sb.WriteString(routeRes.Msg)
		sb.WriteString("\n")
	}
	sb.WriteString(triggerRes.Msg)
	return sb.String()
}

// parseSharding 解析 index/total，非法时视为未分片
func parseSharding(s string) (int, int, bool) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 {
		return 0, 0, false
	}
	index, err1 := strconv.Atoi(parts[0])
	total, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || index < 0 || total < 1 {
		return 0, 0, false
	}
	return index, total, true
}

func splitAddressList(s string) []string {
	var res []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			res = append(res, part)
		}
	}
	return res
}
