package job_dispatcher

import (
	"context"
	"sort"
	"strings"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/logger"
	"github.com/TimeWtr/job_dispatcher/remoting"
	"github.com/TimeWtr/job_dispatcher/repository"
)

const MsgIllegalArgument = "Illegal Argument."

// RegistryMonitor 接收执行器心跳，并周期性清理失联节点、刷新自动注册分组的地址
type RegistryMonitor struct {
	store  repository.JobStore
	pool   *workerPool
	logger logger.Logger
	now    nowFunc
}

func NewRegistryMonitor(store repository.JobStore, l logger.Logger, now nowFunc) *RegistryMonitor {
	return &RegistryMonitor{
		store:  store,
		pool:   newWorkerPool("registry", 2, 10, 2000, l),
		logger: l,
		now:    now,
	}
}

func validRegistry(p remoting.RegistryParam) bool {
	return strings.TrimSpace(p.RegistryGroup) != "" &&
		strings.TrimSpace(p.RegistryKey) != "" &&
		strings.TrimSpace(p.RegistryValue) != ""
}

func (m *RegistryMonitor) Registry(ctx context.Context, p remoting.RegistryParam) remoting.ReturnT {
	if !validRegistry(p) {
		return remoting.Fail(MsgIllegalArgument)
	}
	ctx = context.WithoutCancel(ctx)
	err := m.pool.Submit(func() {
		err := m.store.RegistryUpsert(ctx, _const.RegistryType(p.RegistryGroup), p.RegistryKey, p.RegistryValue, m.now())
		if err != nil {
			m.logger.Error("failed to save registry",
				logger.Field{Key: "key", Val: p.RegistryKey},
				logger.Field{Key: "value", Val: p.RegistryValue}, logger.Error(err))
		}
	})
	if err != nil {
		return remoting.Fail(err.Error())
	}
	return remoting.Success()
}

func (m *RegistryMonitor) RegistryRemove(ctx context.Context, p remoting.RegistryParam) remoting.ReturnT {
	if !validRegistry(p) {
		return remoting.Fail(MsgIllegalArgument)
	}
	ctx = context.WithoutCancel(ctx)
	err := m.pool.Submit(func() {
		err := m.store.RegistryDelete(ctx, _const.RegistryType(p.RegistryGroup), p.RegistryKey, p.RegistryValue)
		if err != nil {
			m.logger.Error("failed to remove registry",
				logger.Field{Key: "key", Val: p.RegistryKey},
				logger.Field{Key: "value", Val: p.RegistryValue}, logger.Error(err))
		}
	})
	if err != nil {
		return remoting.Fail(err.Error())
	}
	return remoting.Success()
}

func (m *RegistryMonitor) Run(ctx context.Context) {
	runLoop(ctx, m.logger, "registry monitor", _const.BeatInterval, m.SweepOnce)
}

// SweepOnce 删除超时注册，按AppName重建自动注册分组的地址列表
func (m *RegistryMonitor) SweepOnce(ctx context.Context) error {
	groups, err := m.store.FindGroupsByAddressType(ctx, _const.AddressTypeAuto)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		return nil
	}

	now := m.now()
	dead, err := m.store.FindDeadRegistrations(ctx, _const.DeadTimeout, now)
	if err != nil {
		return err
	}
	if err = m.store.RemoveRegistrations(ctx, dead); err != nil {
		return err
	}

	live, err := m.store.FindLiveRegistrations(ctx, _const.DeadTimeout, now)
	if err != nil {
		return err
	}
	appAddresses := make(map[string]map[string]struct{})
	for _, r := range live {
		if r.Group != _const.RegistryTypeExecutor {
			continue
		}
		set, ok := appAddresses[r.Key]
		if !ok {
			set = make(map[string]struct{})
			appAddresses[r.Key] = set
		}
		set[r.Value] = struct{}{}
	}

	for _, g := range groups {
		addresses := make([]string, 0, len(appAddresses[g.AppName]))
		for addr := range appAddresses[g.AppName] {
			addresses = append(addresses, addr)
		}
		sort.Strings(addresses)
		if err = m.store.UpdateGroupAddressList(ctx, g.ID, addresses, now); err != nil {
			m.logger.Error("failed to refresh group address list",
				logger.Field{Key: "appName", Val: g.AppName}, logger.Error(err))
		}
	}
	return nil
}

func (m *RegistryMonitor) Stop(ctx context.Context) error {
	return m.pool.Stop(ctx)
}
