package executor

import (
	"context"
	"time"

	_const "github.com/TimeWtr/job_dispatcher/const"
	"github.com/TimeWtr/job_dispatcher/logger"
	"github.com/TimeWtr/job_dispatcher/remoting"
)

// registryThread 周期性向调度中心注册执行器地址，退出时摘除
type registryThread struct {
	admins   []remoting.AdminBiz
	param    remoting.RegistryParam
	interval time.Duration
	logger   logger.Logger
}

func newRegistryThread(admins []remoting.AdminBiz, appName, address string, l logger.Logger) *registryThread {
	return &registryThread{
		admins: admins,
		param: remoting.RegistryParam{
			RegistryGroup: string(_const.RegistryTypeExecutor),
			RegistryKey:   appName,
			RegistryValue: address,
		},
		interval: _const.BeatInterval,
		logger:   l,
	}
}

func (r *registryThread) run(ctx context.Context) {
	for {
		r.registry(ctx)
		timer := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			removeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
			r.remove(removeCtx)
			cancel()
			r.logger.Info("executor registry thread stopped")
			return
		case <-timer.C:
		}
	}
}

// registry 按顺序注册，有一个调度中心成功即可
func (r *registryThread) registry(ctx context.Context) {
	for _, admin := range r.admins {
		res := admin.Registry(ctx, r.param)
		if res.OK() {
			r.logger.Debug("registry success",
				logger.Field{Key: "appName", Val: r.param.RegistryKey},
				logger.Field{Key: "address", Val: r.param.RegistryValue})
			return
		}
		r.logger.Info("registry fail",
			logger.Field{Key: "appName", Val: r.param.RegistryKey},
			logger.Field{Key: "msg", Val: res.Msg})
	}
}

func (r *registryThread) remove(ctx context.Context) {
	for _, admin := range r.admins {
		res := admin.RegistryRemove(ctx, r.param)
		if res.OK() {
			r.logger.Info("registry remove success",
				logger.Field{Key: "appName", Val: r.param.RegistryKey},
				logger.Field{Key: "address", Val: r.param.RegistryValue})
			return
		}
		r.logger.Info("registry remove fail",
			logger.Field{Key: "appName", Val: r.param.RegistryKey},
			logger.Field{Key: "msg", Val: res.Msg})
	}
}
