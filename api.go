package job_dispatcher

import (
	"context"

	"github.com/TimeWtr/job_dispatcher/remoting"
)

// adminBiz 调度中心对执行器暴露的RPC实现
type adminBiz struct {
	completer *Completer
	registry  *RegistryMonitor
}

var _ remoting.AdminBiz = (*adminBiz)(nil)

func (b *adminBiz) Callback(ctx context.Context, params []remoting.HandleCallbackParam) remoting.ReturnT {
	return b.completer.Callback(ctx, params)
}

func (b *adminBiz) Registry(ctx context.Context, param remoting.RegistryParam) remoting.ReturnT {
	return b.registry.Registry(ctx, param)
}

func (b *adminBiz) RegistryRemove(ctx context.Context, param remoting.RegistryParam) remoting.ReturnT {
	return b.registry.RegistryRemove(ctx, param)
}
