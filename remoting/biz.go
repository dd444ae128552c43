package remoting

import "context"

const (
	PathBeat     = "/beat"
	PathIdleBeat = "/idleBeat"
	PathRun      = "/run"
	PathKill     = "/kill"
	PathLog      = "/log"

	PathCallback       = "/api/callback"
	PathRegistry       = "/api/registry"
	PathRegistryRemove = "/api/registryRemove"
)

// ExecutorBiz 执行器对外提供的能力
type ExecutorBiz interface {
	Beat(ctx context.Context) ReturnT
	IdleBeat(ctx context.Context, param IdleBeatParam) ReturnT
	Run(ctx context.Context, param TriggerParam) ReturnT
	Kill(ctx context.Context, param KillParam) ReturnT
	Log(ctx context.Context, param LogParam) LogReturnT
}

// AdminBiz 调度中心对执行器提供的能力
type AdminBiz interface {
	Callback(ctx context.Context, params []HandleCallbackParam) ReturnT
	Registry(ctx context.Context, param RegistryParam) ReturnT
	RegistryRemove(ctx context.Context, param RegistryParam) ReturnT
}
