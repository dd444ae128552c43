package executor

import (
	"context"
)

// Handler 执行器上的任务处理器
type Handler interface {
	// Execute 执行一次调度，返回的error会被记为执行失败
	Execute(ctx context.Context, jc *JobContext) error
}

// Initializer 任务线程启动时调用
type Initializer interface {
	Init(ctx context.Context) error
}

// Destroyer 任务线程销毁时调用
type Destroyer interface {
	Destroy(ctx context.Context) error
}

type HandlerFunc func(ctx context.Context, jc *JobContext) error

func (f HandlerFunc) Execute(ctx context.Context, jc *JobContext) error {
	return f(ctx, jc)
}

// LifecycleHandler 带生命周期钩子的处理器
type LifecycleHandler struct {
	Run       HandlerFunc
	OnInit    func(ctx context.Context) error
	OnDestroy func(ctx context.Context) error
}

func (h LifecycleHandler) Execute(ctx context.Context, jc *JobContext) error {
	return h.Run(ctx, jc)
}

func (h LifecycleHandler) Init(ctx context.Context) error {
	if h.OnInit == nil {
		return nil
	}
	return h.OnInit(ctx)
}

func (h LifecycleHandler) Destroy(ctx context.Context) error {
	if h.OnDestroy == nil {
		return nil
	}
	return h.OnDestroy(ctx)
}
