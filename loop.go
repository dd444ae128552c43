package job_dispatcher

import (
	"context"
	"time"

	"github.com/TimeWtr/job_dispatcher/logger"
)

// runLoop 周期执行fn直到ctx取消，单次失败或panic只记录日志
func runLoop(ctx context.Context, l logger.Logger, name string, interval time.Duration,
	fn func(ctx context.Context) error) {
	for {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.Error(name+" panic", logger.Field{Key: "panic", Val: r})
				}
			}()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				l.Error("failed to run "+name, logger.Error(err))
			}
		}()
		if !sleepCtx(ctx, interval) {
			return
		}
	}
}
